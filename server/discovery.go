package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

var dcrClient = &http.Client{Timeout: 10 * time.Second}

// protectedResourceMetadata serves RFC 9728 metadata pointing at the
// configured authorization server.
func (s *Server) protectedResourceMetadata(c *fiber.Ctx) error {
	if s.cfg.OIDCAudience == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "oauth_not_configured"})
	}
	var servers []string
	if s.cfg.OIDCIssuer != "" {
		servers = []string{s.cfg.OIDCIssuer}
	}
	return c.JSON(fiber.Map{
		"resource":                 s.cfg.OIDCAudience,
		"authorization_servers":    servers,
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         []string{"mcp:read", "mcp:write"},
		"default_scopes":           []string{"mcp:read"},
	})
}

// openidConfiguration surfaces a minimal OpenID configuration delegating
// everything to the upstream issuer.
func (s *Server) openidConfiguration(c *fiber.Ctx) error {
	issuer := s.cfg.OIDCIssuer
	if issuer == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "oauth_not_configured"})
	}
	return c.JSON(fiber.Map{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "authorize",
		"token_endpoint":         issuer + "oauth/token",
		"jwks_uri":               issuer + ".well-known/jwks.json",
		"registration_endpoint":  issuer + "oidc/register",
	})
}

// registerClient proxies Dynamic Client Registration to the issuer. The
// response body and status pass through; upstream transport failures map
// to 502.
func (s *Server) registerClient(c *fiber.Ctx) error {
	issuer := s.cfg.OIDCIssuer
	if issuer == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "oauth_not_configured"})
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":             "invalid_request",
			"error_description": "Body must be valid JSON",
		})
	}
	slog.Info("forwarding client registration", "client_name", payload["client_name"])

	req, err := http.NewRequestWithContext(c.Context(), http.MethodPost, issuer+"oidc/register", bytes.NewReader(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "server_error"})
	}
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := dcrClient.Do(req)
	if err != nil {
		slog.Error("client registration proxy failed", "err", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":             "server_error",
			"error_description": "Failed to register client",
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "server_error"})
	}

	contentType := resp.Header.Get(fiber.HeaderContentType)
	if contentType == "" || !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
		contentType = fiber.MIMETextPlain
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Status(resp.StatusCode).Send(body)
}

// tokenRedirect tells clients the issuer hosts the token endpoint.
func (s *Server) tokenRedirect(c *fiber.Ctx) error {
	var endpoint interface{}
	if s.cfg.OIDCIssuer != "" {
		endpoint = s.cfg.OIDCIssuer + "oauth/token"
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":          "use_authorization_server",
		"message":        "Token endpoint handled by the authorization server",
		"token_endpoint": endpoint,
	})
}
