// Package server exposes the memory tools over HTTP: an MCP endpoint in
// JSON-RPC form (plain POST and WebSocket), OAuth discovery metadata, and
// operational endpoints. Every data route passes the identity gate; the
// exempt list covers health, metrics, and the OAuth bootstrap surface a
// client must reach before it has a token.
package server

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/keepcontext/mnemo/auth"
	"github.com/keepcontext/mnemo/config"
	"github.com/keepcontext/mnemo/core"
	"github.com/keepcontext/mnemo/tools"
)

const identityKey = "identity"

var exemptPaths = map[string]bool{
	"/health":      true,
	"/metrics":     true,
	"/register":    true,
	"/oauth/token": true,
}

// Server is the HTTP front end.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	gate     *auth.Gate
	registry *tools.Registry
}

// New assembles the fiber app with all routes and middleware.
func New(cfg *config.Config, gate *auth.Gate, registry *tools.Registry) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "mnemo",
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: cfg.Environment == "production",
	})

	s := &Server{app: app, cfg: cfg, gate: gate, registry: registry}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "*",
	}))

	prometheus := fiberprometheus.New("mnemo")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Use(s.advertiseMetadata)
	app.Use(s.guard)

	app.Get("/health", s.health)
	app.Post("/mcp", s.handleMCP)
	app.Get("/mcp", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusMethodNotAllowed)
	})

	app.Use("/mcp/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			// Locals set by the guard survive the upgrade.
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/mcp/ws", websocket.New(s.handleWS))

	app.Post("/register", s.registerClient)
	app.Options("/register", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/oauth/token", s.tokenRedirect)
	app.Post("/oauth/token", s.tokenRedirect)
	app.Get("/.well-known/oauth-protected-resource", s.protectedResourceMetadata)
	app.Get("/.well-known/oauth-protected-resource/mcp", s.protectedResourceMetadata)
	app.Get("/.well-known/openid-configuration", s.openidConfiguration)

	return s
}

// Listen blocks serving on addr.
func (s *Server) Listen(addr string) error {
	slog.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// guard resolves caller identity for protected routes. A matching backend
// key without a user header is a malformed request (400); everything else
// without credentials is 401.
func (s *Server) guard(c *fiber.Ctx) error {
	path := c.Path()
	if c.Method() == fiber.MethodOptions || exemptPaths[path] || strings.HasPrefix(path, "/.well-known") {
		return c.Next()
	}

	ident, err := s.gate.Resolve(c.Context(), auth.Headers{
		Authorization: c.Get(fiber.HeaderAuthorization),
		BackendKey:    c.Get("X-Backend-Key"),
		UserID:        c.Get("X-User-Id"),
	})
	switch {
	case errors.Is(err, auth.ErrMissingUserHeader):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":             "missing_user_id",
			"error_description": "X-User-Id header required with backend key auth",
		})
	case err != nil:
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Locals(identityKey, ident)
	return c.Next()
}

// advertiseMetadata decorates 401/403 responses with the RFC 9728
// resource metadata pointer so OAuth clients can discover the
// authorization server.
func (s *Server) advertiseMetadata(c *fiber.Ctx) error {
	err := c.Next()
	status := c.Response().StatusCode()
	if status == fiber.StatusUnauthorized || status == fiber.StatusForbidden {
		metadataURL := c.BaseURL() + "/.well-known/oauth-protected-resource"
		c.Set(fiber.HeaderWWWAuthenticate, `Bearer resource_metadata="`+metadataURL+`"`)
	}
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"service":       "mnemo",
		"auth":          "oauth2",
		"auth_provider": s.cfg.OIDCIssuer,
	})
}

func identityFrom(c *fiber.Ctx) core.Identity {
	if ident, ok := c.Locals(identityKey).(core.Identity); ok {
		return ident
	}
	return core.Identity{}
}
