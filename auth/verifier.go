package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyRefreshInterval = 15 * time.Minute

// TokenVerifier validates RS256 bearer tokens against an OIDC issuer.
// The jwks_uri is discovered from the issuer's openid-configuration and
// signing keys are cached, refreshing on interval or on an unknown kid.
type TokenVerifier struct {
	issuer   string
	audience string
	client   *http.Client

	mu        sync.Mutex
	jwksURI   string
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewTokenVerifier creates a verifier for the given issuer and audience.
// The issuer must carry its trailing slash exactly as it appears in
// tokens.
func NewTokenVerifier(issuer, audience string) *TokenVerifier {
	return &TokenVerifier{
		issuer:   issuer,
		audience: audience,
		client:   &http.Client{Timeout: 10 * time.Second},
		keys:     map[string]*rsa.PublicKey{},
	}
}

// Verify parses and validates the token, returning the subject claim.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.signingKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read subject: %w", err)
	}
	return subject, nil
}

// signingKey returns the cached key for kid, refreshing the JWKS when the
// cache is stale or the kid is unknown.
func (v *TokenVerifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < keyRefreshInterval {
		return key, nil
	}
	if err := v.refreshLocked(ctx); err != nil {
		// Serve a stale key over failing outright when the issuer is down.
		if key, ok := v.keys[kid]; ok {
			slog.Warn("serving stale signing key", "kid", kid, "err", err)
			return key, nil
		}
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (v *TokenVerifier) refreshLocked(ctx context.Context) error {
	if v.jwksURI == "" {
		uri, err := v.discoverJWKS(ctx)
		if err != nil {
			return err
		}
		v.jwksURI = uri
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := v.getJSON(ctx, v.jwksURI, &jwks); err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(k.N, k.E)
		if err != nil {
			slog.Warn("skipping unparsable jwk", "kid", k.Kid, "err", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks at %s has no usable RSA keys", v.jwksURI)
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	slog.Info("refreshed signing keys", "count", len(keys), "issuer", v.issuer)
	return nil
}

func (v *TokenVerifier) discoverJWKS(ctx context.Context) (string, error) {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	url := v.issuer + ".well-known/openid-configuration"
	if err := v.getJSON(ctx, url, &doc); err != nil {
		return "", fmt.Errorf("oidc discovery: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("oidc discovery: issuer %s advertises no jwks_uri", v.issuer)
	}
	return doc.JWKSURI, nil
}

func (v *TokenVerifier) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: http %d", url, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := 0
	for _, b := range eb {
		exp = exp<<8 | int(b)
	}
	if exp <= 1 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}
