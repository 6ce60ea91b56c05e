// Package auth resolves caller identity for every request. Two paths are
// accepted: a trusted backend key for server-to-server traffic, where the
// caller asserts the user via header, and OAuth bearer tokens verified
// against the configured OIDC issuer. The backend key path is checked
// first and, when the key matches, OAuth never runs.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keepcontext/mnemo/core"
)

var (
	// ErrNoIdentity means no usable credentials were presented.
	ErrNoIdentity = errors.New("auth: no identity")

	// ErrMissingUserHeader means the backend key matched but the
	// X-User-Id header was absent. The caller's request is malformed,
	// not unauthorized.
	ErrMissingUserHeader = errors.New("auth: backend key requires X-User-Id header")

	// ErrInvalidToken means a bearer token was presented but failed
	// verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Headers carries the credential-bearing request headers.
type Headers struct {
	Authorization string // Authorization: Bearer <token>
	BackendKey    string // X-Backend-Key
	UserID        string // X-User-Id, only honored with a valid backend key
}

// Verifier checks a bearer token and returns its subject.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Gate is the identity gate. A zero backend key disables the trusted
// path entirely; a nil verifier disables bearer auth.
type Gate struct {
	backendKey string
	verifier   Verifier
}

// NewGate creates a gate with the given trusted key and token verifier.
func NewGate(backendKey string, verifier Verifier) *Gate {
	return &Gate{backendKey: backendKey, verifier: verifier}
}

// Resolve determines the caller identity from request headers.
//
// A presented backend key that does not match the configured key falls
// through to bearer auth rather than failing, so a stale key plus a valid
// token still authenticates.
func (g *Gate) Resolve(ctx context.Context, h Headers) (core.Identity, error) {
	if g.backendKey != "" && h.BackendKey != "" {
		if subtle.ConstantTimeCompare([]byte(h.BackendKey), []byte(g.backendKey)) == 1 {
			if h.UserID == "" {
				slog.Warn("backend key auth missing user header")
				return core.Identity{}, ErrMissingUserHeader
			}
			return core.Identity{UserID: h.UserID, Method: core.AuthBackendKey}, nil
		}
	}

	token, ok := bearerToken(h.Authorization)
	if !ok {
		return core.Identity{}, ErrNoIdentity
	}
	if g.verifier == nil {
		return core.Identity{}, ErrNoIdentity
	}
	subject, err := g.verifier.Verify(ctx, token)
	if err != nil {
		slog.Warn("bearer verification failed", "err", err)
		return core.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if subject == "" {
		return core.Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return core.Identity{UserID: subject, Method: core.AuthBearer}, nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
