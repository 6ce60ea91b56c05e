package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newJWKSServer(t *testing.T, key *rsa.PublicKey, kid string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":   srv.URL + "/",
			"jwks_uri": srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestTokenVerifierValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, &key.PublicKey, "k1")
	issuer := srv.URL + "/"

	v := NewTokenVerifier(issuer, "https://mnemo.example/mcp")
	token := signToken(t, key, "k1", jwt.MapClaims{
		"iss": issuer,
		"aud": "https://mnemo.example/mcp",
		"sub": "auth0|alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	subject, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "auth0|alice" {
		t.Errorf("subject = %q", subject)
	}
}

func TestTokenVerifierClaimChecks(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, &key.PublicKey, "k1")
	issuer := srv.URL + "/"
	aud := "https://mnemo.example/mcp"

	cases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"expired", jwt.MapClaims{
			"iss": issuer, "aud": aud, "sub": "s",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}},
		{"missing exp", jwt.MapClaims{
			"iss": issuer, "aud": aud, "sub": "s",
		}},
		{"wrong audience", jwt.MapClaims{
			"iss": issuer, "aud": "https://other.example/", "sub": "s",
			"exp": time.Now().Add(time.Hour).Unix(),
		}},
		{"wrong issuer", jwt.MapClaims{
			"iss": "https://evil.example/", "aud": aud, "sub": "s",
			"exp": time.Now().Add(time.Hour).Unix(),
		}},
	}

	v := NewTokenVerifier(issuer, aud)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := signToken(t, key, "k1", tc.claims)
			if _, err := v.Verify(context.Background(), token); err == nil {
				t.Error("expected verification failure")
			}
		})
	}
}

func TestTokenVerifierUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, &key.PublicKey, "k1")
	issuer := srv.URL + "/"

	v := NewTokenVerifier(issuer, "aud")
	token := signToken(t, key, "k2", jwt.MapClaims{
		"iss": issuer, "aud": "aud", "sub": "s",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), token)
	if err == nil || !strings.Contains(err.Error(), "k2") {
		t.Fatalf("expected unknown-kid error, got %v", err)
	}
}

func TestTokenVerifierWrongKey(t *testing.T) {
	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	attackerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, &serverKey.PublicKey, "k1")
	issuer := srv.URL + "/"

	v := NewTokenVerifier(issuer, "aud")
	token := signToken(t, attackerKey, "k1", jwt.MapClaims{
		"iss": issuer, "aud": "aud", "sub": "s",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestParseRSAKeyRejectsBadExponent(t *testing.T) {
	n := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	if _, err := parseRSAKey(n, base64.RawURLEncoding.EncodeToString([]byte{0x01})); err == nil {
		t.Error("exponent 1 must be rejected")
	}
	if _, err := parseRSAKey("!!!", "AQAB"); err == nil {
		t.Error("bad modulus encoding must be rejected")
	}
}
