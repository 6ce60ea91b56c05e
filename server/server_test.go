package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keepcontext/mnemo/auth"
	"github.com/keepcontext/mnemo/config"
	"github.com/keepcontext/mnemo/engine"
	"github.com/keepcontext/mnemo/memory"
	"github.com/keepcontext/mnemo/memory/embedder/mock"
	chromemindex "github.com/keepcontext/mnemo/memory/index/chromem"
	"github.com/keepcontext/mnemo/tools"
)

const testBackendKey = "test-backend-key"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo := memory.NewRepository(chromemindex.New("memories"), mock.New())
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg := &config.Config{
		Environment:       "test",
		TrustedBackendKey: testBackendKey,
		OIDCIssuer:        "https://issuer.example/",
		OIDCAudience:      "https://mnemo.example/mcp",
	}
	gate := auth.NewGate(cfg.TrustedBackendKey, nil)
	registry := tools.NewRegistry(repo, engine.NewRetriever(repo))
	return New(cfg, gate, registry)
}

func rpcBody(t *testing.T, method string, params interface{}) *bytes.Reader {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(raw)
}

func doMCP(t *testing.T, s *Server, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func authHeaders() map[string]string {
	return map[string]string{
		"X-Backend-Key": testBackendKey,
		"X-User-Id":     "alice",
	}
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" || body["service"] != "mnemo" {
		t.Errorf("body = %v", body)
	}
	if body["auth_provider"] != "https://issuer.example/" {
		t.Errorf("auth_provider = %v", body["auth_provider"])
	}
}

func TestMCPRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "tools/list", nil), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	if !strings.Contains(challenge, `resource_metadata="`) ||
		!strings.Contains(challenge, "/.well-known/oauth-protected-resource") {
		t.Errorf("WWW-Authenticate = %q", challenge)
	}
}

func TestBackendKeyWithoutUserHeader(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "tools/list", nil), map[string]string{
		"X-Backend-Key": testBackendKey,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error"] != "missing_user_id" {
		t.Errorf("body = %v", body)
	}
}

func TestMCPInitialize(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "initialize", nil), authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		JSONRPC string `json:"jsonrpc"`
		Result  struct {
			ProtocolVersion string `json:"protocolVersion"`
			ServerInfo      struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
			Capabilities map[string]interface{} `json:"capabilities"`
		} `json:"result"`
	}
	decodeJSON(t, resp, &body)
	if body.JSONRPC != "2.0" || body.Result.ProtocolVersion != "2024-11-05" {
		t.Errorf("body = %+v", body)
	}
	if body.Result.ServerInfo.Name != "mnemo" {
		t.Errorf("server name = %q", body.Result.ServerInfo.Name)
	}
	if _, ok := body.Result.Capabilities["tools"]; !ok {
		t.Error("missing tools capability")
	}
}

func TestMCPToolsList(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "tools/list", nil), authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Result.Tools) != 10 {
		t.Fatalf("got %d tools", len(body.Result.Tools))
	}
	names := map[string]bool{}
	for _, tool := range body.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"store_memory", "retrieve_context", "search", "fetch", "delete_memory"} {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}

func TestMCPToolCallRoundTrip(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "tools/call", map[string]interface{}{
		"name": "store_memory",
		"arguments": map[string]interface{}{
			"text":        "uses conventional commits",
			"memory_type": "core_identity",
			"scope":       "global",
			"entity":      "git-workflow",
		},
	}), authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	decodeJSON(t, resp, &body)
	if body.Result.IsError {
		t.Fatalf("tool errored: %+v", body.Result.Content)
	}
	if len(body.Result.Content) != 1 || body.Result.Content[0].Type != "text" {
		t.Fatalf("content = %+v", body.Result.Content)
	}
	if !strings.Contains(body.Result.Content[0].Text, `"status":"stored"`) {
		t.Errorf("text = %q", body.Result.Content[0].Text)
	}
}

func TestMCPToolCallErrorInBand(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "tools/call", map[string]interface{}{
		"name":      "no_such_tool",
		"arguments": map[string]interface{}{},
	}), authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	decodeJSON(t, resp, &body)
	if !body.Result.IsError || body.Result.Content[0].Text != "Unknown tool" {
		t.Errorf("result = %+v", body.Result)
	}
}

func TestMCPNotificationAccepted(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp := doMCP(t, s, bytes.NewReader(raw), authHeaders())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMCPParseError(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, strings.NewReader("{not json"), authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	if body.Error == nil || body.Error.Code != -32700 {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestMCPUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := doMCP(t, s, rpcBody(t, "resources/list", nil), authHeaders())
	var body struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	if body.Error == nil || body.Error.Code != -32601 {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestMCPGetNotAllowed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	for k, v := range authHeaders() {
		req.Header.Set(k, v)
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/.well-known/oauth-protected-resource",
		"/.well-known/oauth-protected-resource/mcp",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := s.App().Test(req, -1)
		if err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
		var body struct {
			Resource             string   `json:"resource"`
			AuthorizationServers []string `json:"authorization_servers"`
		}
		decodeJSON(t, resp, &body)
		if body.Resource != "https://mnemo.example/mcp" {
			t.Errorf("%s: resource = %q", path, body.Resource)
		}
		if len(body.AuthorizationServers) != 1 || body.AuthorizationServers[0] != "https://issuer.example/" {
			t.Errorf("%s: authorization_servers = %v", path, body.AuthorizationServers)
		}
	}
}

func TestProtectedResourceMetadataUnconfigured(t *testing.T) {
	s := newTestServer(t)
	s.cfg.OIDCAudience = ""
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTokenEndpointRedirectsToIssuer(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader("grant_type=authorization_code"))
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["error"] != "use_authorization_server" {
		t.Errorf("body = %v", body)
	}
	if body["token_endpoint"] != "https://issuer.example/oauth/token" {
		t.Errorf("token_endpoint = %v", body["token_endpoint"])
	}
}

func TestOptionsPreflightExempt(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://client.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("preflight must not require auth")
	}
}

func TestRegisterClientRejectsBadJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
