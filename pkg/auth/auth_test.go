package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"campuschat/pkg/config"
)

func sign(key, user string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(user))
	return hex.EncodeToString(mac.Sum(nil))
}

func setSigningKeys(keys ...string) {
	rc := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range keys {
		rc.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(rc)
}

func TestVerifySignature(t *testing.T) {
	setSigningKeys("secret-a", "secret-b")
	if !VerifySignature("alice", sign("secret-a", "alice")) {
		t.Fatal("valid signature with first key rejected")
	}
	if !VerifySignature("alice", sign("secret-b", "alice")) {
		t.Fatal("valid signature with second key rejected")
	}
	if VerifySignature("alice", sign("wrong", "alice")) {
		t.Fatal("forged signature accepted")
	}
	if VerifySignature("bob", sign("secret-a", "alice")) {
		t.Fatal("signature accepted for the wrong user")
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserID(r.Context())))
	})
}

func TestRequireSignedUser(t *testing.T) {
	setSigningKeys("secret")
	h := RequireSignedUser(echoUser())

	// valid headers pass and the context carries the verified id
	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", sign("secret", "alice"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "alice" {
		t.Fatalf("signed request: %d %q", rr.Code, rr.Body.String())
	}

	// query fallback used by websocket clients
	req = httptest.NewRequest(http.MethodGet, "/v1/threads/t1/ws?user=bob&sig="+sign("secret", "bob"), nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "bob" {
		t.Fatalf("query fallback: %d %q", rr.Code, rr.Body.String())
	}

	// missing credentials
	req = httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request: %d", rr.Code)
	}

	// bad signature
	req = httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", "deadbeef")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged request: %d", rr.Code)
	}

	// backend role may assert identity without a signature
	req = httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", "carol")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "carol" {
		t.Fatalf("backend trust path: %d %q", rr.Code, rr.Body.String())
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGatewayAPIKeyRoles(t *testing.T) {
	cfg := SecConfig{
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
		AdminKeys:    map[string]struct{}{"ak": {}},
	}
	h := AuthenticateRequestMiddleware(cfg)(okHandler())

	cases := []struct {
		name   string
		key    string
		path   string
		status int
	}{
		{"no key", "", "/v1/threads", http.StatusUnauthorized},
		{"unknown key", "nope", "/v1/threads", http.StatusUnauthorized},
		{"frontend on chat surface", "fk", "/v1/threads", http.StatusOK},
		{"frontend on messages", "fk", "/v1/messages/m1/seen", http.StatusOK},
		{"frontend on metrics", "fk", "/metrics", http.StatusForbidden},
		{"backend anywhere", "bk", "/metrics", http.StatusOK},
		{"admin anywhere", "ak", "/metrics", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.key != "" {
			req.Header.Set("Authorization", "Bearer "+tc.key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: got %d, want %d", tc.name, rr.Code, tc.status)
		}
	}
}

func TestGatewayAllowsUnauthenticatedProbes(t *testing.T) {
	h := AuthenticateRequestMiddleware(SecConfig{})(okHandler())
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("probe %s: %d", path, rr.Code)
		}
	}
}

func TestGatewayIPWhitelist(t *testing.T) {
	cfg := SecConfig{
		IPWhitelist: []string{"10.0.0.1"},
		BackendKeys: map[string]struct{}{"bk": {}},
	}
	h := AuthenticateRequestMiddleware(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	req.Header.Set("Authorization", "Bearer bk")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-whitelisted ip: %d", rr.Code)
	}

	req.RemoteAddr = "10.0.0.1:5000"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("whitelisted ip: %d", rr.Code)
	}
}

func TestGatewayCORSPreflight(t *testing.T) {
	cfg := SecConfig{AllowedOrigins: []string{"https://app.example.edu"}}
	h := AuthenticateRequestMiddleware(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/threads", nil)
	req.Header.Set("Origin", "https://app.example.edu")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.edu" {
		t.Fatalf("allow-origin header: %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	// disallowed origins get no CORS headers
	req = httptest.NewRequest(http.MethodOptions, "/v1/threads", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("CORS headers leaked to disallowed origin")
	}
}

func TestGatewayRateLimit(t *testing.T) {
	cfg := SecConfig{
		RPS:         1,
		Burst:       2,
		BackendKeys: map[string]struct{}{"bk": {}},
	}
	h := AuthenticateRequestMiddleware(cfg)(okHandler())

	var limited bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
		req.Header.Set("Authorization", "Bearer bk")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}

func TestLimiterPoolConfiguredAndDefaultLimits(t *testing.T) {
	p := newLimiterPool(SecConfig{RPS: 1, Burst: 1})
	if !p.Allow("k") {
		t.Fatal("first request within burst denied")
	}
	if p.Allow("k") {
		t.Fatal("second request exceeded burst=1 but was allowed")
	}
	// buckets are per key
	if !p.Allow("other") {
		t.Fatal("fresh key shares another key's bucket")
	}

	d := newLimiterPool(SecConfig{})
	if d.limit != rate.Limit(DefaultRPS) || d.burst != DefaultBurst {
		t.Fatalf("zero config resolved to limit=%v burst=%d", d.limit, d.burst)
	}
}
