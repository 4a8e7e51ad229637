package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"campuschat/pkg/api"
	"campuschat/pkg/api/handlers"
	"campuschat/pkg/chat"
	"campuschat/pkg/config"
	"campuschat/pkg/directory"
	"campuschat/pkg/fanout"
	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
	"campuschat/pkg/typing"
)

// SigningSecret is the HMAC secret installed by SetupServer.
const SigningSecret = "signsecret"

// Env bundles the wired components behind a running test server.
type Env struct {
	Srv     *httptest.Server
	Store   *store.Store
	Hub     *fanout.Hub
	Tracker *typing.Tracker
	Svc     *chat.Service
	Dir     *directory.Directory
}

// SetupServer wires a full chat stack over a temp database and returns it
// behind a loopback HTTP server. The gateway middleware is not installed;
// these tests exercise the signed-identity layer and the API surface.
func SetupServer(t *testing.T) *Env {
	t.Helper()
	logger.Init("error")

	st, err := store.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{},
		SigningKeys: map[string]struct{}{SigningSecret: {}},
	})

	hub := fanout.NewHub()
	tracker := typing.New(typing.DefaultWindow, func(ts models.TypingState) {
		hub.Publish(ts.Thread, models.Event{Type: models.EventTyping, Thread: ts.Thread, Typing: &ts})
	})
	svc := chat.New(st, hub, tracker.Set)
	dir := directory.New(st)

	h := api.Handler(&handlers.API{Svc: svc, Dir: dir, PageSize: 50, Buffer: 16})

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen tcp4: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)

	return &Env{Srv: srv, Store: st, Hub: hub, Tracker: tracker, Svc: svc, Dir: dir}
}

// SignHMAC returns hex HMAC-SHA256 of user using key.
func SignHMAC(key, user string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(user))
	return hex.EncodeToString(mac.Sum(nil))
}

// AddIdentity sets the signed identity headers on req.
func AddIdentity(req *http.Request, user string) {
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Signature", SignHMAC(SigningSecret, user))
}
