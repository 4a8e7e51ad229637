package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"campuschat/pkg/auth"
	"campuschat/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxWSFrame = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by the gateway middleware before upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterWS registers the per-thread WebSocket route.
func (a *API) RegisterWS(r *mux.Router) {
	r.HandleFunc("/threads/{threadID}/ws", a.serveWS).Methods(http.MethodGet)
}

// wsClientFrame is what a connected client may send: typing updates travel
// over the socket so a keystroke burst does not pay an HTTP round trip.
type wsClientFrame struct {
	Typing *bool `json:"typing,omitempty"`
}

// serveWS bridges a thread's fan-out subscription onto a WebSocket
// connection. History is not replayed here; clients hydrate through the
// message listing before or concurrently with connecting, and after any
// reconnect, deduplicating by message id.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	userID := auth.UserID(r.Context())

	sub, err := a.Svc.Subscribe(r.Context(), threadID, userID, a.Buffer)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		logger.Warn("ws_upgrade_failed", "thread", threadID, "error", err)
		return
	}
	logger.Debug("ws_connected", "thread", threadID, "user", userID)

	done := make(chan struct{})

	// writer: fan-out events and pings
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case ev, ok := <-sub.C():
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					// hub dropped us (lagging) or the reader closed the
					// subscription; tell the client to reconcile
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseServiceRestart, "resubscribe"))
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// reader: typing frames and pong handling, on the request goroutine
	conn.SetReadLimit(maxWSFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "thread", threadID, "user", userID, "error", err)
			}
			break
		}
		if frame.Typing != nil {
			_ = a.Svc.SetTyping(r.Context(), threadID, userID, *frame.Typing)
		}
	}

	// releasing the handle is this goroutine's job on every exit path;
	// clearing typing on disconnect is a courtesy
	close(done)
	sub.Close()
	_ = a.Svc.SetTyping(r.Context(), threadID, userID, false)
	_ = conn.Close()
	logger.Debug("ws_disconnected", "thread", threadID, "user", userID)
}
