// Package relay mirrors fan-out events onto a NATS subject per thread so
// that sibling instances (or other backends) can observe chat traffic
// without a direct subscription to this process.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"campuschat/pkg/fanout"
	"campuschat/pkg/logger"
	"campuschat/pkg/models"
)

// Relay holds the NATS connection used to republish events.
type Relay struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the NATS server and returns a Relay. subjectPrefix defaults
// to "campuschat.threads" when empty.
func Connect(url, subjectPrefix string) (*Relay, error) {
	if subjectPrefix == "" {
		subjectPrefix = "campuschat.threads"
	}
	nc, err := nats.Connect(url,
		nats.Name("campuschat-relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("relay_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("relay_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", url, err)
	}
	return &Relay{nc: nc, prefix: subjectPrefix}, nil
}

// Attach installs the relay as the hub's event tap. Publish failures are
// logged and dropped; the bus is a mirror, not the source of truth.
func (r *Relay) Attach(hub *fanout.Hub) {
	hub.SetTap(func(threadID string, ev models.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("relay_marshal_failed", "thread", threadID, "error", err)
			return
		}
		if err := r.nc.Publish(r.subject(threadID), data); err != nil {
			logger.Warn("relay_publish_failed", "thread", threadID, "error", err)
		}
	})
}

func (r *Relay) subject(threadID string) string {
	return fmt.Sprintf("%s.%s", r.prefix, threadID)
}

// Close flushes pending publishes and closes the connection.
func (r *Relay) Close() {
	if r.nc == nil {
		return
	}
	_ = r.nc.Flush()
	r.nc.Close()
}
