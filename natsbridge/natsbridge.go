// Package natsbridge mirrors bus events onto NATS subjects so other systems
// on the network can observe the face without opening a TCP session. The
// bridge is strictly one-way and best effort: it never feeds messages back
// into the bus, and a NATS outage never affects local behavior.
package natsbridge

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/he-be/raspi-eye/errors"
	"github.com/he-be/raspi-eye/eventbus"
)

const (
	defaultSubjectPrefix = "face.events"
	connectTimeout       = 5 * time.Second
	reconnectWait        = 2 * time.Second
	drainTimeout         = 5 * time.Second
)

// Bridge relays every bus event to <prefix>.<kind> as a JSON message.
type Bridge struct {
	urls   []string
	prefix string
	name   string
	bus    *eventbus.Bus
	logger *slog.Logger

	mu      sync.Mutex // protects conn, running
	conn    *nats.Conn
	running bool
}

// New creates a bridge. It does not connect; call Start.
func New(urls []string, prefix, name string, bus *eventbus.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Bridge{
		urls:   urls,
		prefix: prefix,
		name:   name,
		bus:    bus,
		logger: logger.With("component", "natsbridge"),
	}
}

// IsConnected reports whether the underlying NATS connection is up.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Start connects to NATS and subscribes the relay to every event kind.
// Connection loss after a successful start is handled by the client's
// reconnect loop; events emitted while disconnected are dropped.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "nats bridge start")
	}
	if len(b.urls) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Start", "nats urls")
	}

	opts := []nats.Option{
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if b.name != "" {
		opts = append(opts, nats.Name(b.name))
	}

	conn, err := nats.Connect(joinURLs(b.urls), opts...)
	if err != nil {
		return errors.WrapTransient(err, "Bridge", "Start", "connect to nats")
	}

	b.conn = conn
	b.running = true

	for _, kind := range eventbus.Kinds() {
		b.bus.Subscribe(kind, b.relay)
	}

	b.logger.Info("nats bridge started", "url", conn.ConnectedUrl(), "prefix", b.prefix)
	return nil
}

// Stop unsubscribes from the bus and drains the connection so published
// events in flight are flushed. Idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	for _, kind := range eventbus.Kinds() {
		b.bus.Unsubscribe(kind, b.relay)
	}

	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}

	b.logger.Info("nats bridge stopped")
	return nil
}

// relay publishes one bus event. Failures are logged and dropped; the bus
// must never block or fail because the mirror is down.
func (b *Bridge) relay(event eventbus.Event) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(map[string]any{
		"event":     string(event.Kind),
		"payload":   event.Payload,
		"timestamp": event.Timestamp.UnixMilli(),
	})
	if err != nil {
		b.logger.Warn("event marshal failed", "kind", string(event.Kind), "error", err)
		return
	}

	subject := b.prefix + "." + string(event.Kind)
	if err := conn.Publish(subject, data); err != nil {
		b.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// joinURLs renders a server list in the comma form nats.Connect accepts.
func joinURLs(urls []string) string {
	out := urls[0]
	for _, u := range urls[1:] {
		out += "," + u
	}
	return out
}
