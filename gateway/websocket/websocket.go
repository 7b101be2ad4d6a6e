// Package websocket streams face events to browser clients over WebSocket.
// Every event emitted on the bus is fanned out to all connected clients as a
// JSON frame. The stream is one-way; inbound frames from clients are read
// only to detect disconnects.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/he-be/raspi-eye/errors"
	"github.com/he-be/raspi-eye/eventbus"
	"github.com/he-be/raspi-eye/metric"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Frame is one event as delivered to a WebSocket client.
type Frame struct {
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
}

// streamClient is one connected WebSocket client. Writes are serialized by
// wmu; close runs exactly once.
type streamClient struct {
	conn *websocket.Conn

	wmu  sync.Mutex
	once sync.Once
}

func (c *streamClient) write(frame Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(frame)
}

func (c *streamClient) ping() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *streamClient) close() {
	c.once.Do(func() {
		_ = c.conn.Close()
	})
}

// Gateway serves the WebSocket event stream.
type Gateway struct {
	host    string
	port    int
	path    string
	bus     *eventbus.Bus
	logger  *slog.Logger
	metrics *metric.Metrics

	upgrader websocket.Upgrader

	mu       sync.Mutex // protects clients, running, server
	clients  map[*streamClient]struct{}
	running  bool
	server   *http.Server
	listener net.Listener

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New creates a gateway that relays every bus event kind to its clients.
func New(host string, port int, path string, bus *eventbus.Bus, metrics *metric.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "/events"
	}
	return &Gateway{
		host:    host,
		port:    port,
		path:    path,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With("component", "wsgateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local control plane; the origin of a browser tab is not a
			// trust boundary here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:  make(map[*streamClient]struct{}),
		shutdown: make(chan struct{}),
	}
}

// ListenAddress returns the bound address once running.
func (g *Gateway) ListenAddress() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener != nil {
		return g.listener.Addr().String()
	}
	return net.JoinHostPort(g.host, fmt.Sprintf("%d", g.port))
}

// ClientCount returns the number of connected stream clients.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Start binds the HTTP listener, subscribes to the bus, and begins serving
// in the background.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "websocket gateway start")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(g.host, fmt.Sprintf("%d", g.port)))
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", "listen")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(g.path, g.handleUpgrade)

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	g.listener = listener
	g.server = server
	g.running = true
	g.shutdown = make(chan struct{})

	for _, kind := range eventbus.Kinds() {
		g.bus.Subscribe(kind, g.relay)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.Error("websocket server failed", "error", err)
		}
	}()

	g.logger.Info("websocket gateway started", "address", listener.Addr().String(), "path", g.path)
	return nil
}

// Stop unsubscribes from the bus, closes all clients, and shuts the HTTP
// server down. Idempotent.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	close(g.shutdown)
	server := g.server
	g.server = nil
	g.listener = nil

	clients := make([]*streamClient, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[*streamClient]struct{})
	g.mu.Unlock()

	for _, kind := range eventbus.Kinds() {
		g.bus.Unsubscribe(kind, g.relay)
	}

	for _, c := range clients {
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			_ = server.Close()
		}
	}
	g.wg.Wait()

	g.logger.Info("websocket gateway stopped")
	return nil
}

// relay is the bus subscriber fanning events out to clients. A failed write
// drops that one client; delivery to the rest continues.
func (g *Gateway) relay(event eventbus.Event) {
	frame := Frame{
		Event:     string(event.Kind),
		Payload:   event.Payload,
		Timestamp: event.Timestamp.UnixMilli(),
	}

	g.mu.Lock()
	clients := make([]*streamClient, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		if err := c.write(frame); err != nil {
			g.logger.Warn("stream write failed, dropping client",
				"remote", c.conn.RemoteAddr().String(), "error", err)
			g.metrics.RecordBroadcastFailure()
			g.removeClient(c)
		}
	}
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &streamClient{conn: conn}

	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		c.close()
		return
	}
	g.clients[c] = struct{}{}
	count := len(g.clients)
	g.mu.Unlock()

	g.logger.Info("stream client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	g.wg.Add(2)
	go g.readLoop(c)
	go g.pingLoop(c)
}

// readLoop drains inbound frames so pong handling works and disconnects are
// noticed promptly.
func (g *Gateway) readLoop(c *streamClient) {
	defer g.wg.Done()
	defer g.removeClient(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps idle connections alive and detects half-open ones.
func (g *Gateway) pingLoop(c *streamClient) {
	defer g.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.shutdown:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				g.removeClient(c)
				return
			}
		}
	}
}

func (g *Gateway) removeClient(c *streamClient) {
	g.mu.Lock()
	_, present := g.clients[c]
	delete(g.clients, c)
	count := len(g.clients)
	g.mu.Unlock()

	c.close()
	if present {
		g.logger.Info("stream client disconnected", "remote", c.conn.RemoteAddr().String(), "clients", count)
	}
}
