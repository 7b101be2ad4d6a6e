package command

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/he-be/raspi-eye/errors"
	"github.com/he-be/raspi-eye/eventbus"
	"github.com/he-be/raspi-eye/metric"
)

// defaultMaxLine bounds a single request line when no buffer size is
// configured.
const defaultMaxLine = 64 * 1024

// Server accepts TCP clients speaking the line-delimited JSON protocol.
// Each connection is served by its own goroutine; command processing per
// connection is strictly sequential while different connections interleave
// freely. The server owns the connection set; command handlers never touch
// it.
type Server struct {
	host    string
	port    int
	maxLine int
	bus     *eventbus.Bus
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.Mutex // protects listener, running, clients, handlers
	listener net.Listener
	running  bool
	shutdown chan struct{}
	clients  map[*client]struct{}
	handlers map[string]HandlerFunc

	wg sync.WaitGroup
}

// client is one connected command client. Writes are serialized by wmu so a
// broadcast never interleaves with a response; close runs exactly once
// regardless of which path (EOF, write failure, server stop) triggers it.
type client struct {
	conn net.Conn

	wmu  sync.Mutex
	enc  *json.Encoder
	once sync.Once
}

func newClient(conn net.Conn) *client {
	return &client{conn: conn, enc: json.NewEncoder(conn)}
}

// write sends one JSON value followed by a newline.
func (c *client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(v)
}

func (c *client) close() {
	c.once.Do(func() {
		_ = c.conn.Close()
	})
}

// NewServer creates a command server publishing inbound commands on bus.
// maxLine bounds a single request line; zero selects the default. The
// built-in command set is registered immediately.
func NewServer(host string, port, maxLine int, bus *eventbus.Bus, metrics *metric.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}
	s := &Server{
		host:     host,
		port:     port,
		maxLine:  maxLine,
		bus:      bus,
		metrics:  metrics,
		logger:   logger.With("component", "commandserver"),
		shutdown: make(chan struct{}),
		clients:  make(map[*client]struct{}),
		handlers: make(map[string]HandlerFunc),
	}
	s.registerBuiltins()
	return s
}

// Address returns the host:port the server was configured with.
func (s *Server) Address() string {
	return net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
}

// ListenAddress returns the bound address once running, otherwise the
// configured address. Useful when the server was started on port 0.
func (s *Server) ListenAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ClientCount returns the number of currently open connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Start binds the listening socket and begins accepting connections in the
// background. A bind failure is fatal to the server but the caller decides
// whether the rest of the application continues without it.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "command server start")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen")
	}

	s.listener = listener
	s.running = true
	s.shutdown = make(chan struct{})

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.logger.Info("command server started", "address", listener.Addr().String())
	return nil
}

// Stop stops accepting connections, lets in-flight requests finish, and
// closes all client connections. Idempotent.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	listener := s.listener
	s.listener = nil

	// Wake idle readers; a connection mid-request finishes its handler
	// and writes its response before the next read observes the deadline.
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	now := time.Now()
	for _, c := range clients {
		_ = c.conn.SetReadDeadline(now)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		// Force-close stragglers and wait for their goroutines.
		for _, c := range clients {
			c.close()
		}
		<-done
	}

	s.logger.Info("command server stopped")
	return nil
}

// acceptLoop admits connections until the listener closes.
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		c := newClient(conn)
		s.mu.Lock()
		s.clients[c] = struct{}{}
		count := len(s.clients)
		s.mu.Unlock()
		s.metrics.SetClients(count)
		s.logger.Info("client connected", "remote", conn.RemoteAddr().String(), "clients", count)

		s.wg.Add(1)
		go s.serveClient(c)
	}
}

// serveClient runs the per-connection request loop: one line in, one
// response out, strictly in order. Protocol errors are reported to the
// client and never close the connection; only EOF, a read/write failure or
// server shutdown ends the loop.
func (s *Server) serveClient(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), s.maxLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(line)
		if err := c.write(resp); err != nil {
			s.logger.Warn("response write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			return
		}

		select {
		case <-s.shutdown:
			return
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.shutdown:
			// Read deadline from Stop; expected.
		default:
			s.logger.Warn("client read failed", "remote", c.conn.RemoteAddr().String(), "error", err)
		}
	}
}

// removeClient drops the connection from the active set and closes it.
// Safe to call from any cleanup path; the close itself runs exactly once.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()

	c.close()
	if present {
		s.metrics.SetClients(count)
		s.logger.Info("client disconnected", "remote", c.conn.RemoteAddr().String(), "clients", count)
	}
}

// dispatch decodes one request line and routes it to its handler.
func (s *Server) dispatch(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.metrics.RecordCommand("invalid", "error")
		return errorResponse(ErrInvalidJSON, fmt.Sprintf("malformed JSON: %v", err))
	}

	name, ok := req["command"].(string)
	if !ok || name == "" {
		s.metrics.RecordCommand("missing", "error")
		return errorResponse(ErrMissingCommand, "no command specified")
	}

	s.mu.Lock()
	handler, ok := s.handlers[name]
	s.mu.Unlock()
	if !ok {
		s.metrics.RecordCommand(name, "error")
		return errorResponse(ErrUnknownCommand, fmt.Sprintf("unknown command: %s", name))
	}

	resp, err := s.callHandler(handler, req)
	if err != nil {
		s.metrics.RecordCommand(name, "error")
		return errorResponse(ErrHandlerError, err.Error())
	}
	if _, isErr := resp["error"]; isErr {
		s.metrics.RecordCommand(name, "error")
	} else {
		s.metrics.RecordCommand(name, "success")
	}
	return resp
}

// callHandler invokes a handler with panic isolation so one misbehaving
// handler cannot take down the connection, let alone the server.
func (s *Server) callHandler(handler HandlerFunc, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command handler panicked", "command", req.Command(), "panic", r)
			resp = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(req)
}

// AddHandler registers a custom command handler, replacing any existing
// handler with the same name.
func (s *Server) AddHandler(name string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
	s.logger.Info("command handler added", "command", name)
}

// RemoveHandler removes a command handler by name.
func (s *Server) RemoveHandler(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[name]; ok {
		delete(s.handlers, name)
		s.logger.Info("command handler removed", "command", name)
	}
}

// Broadcast sends message to every currently open connection. Delivery is
// best effort: a failed write drops that one connection without aborting
// delivery to the others, and the call never fails to the caller.
func (s *Server) Broadcast(message map[string]any) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.write(message); err != nil {
			s.logger.Warn("broadcast write failed, dropping client",
				"remote", c.conn.RemoteAddr().String(), "error", err)
			s.metrics.RecordBroadcastFailure()
			s.removeClient(c)
		}
	}
}
