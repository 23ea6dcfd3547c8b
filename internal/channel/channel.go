// Package channel implements the build host's notification endpoint: a
// websocket server that broadcasts reload events to every attached
// extension instance.
//
// Delivery is at-most-once. Each connection owns a small send queue; a
// broadcast that finds the queue full skips that connection for the event
// instead of blocking the build.
package channel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/extreload/internal/protocol"
	"github.com/hupe1980/extreload/internal/version"
)

// Defaults for Options.
const (
	DefaultHost      = "localhost"
	DefaultPort      = 35729
	DefaultQueueSize = 16

	writeTimeout = 10 * time.Second
)

// Options configures the channel endpoint.
type Options struct {
	// Host and Port select the listen address. Port 0 picks a free port.
	Host string
	Port int

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// QueueSize bounds the per-connection send queue.
	QueueSize int

	// Routes registers additional HTTP routes next to the websocket
	// endpoint.
	Routes func(r chi.Router)

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// TLS reports whether the options select an encrypted transport.
func (o Options) TLS() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

// Address returns host:port.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Channel owns at most one running Server.
type Channel struct {
	opts Options

	mu     sync.Mutex
	server *Server
}

// New creates an inactive channel.
func New(opts Options) *Channel {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Channel{opts: opts}
}

// Start binds the endpoint and begins accepting connections. Calling Start
// while a server is active returns that server. Bind and TLS errors are
// returned. The server shuts down when ctx is cancelled.
func (c *Channel) Start(ctx context.Context) (*Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil && !c.server.Closed() {
		return c.server, nil
	}

	srv, err := listen(ctx, c.opts)
	if err != nil {
		return nil, err
	}

	c.server = srv

	return srv, nil
}

// Server returns the active server or nil.
func (c *Channel) Server() *Server {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil || c.server.Closed() {
		return nil
	}

	return c.server
}

// Broadcast sends msg through the active server. It returns 0 when the
// channel is not started.
func (c *Channel) Broadcast(msg protocol.Message) int {
	srv := c.Server()
	if srv == nil {
		return 0
	}

	return srv.Broadcast(msg)
}

// Close stops the active server, if any.
func (c *Channel) Close() error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Close()
}

// Server is a running websocket endpoint.
type Server struct {
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
	listener  net.Listener
	scheme    string
	queueSize int

	mu     sync.RWMutex
	conns  map[*conn]struct{}
	closed bool
	done   chan struct{}
}

func listen(ctx context.Context, opts Options) (*Server, error) {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", opts.Address())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", opts.Address(), err)
	}

	scheme := "ws"

	if opts.TLS() {
		cert, certErr := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if certErr != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("loading TLS key pair: %w", certErr)
		}

		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		scheme = "wss"
	}

	s := &Server{
		logger:    opts.Logger,
		listener:  ln,
		scheme:    scheme,
		queueSize: opts.QueueSize,
		conns:     make(map[*conn]struct{}),
		done:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			// Extension pages connect from chrome-extension:// and
			// moz-extension:// origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleSocket)
	r.Get("/healthz", s.handleHealth)

	if opts.Routes != nil {
		opts.Routes(r)
	}

	s.httpSrv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if serveErr := s.httpSrv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("notification channel stopped", slog.String("error", serveErr.Error()))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	s.logger.Info("listening", slog.String("url", s.URL()))

	return s, nil
}

// URL returns the websocket URL of the endpoint.
func (s *Server) URL() string {
	return s.scheme + "://" + s.listener.Addr().String()
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Clients returns the number of attached connections.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conns)
}

// Closed reports whether Close was called.
func (s *Server) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}

// Broadcast queues msg for every open connection and returns how many
// connections accepted it. Connections that are closing or whose queue is
// full are skipped.
func (s *Server) Broadcast(msg protocol.Message) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("dropping broadcast", slog.String("error", err.Error()))
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0

	for c := range s.conns {
		if c.enqueue(data) {
			delivered++
			continue
		}

		s.logger.Debug("skipping connection",
			slog.String("remote", c.remote),
			slog.String("action", string(msg.Action)),
		)
	}

	return delivered
}

// Close stops accepting connections and closes every attached connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	close(s.done)

	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down notification channel: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"clients":  s.Clients(),
		"protocol": version.Protocol,
	})
}

// clientName describes a connecting client for logs: the relay version for
// extreload relays, "browser" otherwise.
func clientName(ua string) string {
	if v, ok := version.ParseUserAgent(ua); ok {
		return "relay " + v
	}

	return "browser"
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(ws, s.queueSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()

		return
	}

	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("extension connected", slog.String("remote", c.remote), slog.String("client", clientName(r.UserAgent())))

	go c.writeLoop(s.logger)
	c.readLoop(s.logger)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.logger.Debug("extension disconnected", slog.String("remote", c.remote))
}
