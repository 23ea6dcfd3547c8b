package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/extreload/internal/protocol"
)

const (
	portWriteTimeout = 5 * time.Second
	portQueueSize    = 16
)

// ErrPortBusy is returned when a page falls so far behind that its send
// queue is full. The message is dropped for that page only.
var ErrPortBusy = errors.New("port send queue full")

// wsPort is a Port carried over a websocket connection. Posts are queued
// and written by a dedicated goroutine, so a stalled page never blocks the
// relay.
type wsPort struct {
	name string
	ws   *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once

	mu     sync.Mutex
	onMsg  []func(protocol.Message)
	onDisc []func()
	closed bool
}

func newWSPort(name string, ws *websocket.Conn, queueSize int) *wsPort {
	return &wsPort{
		name: name,
		ws:   ws,
		send: make(chan []byte, queueSize),
		quit: make(chan struct{}),
	}
}

func (p *wsPort) Name() string { return p.name }

// Post enqueues msg without blocking.
func (p *wsPort) Post(msg protocol.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return ErrDisconnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case p.send <- data:
		return nil
	default:
		return fmt.Errorf("posting %s: %w", msg.Action, ErrPortBusy)
	}
}

func (p *wsPort) OnMessage(fn func(protocol.Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onMsg = append(p.onMsg, fn)
}

func (p *wsPort) OnDisconnect(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()

		return
	}

	p.onDisc = append(p.onDisc, fn)
	p.mu.Unlock()
}

// Disconnect closes the connection. Local observers are not notified; the
// remote end sees the close.
func (p *wsPort) Disconnect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	p.onDisc = nil
	p.mu.Unlock()

	p.stop()
}

func (p *wsPort) stop() {
	p.once.Do(func() {
		close(p.quit)

		if p.ws != nil {
			_ = p.ws.Close()
		}
	})
}

// writeLoop drains the send queue. A failed write closes the connection,
// which ends readLoop and notifies the observers.
func (p *wsPort) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-p.quit:
			return
		case data := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(portWriteTimeout))

			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("page write failed", slog.String("port", p.name), slog.String("error", err.Error()))
				p.stop()

				return
			}
		}
	}
}

// readLoop delivers inbound messages until the connection drops, then
// notifies disconnect observers.
func (p *wsPort) readLoop(logger *slog.Logger) {
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			break
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}

		p.mu.Lock()
		handlers := append([]func(protocol.Message){}, p.onMsg...)
		p.mu.Unlock()

		for _, fn := range handlers {
			fn(msg)
		}
	}

	p.mu.Lock()
	observers := p.onDisc
	p.onDisc = nil
	p.closed = true
	p.mu.Unlock()

	p.stop()

	for _, fn := range observers {
		fn()
	}
}

// Routes mounts the page endpoint at GET /pages. Pages pass their port name
// in the name query parameter; it defaults to PortName.
func (r *Relay) Routes(router chi.Router) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	router.Get("/pages", func(w http.ResponseWriter, req *http.Request) {
		name := req.URL.Query().Get("name")
		if name == "" {
			name = PortName
		}

		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Warn("page upgrade failed", slog.String("error", err.Error()))
			return
		}

		p := newWSPort(name, ws, portQueueSize)
		go p.writeLoop(r.logger)

		if _, ok := r.AddPort(p); !ok {
			r.logger.Debug("ignoring foreign port", slog.String("name", name))
		}

		p.readLoop(r.logger)
	})
}

// DialPage opens a page port to a relay page endpoint such as
// ws://localhost:35730/pages.
func DialPage(ctx context.Context, endpoint, name string, logger *slog.Logger) (Port, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing page endpoint: %w", err)
	}

	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}

	p := newWSPort(name, ws, portQueueSize)
	go p.writeLoop(logger)
	go p.readLoop(logger)

	return p, nil
}
