package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/extreload/internal/debounce"
	"github.com/hupe1980/extreload/internal/decision"
	"github.com/hupe1980/extreload/internal/protocol"
)

// DefaultReloadDelay gives the background relay time to finish its own
// reload before a page reloads.
const DefaultReloadDelay = 300 * time.Millisecond

// PageState is the connection state of a page client.
type PageState int

// Page connection states.
const (
	Disconnected PageState = iota
	Connecting
	Connected
)

// String implements fmt.Stringer.
func (s PageState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Page status values reported during builds.
const (
	StatusCompiling = "compiling"
	StatusDone      = "done"
)

// PageOptions configures a Page.
type PageOptions struct {
	// EntryName is the entry this page was built from.
	EntryName string

	ReconnectTime time.Duration
	ReloadDelay   time.Duration

	Logger *slog.Logger
}

// Page is the client running in a non-background extension page. It keeps a
// port to the relay and reloads itself when its entry changes.
type Page struct {
	opts   PageOptions
	dial   func() (Port, error)
	reload func()
	logger *slog.Logger

	mu     sync.Mutex
	state  PageState
	status string
	port   Port
	timer  *time.Timer
	closed bool

	reconnect *debounce.Debouncer[struct{}]
}

// NewPage creates a disconnected page. dial opens a port to the relay and
// reload reloads the page.
func NewPage(dial func() (Port, error), reload func(), opts PageOptions) *Page {
	if opts.ReconnectTime <= 0 {
		opts.ReconnectTime = DefaultReconnectTime
	}

	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = DefaultReloadDelay
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Page{
		opts:   opts,
		dial:   dial,
		reload: reload,
		logger: opts.Logger.With(slog.String("component", "page"), slog.String("entry", opts.EntryName)),
	}

	p.reconnect = debounce.New(opts.ReconnectTime, func(struct{}) { p.Connect() })

	return p
}

// Connect opens a port to the relay. Failures and later disconnects schedule
// a debounced reconnect.
func (p *Page) Connect() {
	p.mu.Lock()
	if p.closed || p.state != Disconnected {
		p.mu.Unlock()
		return
	}

	p.state = Connecting
	p.mu.Unlock()

	port, err := p.dial()
	if err != nil {
		p.logger.Debug("connection error", slog.String("error", err.Error()))
		p.setState(Disconnected, nil)
		p.reconnect.Trigger(struct{}{})

		return
	}

	p.setState(Connected, port)

	port.OnMessage(func(msg protocol.Message) { p.HandleMessage(msg) })
	port.OnDisconnect(func() {
		p.setState(Disconnected, nil)
		p.logger.Debug("attempting reconnect")
		p.reconnect.Trigger(struct{}{})
	})
}

func (p *Page) setState(s PageState, port Port) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = s
	p.port = port
}

// State returns the connection state.
func (p *Page) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Status returns the last build status seen.
func (p *Page) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

// HandleMessage acts on a relay message. Full means the page reloads because
// the extension reloads, Notify means the page's own entry changed, None
// means the message was informational or about other entries.
func (p *Page) HandleMessage(msg protocol.Message) decision.Decision {
	switch msg.Action {
	case protocol.ActionBackgroundReload:
		p.logger.Info("reloading page", slog.String("reason", msg.Reason))
		p.scheduleReload()

		return decision.Decision{Kind: decision.Full, Reason: msg.Reason}
	case protocol.ActionReload:
		changes := msg.Changes()
		if !decision.Affects(changes, p.opts.EntryName) {
			p.logger.Debug("ignoring update")
			return decision.Decision{Kind: decision.None}
		}

		paths := make([]string, 0, len(changes))
		for _, c := range changes {
			paths = append(paths, c.RelativePath)
		}

		p.logger.Info("reloading page, files changed", slog.Any("files", paths))
		p.scheduleReload()

		return decision.Decision{Kind: decision.Notify, Changes: changes}
	case protocol.ActionCompile:
		p.setStatus(StatusCompiling)
	case protocol.ActionAfterCompile:
		p.setStatus(StatusDone)
	}

	return decision.Decision{Kind: decision.None}
}

func (p *Page) setStatus(s string) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()

	p.logger.Debug("build status", slog.String("status", s))
}

func (p *Page) scheduleReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
	}

	p.timer = time.AfterFunc(p.opts.ReloadDelay, p.reload)
}

// Close disconnects the page and cancels pending work.
func (p *Page) Close() {
	p.mu.Lock()
	p.closed = true
	port := p.port
	p.port = nil
	p.state = Disconnected

	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	p.reconnect.Stop()

	if port != nil {
		port.Disconnect()
	}
}
