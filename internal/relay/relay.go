// Package relay implements the extension side of live reload.
//
// A Relay runs in the extension's background context. It keeps a websocket
// connection to the build host, makes the final reload decision with the
// manifest the extension actually runs, and fans page notifications out over
// named ports. A Page is the matching client that runs in every other
// extension page.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/extreload/internal/debounce"
	"github.com/hupe1980/extreload/internal/decision"
	"github.com/hupe1980/extreload/internal/manifest"
	"github.com/hupe1980/extreload/internal/protocol"
	"github.com/hupe1980/extreload/internal/version"
)

// Defaults for Options.
const (
	DefaultReconnectTime = 3 * time.Second
	DefaultEntryName     = "background"
)

// Options configures a Relay.
type Options struct {
	// URL is the build host websocket endpoint, for example
	// ws://localhost:35729.
	URL string

	// EntryName is the background entry the relay runs in.
	EntryName string

	// ReconnectTime is the quiet period before a reconnect attempt.
	ReconnectTime time.Duration

	// Special carries the manifest name and locale directory. Manifest file
	// dependencies are read from the runtime on every decision.
	Special decision.SpecialPaths

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	Logger *slog.Logger
}

// Relay bridges the build host and extension pages.
type Relay struct {
	opts    Options
	runtime Runtime
	logger  *slog.Logger

	mu    sync.Mutex
	ports map[uuid.UUID]Port
	ws    *websocket.Conn
	ctx   context.Context

	reconnect *debounce.Debouncer[struct{}]
	connectFn func()
}

// New creates a relay for runtime.
func New(runtime Runtime, opts Options) *Relay {
	if opts.EntryName == "" {
		opts.EntryName = DefaultEntryName
	}

	if opts.ReconnectTime <= 0 {
		opts.ReconnectTime = DefaultReconnectTime
	}

	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Relay{
		opts:    opts,
		runtime: runtime,
		logger:  opts.Logger.With(slog.String("component", "relay")),
		ports:   make(map[uuid.UUID]Port),
		ctx:     context.Background(),
	}

	r.connectFn = r.connect
	r.reconnect = debounce.New(opts.ReconnectTime, func(struct{}) { r.connectFn() })

	return r
}

// AddPort registers a page port. Ports with another name are ignored. The
// port is removed when its page disconnects.
func (r *Relay) AddPort(p Port) (uuid.UUID, bool) {
	if p.Name() != PortName {
		return uuid.Nil, false
	}

	id := uuid.New()

	r.mu.Lock()
	r.ports[id] = p
	r.mu.Unlock()

	p.OnDisconnect(func() { r.removePort(id) })

	r.logger.Debug("page connected", slog.String("port", id.String()))

	return id, true
}

func (r *Relay) removePort(id uuid.UUID) {
	r.mu.Lock()
	delete(r.ports, id)
	r.mu.Unlock()

	r.logger.Debug("page disconnected", slog.String("port", id.String()))
}

// Ports returns the number of connected pages.
func (r *Relay) Ports() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ports)
}

// Broadcast posts msg to every connected page. Websocket pages are written
// from their own queues, so a stalled page only loses its own copy.
func (r *Relay) Broadcast(msg protocol.Message) {
	r.mu.Lock()
	ports := make([]Port, 0, len(r.ports))

	for _, p := range r.ports {
		ports = append(ports, p)
	}
	r.mu.Unlock()

	for _, p := range ports {
		if err := p.Post(msg); err != nil {
			r.logger.Debug("posting to page failed", slog.String("error", err.Error()))
		}
	}
}

// HandleFrame decodes a frame from the build host and handles it. Malformed
// frames are logged and dropped.
func (r *Relay) HandleFrame(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
		return
	}

	r.HandleServerMessage(ctx, msg)
}

// HandleServerMessage acts on a host message. Reload messages go through the
// decision engine; every other action is forwarded to pages unchanged.
func (r *Relay) HandleServerMessage(ctx context.Context, msg protocol.Message) decision.Decision {
	if msg.Action != protocol.ActionReload {
		r.Broadcast(protocol.Message{Action: msg.Action})
		return decision.Decision{Kind: decision.None}
	}

	r.logger.Debug("checking to see if we need to reload")

	changes := msg.Changes()
	d := decision.Decide(changes, r.opts.EntryName, r.special())

	switch d.Kind {
	case decision.Full:
		r.logger.Info("reloading extension", slog.String("reason", d.Reason))
		r.Broadcast(protocol.BackgroundReload(d.Reason))

		if err := r.runtime.Reload(ctx); err != nil {
			r.logger.Error("extension reload failed", slog.String("error", err.Error()))
		}
	case decision.Notify:
		r.logger.Debug("ignoring update")
		r.Broadcast(protocol.Reload(changes))
	}

	return d
}

func (r *Relay) special() decision.SpecialPaths {
	sp := r.opts.Special

	data, err := r.runtime.Manifest()
	if err != nil {
		r.logger.Warn("reading runtime manifest", slog.String("error", err.Error()))
		return sp
	}

	sp.ManifestFileDeps = manifest.ScanFileDeps(data)

	return sp
}

// Run connects to the build host and keeps reconnecting until ctx is
// cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.opts.URL == "" {
		return errors.New("relay: no host URL configured")
	}

	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.connectFn()

	<-ctx.Done()

	r.reconnect.Stop()

	r.mu.Lock()
	ws := r.ws
	r.ws = nil
	r.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}

	return nil
}

// ScheduleReconnect arms the reconnect timer. Calls within the reconnect
// time collapse into one attempt.
func (r *Relay) ScheduleReconnect() {
	r.reconnect.Trigger(struct{}{})
}

// Connected reports whether a host connection is open.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ws != nil
}

func (r *Relay) connect() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	header := http.Header{"User-Agent": {version.GetInfo().UserAgent()}}

	ws, resp, err := r.opts.Dialer.DialContext(ctx, r.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		r.logger.Debug("connection error", slog.String("url", r.opts.URL), slog.String("error", err.Error()))
		r.ScheduleReconnect()

		return
	}

	r.mu.Lock()
	r.ws = ws
	r.mu.Unlock()

	r.logger.Info("connected to build host", slog.String("url", r.opts.URL))

	go r.readLoop(ctx, ws)
}

func (r *Relay) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		r.HandleFrame(ctx, data)
	}

	_ = ws.Close()

	r.mu.Lock()
	if r.ws == ws {
		r.ws = nil
	}
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	r.logger.Info("connection lost, reconnecting", slog.Duration("in", r.opts.ReconnectTime))
	r.ScheduleReconnect()
}
