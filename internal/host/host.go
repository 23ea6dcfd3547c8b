// Package host wires the build-side pieces together: it tracks file
// timestamps across builds, resolves changed files to bundle artifacts, and
// broadcasts build events over the notification channel.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/extreload/internal/channel"
	"github.com/hupe1980/extreload/internal/decision"
	"github.com/hupe1980/extreload/internal/graph"
	"github.com/hupe1980/extreload/internal/manifest"
	"github.com/hupe1980/extreload/internal/protocol"
	"github.com/hupe1980/extreload/internal/tracker"
)

// Options configures a Host.
type Options struct {
	// ContextDir is the build context; changed paths are reported relative
	// to it.
	ContextDir string

	// BackgroundEntry names the entry that runs as the extension background.
	BackgroundEntry string

	// Special carries the manifest path and locale directory. When the
	// manifest is readable its file references are added on every build.
	Special decision.SpecialPaths

	// ExcludeSegments drops modules whose name contains any segment from
	// artifact attribution. Defaults to node_modules.
	ExcludeSegments []string

	// StartTime anchors change detection. Defaults to now.
	StartTime time.Time

	Logger *slog.Logger
}

// Build is the result of one bundler run.
type Build struct {
	// Timestamps maps every watched file to its modification time in Unix
	// milliseconds. Zero marks a file that could not be stat'ed.
	Timestamps map[string]int64

	// Graph is the module graph of the build. It may be nil.
	Graph *graph.Graph
}

// Host sequences build events for one notification channel.
type Host struct {
	opts    Options
	channel *channel.Channel
	logger  *slog.Logger

	mu      sync.Mutex
	tracker *tracker.Tracker
}

// New creates a host broadcasting on ch.
func New(ch *channel.Channel, opts Options) *Host {
	if opts.BackgroundEntry == "" {
		opts.BackgroundEntry = "background"
	}

	if opts.ExcludeSegments == nil {
		opts.ExcludeSegments = []string{graph.DefaultExcludeSegment}
	}

	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Host{
		opts:    opts,
		channel: ch,
		logger:  opts.Logger.With(slog.String("component", "host")),
		tracker: tracker.New(tracker.NewState(opts.StartTime)),
	}
}

// State returns the timestamp state.
func (h *Host) State() *tracker.State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tracker.State()
}

// OnWatchStart starts the notification channel. It is safe to call on every
// watch cycle.
func (h *Host) OnWatchStart(ctx context.Context) error {
	if _, err := h.channel.Start(ctx); err != nil {
		return fmt.Errorf("starting notification channel: %w", err)
	}

	return nil
}

// OnCompileStart tells extensions that a build started.
func (h *Host) OnCompileStart() {
	h.channel.Broadcast(protocol.Compile())
}

// OnCompileEnd tells extensions that compilation finished.
func (h *Host) OnCompileEnd() {
	h.channel.Broadcast(protocol.AfterCompile())
}

// OnBuildDone broadcasts the changed files of b and commits its timestamps.
// The returned decision is the host's prediction of what the extension will
// do; the extension decides again with its own manifest. Without an active
// channel nothing is sent or committed.
func (h *Host) OnBuildDone(b Build) decision.Decision {
	h.mu.Lock()
	defer h.mu.Unlock()

	srv := h.channel.Server()
	if srv == nil {
		h.logger.Debug("notification channel inactive, skipping build")
		return decision.Decision{Kind: decision.None}
	}

	changes := h.tracker.Changes(b.Timestamps)
	resolved := graph.Resolve(changes, h.opts.ContextDir, graph.NewIndex(b.Graph, h.opts.ExcludeSegments...))

	d := decision.Decide(resolved, h.opts.BackgroundEntry, h.special())

	clients := srv.Broadcast(protocol.Reload(resolved))

	h.logger.Info("build done",
		slog.Int("changed", len(resolved)),
		slog.String("decision", d.String()),
		slog.Int("clients", clients),
	)

	h.tracker.Commit(b.Timestamps)

	return d
}

func (h *Host) special() decision.SpecialPaths {
	sp := h.opts.Special
	if sp.ManifestPath == "" {
		return sp
	}

	data, err := manifest.Load(sp.ManifestPath)
	if err != nil {
		h.logger.Debug("manifest unavailable", slog.String("error", err.Error()))
		return sp
	}

	sp.ManifestFileDeps = manifest.ScanFileDeps(data)

	return sp
}
