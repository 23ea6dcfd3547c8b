package watch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/extreload/internal/debounce"
)

// RunFunc is called for every build cycle. trigger names the file whose
// change started the cycle.
type RunFunc func(ctx context.Context, trigger string) error

// DefaultIgnore lists globs that never trigger a build.
var DefaultIgnore = []string{"**/node_modules/**"}

// Options configures the watch behaviour.
type Options struct {
	// Root is the build context directory to watch recursively.
	Root string

	// ExtraFiles are additional files to watch, such as a manifest kept
	// outside the context.
	ExtraFiles []string

	// Ignore holds doublestar globs relative to Root. Matching files and
	// directories are neither watched nor snapshotted.
	Ignore []string

	// Debounce is the quiet period before triggering a build.
	Debounce time.Duration

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Out is the writer for user-facing status messages.
	Out io.Writer
}

// DefaultOptions returns sensible default watch options.
func DefaultOptions() Options {
	return Options{
		Ignore:   append([]string{}, DefaultIgnore...),
		Debounce: 300 * time.Millisecond,
		Logger:   slog.Default(),
		Out:      os.Stderr,
	}
}

// Run starts the file watcher and blocks until the context is cancelled
// or a SIGINT/SIGTERM signal is received. An initial build runs before the
// first event is awaited.
func Run(ctx context.Context, opts Options, runFn RunFunc) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	for _, pattern := range opts.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, opts.Root, opts.Ignore); err != nil {
		return fmt.Errorf("watching context directory: %w", err)
	}

	for _, f := range opts.ExtraFiles {
		abs, absErr := filepath.Abs(f)
		if absErr != nil {
			return fmt.Errorf("resolving extra file %q: %w", f, absErr)
		}

		if err := watcher.Add(abs); err != nil {
			return fmt.Errorf("watching file %q: %w", abs, err)
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(opts.Out, "watching %s (debounce=%s)\n", opts.Root, opts.Debounce)

	doRun(sigCtx, opts, runFn, "(initial)")

	debouncer := debounce.New(opts.Debounce, func(path string) {
		doRun(sigCtx, opts, runFn, path)
	})
	defer debouncer.Stop()

	for {
		select {
		case <-sigCtx.Done():
			fmt.Fprintln(opts.Out, "\nshutting down watcher")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !isRelevant(event) || ignored(opts.Root, event.Name, opts.Ignore) {
				continue
			}

			// New directories are watched as well.
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addRecursive(watcher, event.Name, opts.Ignore)
				}
			}

			debouncer.Trigger(event.Name)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			opts.Logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// doRun executes a single build cycle and prints the status line.
func doRun(ctx context.Context, opts Options, runFn RunFunc, trigger string) {
	start := time.Now()
	now := start.Format("15:04:05")

	if err := runFn(ctx, trigger); err != nil {
		fmt.Fprintf(opts.Out, "[%s] %s → ERROR: %v\n", now, trigger, err)
		return
	}

	fmt.Fprintf(opts.Out, "[%s] %s → OK (%s)\n", now, trigger, time.Since(start).Round(time.Millisecond))
}

// addRecursive walks root and adds all directories that are neither hidden
// nor ignored to the watcher.
func addRecursive(watcher *fsnotify.Watcher, root string, ignore []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != root && (strings.HasPrefix(d.Name(), ".") || ignored(root, path, ignore)) {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// ignored reports whether path, taken relative to root, matches any ignore
// glob. Directories match when the glob matches a file inside them.
func ignored(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}

	rel = filepath.ToSlash(rel)

	for _, pattern := range patterns {
		if doublestar.MatchUnvalidated(pattern, rel) || doublestar.MatchUnvalidated(pattern, rel+"/x") {
			return true
		}
	}

	return false
}

// isRelevant filters out editor noise and metadata-only events.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	// Editor temporary and hidden files.
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
