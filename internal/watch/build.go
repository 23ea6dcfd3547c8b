package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/extreload/internal/graph"
	"github.com/hupe1980/extreload/internal/host"
	"github.com/hupe1980/extreload/internal/manifest"
)

// Snapshot walks root and returns the modification time in Unix
// milliseconds of every file that is neither hidden nor ignored.
func Snapshot(root string, ignore []string) (map[string]int64, error) {
	stamps := make(map[string]int64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if ignored(root, path, ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			// Removed between listing and stat.
			stamps[path] = 0
			return nil
		}

		stamps[path] = info.ModTime().UnixMilli()

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotting %s: %w", root, err)
	}

	return stamps, nil
}

// OutputGlobs returns ignore globs for the build outputs that live inside
// root: the output directory with its contents and the stats file. Outputs
// are rewritten by every build and must not trigger the next one.
func OutputGlobs(root, outDir, statsFile string) []string {
	var globs []string

	if rel, ok := relativeTo(root, outDir); ok {
		globs = append(globs, rel+"/**")
	}

	if rel, ok := relativeTo(root, statsFile); ok {
		globs = append(globs, rel)
	}

	return globs
}

// relativeTo returns p relative to root with forward slashes when p lies
// strictly inside root.
func relativeTo(root, p string) (string, bool) {
	if p == "" {
		return "", false
	}

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return filepath.ToSlash(rel), true
}

// Builder runs one build cycle and reports it to a host.
type Builder struct {
	// Host receives the build events.
	Host *host.Host

	// Root is the build context that is snapshotted after every build.
	Root string

	// Ignore holds doublestar globs relative to Root.
	Ignore []string

	// Command is the bundler command. When empty, the cycle only snapshots.
	Command []string

	// StatsFile is the module graph the bundler writes.
	StatsFile string

	// OutDir receives the compiled manifest and locales. Both are skipped
	// when it is empty.
	OutDir string

	// ManifestSrc and LocalesSrc are the source manifest and locale
	// directory.
	ManifestSrc string
	LocalesSrc  string

	Logger *slog.Logger

	// Out receives the bundler's output.
	Out io.Writer
}

// Run executes one build cycle: compile start, build command, compile end,
// manifest and locale output, then snapshot and build done. A failing
// build command ends the cycle after compile end.
func (b *Builder) Run(ctx context.Context, _ string) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b.Host.OnCompileStart()

	cmdErr := b.runCommand(ctx)

	b.Host.OnCompileEnd()

	if cmdErr != nil {
		return cmdErr
	}

	b.compileAssets(logger)

	stamps, err := Snapshot(b.Root, b.Ignore)
	if err != nil {
		return err
	}

	var g *graph.Graph

	if b.StatsFile != "" {
		g, err = graph.LoadStats(b.StatsFile)
		if err != nil {
			logger.Warn("module graph unavailable", slog.String("error", err.Error()))
		}
	}

	d := b.Host.OnBuildDone(host.Build{Timestamps: stamps, Graph: g})

	logger.Debug("build cycle finished", slog.String("decision", d.String()))

	return nil
}

func (b *Builder) runCommand(ctx context.Context) error {
	if len(b.Command) == 0 {
		return nil
	}

	out := b.Out
	if out == nil {
		out = io.Discard
	}

	buildCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, b.Command[0], b.Command[1:]...) //nolint:gosec // user-configured command
	cmd.Dir = b.Root
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running build command: %w", err)
	}

	return nil
}

// compileAssets writes the manifest and locales to the output directory.
// Failures are logged and leave the previous output in place.
func (b *Builder) compileAssets(logger *slog.Logger) {
	if b.OutDir == "" {
		return
	}

	if b.ManifestSrc != "" {
		if _, err := manifest.Compile(b.ManifestSrc, b.OutDir, logger); err != nil {
			logger.Error("manifest not written", slog.String("error", err.Error()))
		}
	}

	if b.LocalesSrc == "" {
		return
	}

	n, err := manifest.CopyLocales(b.LocalesSrc, b.OutDir)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("no locales directory", slog.String("path", b.LocalesSrc))
	case err != nil:
		logger.Error("locales not copied", slog.String("error", err.Error()))
	case n > 0:
		logger.Info("locales updated", slog.Int("files", n))
	}
}

// Ensure Builder.Run satisfies RunFunc.
var _ RunFunc = (*Builder)(nil).Run
