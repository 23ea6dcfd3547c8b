package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/hupe1980/extreload/internal/manifest"
)

// Runtime is the extension runtime the relay controls.
type Runtime interface {
	// Reload restarts the whole extension.
	Reload(ctx context.Context) error

	// Manifest returns the serialized manifest the extension runs with.
	Manifest() ([]byte, error)
}

// CommandRuntime reloads the extension by running an external command, for
// example a browser automation script, and reads the manifest from disk.
type CommandRuntime struct {
	// ManifestPath is the manifest the extension was loaded from.
	ManifestPath string

	// Command is the reload command and its arguments. When empty, Reload
	// only logs.
	Command []string

	// Timeout bounds a single reload command.
	Timeout time.Duration

	Logger *slog.Logger
}

// Reload runs the configured command.
func (cr *CommandRuntime) Reload(ctx context.Context) error {
	logger := cr.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if len(cr.Command) == 0 {
		logger.Info("extension reload requested, no reload command configured")
		return nil
	}

	timeout := cr.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cr.Command[0], cr.Command[1:]...) //nolint:gosec // user-configured command

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running reload command: %w: %s", err, out)
	}

	logger.Debug("reload command finished", slog.String("output", string(out)))

	return nil
}

// Manifest loads and validates the manifest file.
func (cr *CommandRuntime) Manifest() ([]byte, error) {
	if cr.ManifestPath == "" {
		return nil, errors.New("no manifest path configured")
	}

	return manifest.Load(cr.ManifestPath)
}
