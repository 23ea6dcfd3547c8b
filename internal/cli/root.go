// Package cli implements the cobra command tree for extreload.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/logging"
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return 1
	}

	return 0
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "extreload",
		Short: "Live reload for browser extension development",
		Long: `extreload watches a browser extension build and reloads the
extension while you work.

After every build it works out which source files changed, maps them to
the bundle entries that embed them, and tells the running extension over
a websocket. Changes to the manifest, locales, files the manifest
references, or the background entry reload the whole extension; other
changes reload only the pages built from the affected entries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			entries, err := config.LoadEntriesConfig(cfg.ConfigFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			if err := entries.Apply(cfg); err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			logger := logging.SetupWithWriter(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = config.NewContextWithConfigFile(ctx, cfg.ConfigFile)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("logLevel", cfg.LogLevel),
				slog.String("logFormat", cfg.LogFormat),
				slog.String("configFile", cfg.ConfigFile),
				slog.String("backgroundEntry", cfg.BackgroundEntry),
			)

			return nil
		},
	}

	// Global persistent flags.
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .extreload.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "suppress non-essential output, including client script logs")
	registerReloadFlags(cmd)

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})

	// Register subcommands.
	cmd.AddCommand(
		newServeCommand(),
		newRelayCommand(),
		newPageCommand(),
		newClientCommand(),
		newExplainCommand(),
		newVersionCommand(),
		newCompletionCommand(),
	)

	return cmd
}
