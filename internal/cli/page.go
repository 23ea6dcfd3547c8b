package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/logging"
	"github.com/hupe1980/extreload/internal/relay"
)

type pageOptions struct {
	entry         string
	endpoint      string
	reloadCommand string
}

func newPageCommand() *cobra.Command {
	opts := &pageOptions{}

	cmd := &cobra.Command{
		Use:   "page",
		Short: "Run a page client against a relay",
		Long: `Page connects to a running relay as the page of --entry and runs
--reload-command whenever the page would reload: after a change to its own
entry or after a full extension reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPage(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.entry, "entry", "", "entry name of the page (required)")
	f.StringVar(&opts.endpoint, "relay", "ws://localhost:35730/pages", "relay page endpoint")
	f.StringVar(&opts.reloadCommand, "reload-command", "", "command that reloads the page")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}

func runPage(ctx context.Context, opts *pageOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime := &relay.CommandRuntime{
		Command: strings.Fields(opts.reloadCommand),
		Timeout: time.Minute,
		Logger:  logger,
	}

	dial := func() (relay.Port, error) {
		return relay.DialPage(ctx, opts.endpoint, relay.PortName, logger)
	}

	reload := func() {
		if err := runtime.Reload(ctx); err != nil {
			logger.Error("page reload failed", slog.String("error", err.Error()))
		}
	}

	page := relay.NewPage(dial, reload, relay.PageOptions{
		EntryName:     opts.entry,
		ReconnectTime: cfg.ReconnectTime,
		Logger:        logger,
	})
	defer page.Close()

	page.Connect()

	<-ctx.Done()

	return nil
}
