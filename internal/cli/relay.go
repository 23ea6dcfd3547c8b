package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/logging"
	"github.com/hupe1980/extreload/internal/relay"
)

type relayOptions struct {
	entry         string
	listen        string
	manifest      string
	reloadCommand string
}

func newRelayCommand() *cobra.Command {
	opts := &relayOptions{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the extension-side relay against a serving host",
		Long: `Relay connects to the notification endpoint of a running serve command and
acts as the extension's background context.

Every reload notification is checked against the manifest the extension
actually runs (--manifest). Changes to the manifest, its file dependencies,
the locales, or the background entry run --reload-command. Every other
change is forwarded to pages connected at ws://<listen>/pages.

A lost host connection is retried after --reconnect-time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.entry, "entry", "", "entry name of the background context (default: --background-entry)")
	f.StringVar(&opts.listen, "listen", "localhost:35730", "address for page connections")
	f.StringVar(&opts.manifest, "manifest-file", "", "manifest the extension runs (default: --manifest)")
	f.StringVar(&opts.reloadCommand, "reload-command", "", "command that reloads the extension")

	return cmd
}

func runRelay(ctx context.Context, opts *relayOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	r := newRelay(cfg, opts, logger)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	r.Routes(router)

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listening for pages on %s: %w", opts.listen, err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("page endpoint stopped", slog.String("error", serveErr.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("relay started",
		slog.String("host", hostURL(cfg)),
		slog.String("pages", "ws://"+ln.Addr().String()+"/pages"),
		slog.String("entry", relayEntry(cfg, opts)),
	)

	runErr := r.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Debug("page endpoint shutdown", slog.String("error", err.Error()))
	}

	return runErr
}

// newRelay builds the relay for cfg. The decision matches the source
// manifest the host reports while the runtime reads the manifest the
// extension was loaded from.
func newRelay(cfg *config.Config, opts *relayOptions, logger *slog.Logger) *relay.Relay {
	runtimeManifest := opts.manifest
	if runtimeManifest == "" {
		runtimeManifest = cfg.Manifest
	}

	runtime := &relay.CommandRuntime{
		ManifestPath: runtimeManifest,
		Command:      strings.Fields(opts.reloadCommand),
		Timeout:      time.Minute,
		Logger:       logger,
	}

	return relay.New(runtime, relay.Options{
		URL:           hostURL(cfg),
		EntryName:     relayEntry(cfg, opts),
		ReconnectTime: cfg.ReconnectTime,
		Special:       specialPaths(cfg, cfg.Manifest),
		Logger:        logger,
	})
}

func relayEntry(cfg *config.Config, opts *relayOptions) string {
	if opts.entry != "" {
		return opts.entry
	}

	return cfg.BackgroundEntry
}

// hostURL returns the websocket endpoint of the serving host.
func hostURL(cfg *config.Config) string {
	scheme := "ws"
	if cfg.TLS() {
		scheme = "wss"
	}

	return scheme + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
