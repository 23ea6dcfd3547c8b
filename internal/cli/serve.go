package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/channel"
	"github.com/hupe1980/extreload/internal/clientscript"
	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/host"
	"github.com/hupe1980/extreload/internal/logging"
	"github.com/hupe1980/extreload/internal/watch"
)

type serveOptions struct {
	contextDir string
	stats      string
	build      string
	out        string
	ignore     []string
	debounce   time.Duration
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch an extension build and notify the extension",
		Long: `Serve starts the notification endpoint, watches the build context, and
runs the build command after every change.

Each build is reported to connected extensions: first a compile event,
then afterCompile, then the list of changed files together with the
bundle entries that embed them. The module graph is read from the stats
file the bundler writes (--stats).

With --out the manifest (JSON or YAML) and the locale directory are
written to the output directory on every build. Client scripts for every
entry are served at /client/<entry>.js.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.contextDir, "context", ".", "build context directory")
	f.StringVar(&opts.stats, "stats", "", "bundler stats file with the module graph")
	f.StringVar(&opts.build, "build", "", "build command to run on every change")
	f.StringVar(&opts.out, "out", "", "output directory for the manifest and locales")
	f.StringArrayVar(&opts.ignore, "ignore", nil, "glob relative to the context to ignore (repeatable)")
	f.DurationVar(&opts.debounce, "debounce", 300*time.Millisecond, "debounce interval for file changes")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	root, err := filepath.Abs(opts.contextDir)
	if err != nil {
		return fmt.Errorf("resolving context directory: %w", err)
	}

	if opts.debounce <= 0 {
		return &ExitError{Code: 2, Err: fmt.Errorf("--debounce must be positive, got %s", opts.debounce)}
	}

	ignore := append(append([]string{}, watch.DefaultIgnore...), opts.ignore...)

	var outDir string

	if opts.out != "" {
		outDir, err = filepath.Abs(opts.out)
		if err != nil {
			return fmt.Errorf("resolving output directory: %w", err)
		}
	}

	statsFile := resolvePath(root, opts.stats)
	ignore = append(ignore, watch.OutputGlobs(root, outDir, statsFile)...)

	manifestPath := resolvePath(root, cfg.Manifest)
	scripts := clientscript.NewScripts(clientSettings(cfg))

	ch := channel.New(channel.Options{
		Host:     cfg.Host,
		Port:     cfg.Port,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		Routes:   scripts.Routes,
		Logger:   logger,
	})
	defer ch.Close()

	h := host.New(ch, host.Options{
		ContextDir:      root,
		BackgroundEntry: cfg.BackgroundEntry,
		Special:         specialPaths(cfg, manifestPath),
		Logger:          logger,
	})

	if err := h.OnWatchStart(ctx); err != nil {
		return err
	}

	builder := &watch.Builder{
		Host:        h,
		Root:        root,
		Ignore:      ignore,
		Command:     strings.Fields(opts.build),
		StatsFile:   statsFile,
		OutDir:      outDir,
		ManifestSrc: manifestPath,
		LocalesSrc:  resolvePath(root, cfg.Locales),
		Logger:      logger,
		Out:         cmd.ErrOrStderr(),
	}

	watchOpts := watch.Options{
		Root:     root,
		Ignore:   ignore,
		Debounce: opts.debounce,
		Logger:   logger,
		Out:      cmd.ErrOrStderr(),
	}

	if rel, relErr := filepath.Rel(root, manifestPath); relErr != nil || strings.HasPrefix(rel, "..") {
		watchOpts.ExtraFiles = append(watchOpts.ExtraFiles, manifestPath)
	}

	return watch.Run(ctx, watchOpts, builder.Run)
}
