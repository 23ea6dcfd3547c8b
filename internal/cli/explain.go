package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/decision"
	"github.com/hupe1980/extreload/internal/graph"
	"github.com/hupe1980/extreload/internal/logging"
	"github.com/hupe1980/extreload/internal/manifest"
	"github.com/hupe1980/extreload/internal/output"
	"github.com/hupe1980/extreload/internal/tracker"
)

type explainOptions struct {
	contextDir string
	stats      string
	entry      string
	format     string
}

// explanation is the explain report.
type explanation struct {
	Entry    string                 `json:"entry" yaml:"entry"`
	Changes  []graph.ResolvedChange `json:"changes" yaml:"changes"`
	Decision decision.Decision      `json:"decision" yaml:"decision"`
}

func (e explanation) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "entry:    %s\n", e.Entry)

	if len(e.Changes) == 0 {
		b.WriteString("changes:  none (initial compile)\n")
	} else {
		b.WriteString("changes:\n")

		for _, c := range e.Changes {
			artifacts := "-"
			if len(c.Artifacts) > 0 {
				artifacts = strings.Join(c.Artifacts, ", ")
			}

			fmt.Fprintf(&b, "  %s -> %s\n", c.RelativePath, artifacts)
		}
	}

	fmt.Fprintf(&b, "decision: %s", e.Decision)

	return b.String()
}

func newExplainCommand() *cobra.Command {
	opts := &explainOptions{}

	cmd := &cobra.Command{
		Use:   "explain [FILE...]",
		Short: "Show how the extension would react to changed files",
		Long: `Explain treats the given files as changed, attributes them to bundle
entries with the module graph (--stats), and prints the reload decision
for --entry. Without files the decision for an initial compile is shown.`,
		Example: `  extreload explain --stats dist/stats.json src/popup.js
  extreload explain --format json manifest.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.contextDir, "context", ".", "build context directory")
	f.StringVar(&opts.stats, "stats", "", "bundler stats file with the module graph")
	f.StringVar(&opts.entry, "entry", "", "entry to decide for (default: --background-entry)")
	f.StringVarP(&opts.format, "format", "f", "text", "output format: "+output.DefaultRegistry().AvailableFormats())

	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return output.DefaultRegistry().Formats(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runExplain(cmd *cobra.Command, opts *explainOptions, files []string) error {
	cfg := config.FromContext(cmd.Context())
	logger := logging.FromContext(cmd.Context())

	enc, err := output.DefaultRegistry().Encoder(opts.format)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	root, err := filepath.Abs(opts.contextDir)
	if err != nil {
		return fmt.Errorf("resolving context directory: %w", err)
	}

	entry := opts.entry
	if entry == "" {
		entry = cfg.BackgroundEntry
	}

	var g *graph.Graph

	if opts.stats != "" {
		g, err = graph.LoadStats(resolvePath(root, opts.stats))
		if err != nil {
			return err
		}
	}

	changes := make([]tracker.Change, 0, len(files))
	for _, f := range files {
		changes = append(changes, tracker.Change{Path: resolvePath(root, f)})
	}

	manifestPath := resolvePath(root, cfg.Manifest)
	special := specialPaths(cfg, manifestPath)

	if data, loadErr := manifest.Load(manifestPath); loadErr == nil {
		special.ManifestFileDeps = manifest.ScanFileDeps(data)
	} else {
		logger.Debug("manifest dependencies unavailable", slog.String("error", loadErr.Error()))
	}

	resolved := graph.Resolve(changes, root, graph.NewIndex(g))

	return enc(cmd.OutOrStdout(), explanation{
		Entry:    entry,
		Changes:  resolved,
		Decision: decision.Decide(resolved, entry, special),
	})
}
