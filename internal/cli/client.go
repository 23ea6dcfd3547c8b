package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/clientscript"
	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/logging"
	"github.com/hupe1980/extreload/internal/output"
)

type clientOptions struct {
	entry  string
	output string
}

func newClientCommand() *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Print the client script for an entry",
		Long: `Client renders the live-reload client that is injected into an entry.

The background entry gets the relay client, every other entry gets the page
client. Entries listed in --ignore-entries have no client and are rejected.`,
		Example: `  # Print the popup client
  extreload client --entry popup

  # Write the background client next to the bundle
  extreload client --entry background -o dist/reload-background.js`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			logger := logging.FromContext(cmd.Context())

			script, err := clientscript.NewScripts(clientSettings(cfg)).ForEntry(opts.entry)
			if err != nil {
				return err
			}

			var w output.Writer = output.NewStdoutWriter(cmd.OutOrStdout())
			if opts.output != "" {
				w = output.NewFileWriter(opts.output, output.WithLogger(logger))
			}

			return w.Write([]byte(script))
		},
	}

	cmd.Flags().StringVar(&opts.entry, "entry", "", "entry name (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the script to a file instead of stdout")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}
