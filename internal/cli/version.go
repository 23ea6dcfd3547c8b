package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		jsonOutput bool
		short      bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and protocol information",
		Long: `Display the extreload version and the notification protocol revision.

A relay or page only understands a host that speaks the same protocol
revision. Relays send it in their user agent, and the host reports it at
/healthz.`,
		Args: cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetInfo()
			out := cmd.OutOrStdout()

			switch {
			case jsonOutput:
				j, err := info.JSON()
				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(out, j)

				return err
			case short:
				_, err := fmt.Fprintln(out, info.Version)
				return err
			}

			_, err := fmt.Fprintln(out, info.String())

			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output version info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	cmd.MarkFlagsMutuallyExclusive("json", "short")

	return cmd
}
