package cli

import (
	"github.com/spf13/cobra"
)

func newCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for extreload.

Completions cover the subcommands (serve, relay, page, client, explain) and
their flags. The --format flag of explain completes to the registered output
formats.

Bash:
  $ source <(extreload completion bash)

  # Load for every session (Linux):
  $ extreload completion bash > /etc/bash_completion.d/extreload

Zsh:
  # Enable completion once if it is not active yet:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ extreload completion zsh > "${fpath[1]}/_extreload"

Fish:
  $ extreload completion fish > ~/.config/fish/completions/extreload.fish

PowerShell:
  PS> extreload completion powershell | Out-String | Invoke-Expression
`,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(w, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(w)
			case "fish":
				return cmd.Root().GenFishCompletion(w, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(w)
			}

			return nil
		},
	}

	return cmd
}
