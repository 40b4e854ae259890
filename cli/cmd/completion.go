package cmd

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `To load completions:

Bash:
   $  source <(pdf-secure completion bash)

  # To load completions for each session, execute once:
  # Linux:
   $  pdf-secure completion bash > /etc/bash_completion.d/pdf-secure
  # macOS:
  $ pdf-secure completion bash >  $ (brew --prefix)/etc/bash_completion.d/pdf-secure

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
   $  echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ pdf-secure completion zsh > "${fpath[1]}/_pdf-secure"

  # You will need to start a new shell for this setup to take effect.

fish:
   $  pdf-secure completion fish | source

  # To load completions for each session, execute once:
   $  pdf-secure completion fish > ~/.config/fish/completions/pdf-secure.fish

PowerShell:
  PS> pdf-secure completion powershell | Out-String | Invoke-Expression

  # To load completions for each session, execute once:
  PS> pdf-secure completion powershell > pdf-secure.ps1
  PS> . pdf-secure.ps1
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:                  generateCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func generateCompletion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch args[0] {
	case "bash":
		return cmd.Root().GenBashCompletion(out)
	case "zsh":
		return cmd.Root().GenZshCompletion(out)
	case "fish":
		return cmd.Root().GenFishCompletion(out, true)
	case "powershell":
		return cmd.Root().GenPowerShellCompletionWithDesc(out)
	}
	return nil
}
