package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/account"
	"github.com/mrz1836/coinvault/internal/chain"
)

// completionCmd generates shell completion scripts.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for coinvault.

To load completions:

Bash:
  $ source <(coinvault completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ coinvault completion bash > /etc/bash_completion.d/coinvault
  # macOS:
  $ coinvault completion bash > $(brew --prefix)/etc/bash_completion.d/coinvault

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ coinvault completion zsh > "${fpath[1]}/_coinvault"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ coinvault completion fish | source

  # To load completions for each session, execute once:
  $ coinvault completion fish > ~/.config/fish/completions/coinvault.fish

PowerShell:
  PS> coinvault completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> coinvault completion powershell > coinvault.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(w)
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

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(completionCmd)

	for _, c := range []*cobra.Command{balanceCmd, feesCmd, receiveCmd, sendCmd, decodeCmd, accountsCmd} {
		markCurrencyArg(c)
	}
}

// completeCurrency completes the leading currency argument. Completion runs
// without loading configuration, so every built-in ticker is offered.
func completeCurrency(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveDefault
	}
	var codes []string
	for _, c := range append(chain.NativeCurrencies(), chain.KnownTokens()...) {
		code := strings.ToLower(c.Code)
		if strings.HasPrefix(code, strings.ToLower(toComplete)) {
			codes = append(codes, code)
		}
	}
	return codes, cobra.ShellCompDirectiveNoFileComp
}

func completeScope(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	var scopes []string
	for _, s := range account.Scopes() {
		scopes = append(scopes, string(s))
	}
	return scopes, cobra.ShellCompDirectiveNoFileComp
}

func completeTier(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return []string{"low", "regular", "priority"}, cobra.ShellCompDirectiveNoFileComp
}
