package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/chain"
)

// annotationCurrencyArg marks commands whose first argument is a currency code.
const annotationCurrencyArg = "coinvault/currency-arg"

// walkCommands visits every command in the tree depth-first.
func walkCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, sub := range cmd.Commands() {
		walkCommands(sub, fn)
	}
}

// markCurrencyArg flags cmd as taking a currency code and completes it.
func markCurrencyArg(cmd *cobra.Command) {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[annotationCurrencyArg] = "true"
	cmd.ValidArgsFunction = completeCurrency
}

// enrichCommandHelp appends generated sections to a command's Long text:
// the subcommand list of a parent, and the currency table of commands that
// take a currency argument. Generated text always reflects the current tree.
func enrichCommandHelp(cmd *cobra.Command) {
	var sb strings.Builder
	sb.WriteString(cmd.Long)

	if cmd.HasSubCommands() {
		sb.WriteString("\n\nSubcommands:\n")
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				fmt.Fprintf(&sb, "  %-16s %s\n", sub.Name(), sub.Short)
			}
		}
	}

	if cmd.Annotations[annotationCurrencyArg] != "" {
		sb.WriteString("\n\nCurrencies:\n")
		for _, c := range append(chain.NativeCurrencies(), chain.KnownTokens()...) {
			fmt.Fprintf(&sb, "  %-6s %s\n", strings.ToLower(c.Code), describeCurrency(c))
		}
	}

	cmd.Long = strings.TrimRight(sb.String(), "\n")
}

// describeCurrency is the one-line help description of a currency.
func describeCurrency(c chain.Currency) string {
	if c.IsToken() {
		return fmt.Sprintf("token on %s, %d decimals", c.Native, c.Decimals)
	}
	return fmt.Sprintf("%s family, %d decimals", c.Family(), c.Decimals)
}
