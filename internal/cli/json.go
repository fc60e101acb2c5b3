package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// out is a helper for CLI output that ignores write errors (standard pattern for CLI tools).
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func out(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with newline.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func outln(w io.Writer, args ...any) {
	fmt.Fprintln(w, args...)
}

// render writes a command result to the command's stdout in the selected format.
func render(cmd *cobra.Command, cc *CommandContext, v any, text func(w io.Writer)) error {
	return cc.Fmt.Render(cmd.OutOrStdout(), v, text)
}
