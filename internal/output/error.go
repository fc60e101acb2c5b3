package output

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// ErrorOutput represents a structured error for JSON output.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Class      string            `json:"class"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// FormatError formats an error for display.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}

	if format == FormatJSON {
		return formatErrorJSON(w, err)
	}
	return formatErrorText(w, err)
}

// detailOf flattens err into the fields shown to the user.
func detailOf(err error) ErrorDetail {
	var we *vaulterr.WalletError
	if errors.As(err, &we) {
		return ErrorDetail{
			Code:       we.Code,
			Class:      string(vaulterr.ClassOf(err)),
			Message:    we.Message,
			Details:    we.Details,
			Suggestion: we.Suggestion,
			ExitCode:   vaulterr.ExitCode(err),
		}
	}
	return ErrorDetail{
		Code:     "GENERAL_ERROR",
		Class:    string(vaulterr.ClassUnknown),
		Message:  err.Error(),
		ExitCode: vaulterr.ExitGeneral,
	}
}

func formatErrorJSON(w io.Writer, err error) error {
	return WriteJSON(w, ErrorOutput{Error: detailOf(err)})
}

func formatErrorText(w io.Writer, err error) error {
	d := detailOf(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", d.Message)

	if len(d.Details) > 0 {
		keys := make([]string, 0, len(d.Details))
		for k := range d.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, d.Details[k])
		}
	}

	if d.Suggestion != "" {
		fmt.Fprintf(&sb, "\nSuggestion: %s\n", d.Suggestion)
	}

	_, writeErr := io.WriteString(w, sb.String())
	return writeErr
}
