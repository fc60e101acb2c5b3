package output

import (
	"fmt"
	"io"
)

// Level is the severity of a one-line notice.
type Level int

// Notice levels.
const (
	LevelInfo Level = iota
	LevelWarn
	LevelSuccess
)

// Terminals get a symbol, pipes and log files a plain tag.
func (l Level) prefix(tty bool) string {
	switch l {
	case LevelWarn:
		if tty {
			return "⚠️  "
		}
		return "warning: "
	case LevelSuccess:
		if tty {
			return "✅ "
		}
		return ""
	default:
		if tty {
			return "ℹ️  "
		}
		return ""
	}
}

// Notice writes one status line to w with the prefix of its level.
func Notice(w io.Writer, level Level, format string, args ...any) {
	_, _ = fmt.Fprintln(w, level.prefix(IsTerminal(w))+fmt.Sprintf(format, args...))
}

// Infof writes an informational notice.
func Infof(w io.Writer, format string, args ...any) {
	Notice(w, LevelInfo, format, args...)
}

// Warnf writes a warning notice.
func Warnf(w io.Writer, format string, args ...any) {
	Notice(w, LevelWarn, format, args...)
}

// Successf writes a success notice.
func Successf(w io.Writer, format string, args ...any) {
	Notice(w, LevelSuccess, format, args...)
}
