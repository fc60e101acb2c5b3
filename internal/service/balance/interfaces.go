package balance

import "time"

// ConfigProvider provides cache tuning.
// Minimal interface satisfied by *config.Config.
type ConfigProvider interface {
	GetCacheMaxAge() time.Duration
	GetCacheInterval() time.Duration
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}
