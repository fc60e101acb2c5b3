package cli

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/config"
	"github.com/mrz1836/coinvault/internal/output"
)

type cmdContextKey struct{}

// CommandContext holds dependencies for CLI commands. Services are built on
// first use so commands that never touch the network stay offline.
type CommandContext struct {
	Cfg *config.Config
	Log *config.Logger
	Fmt *output.Formatter

	// Mnemonic supplies the key source on demand. Defaults to the
	// environment and then an interactive prompt.
	Mnemonic MnemonicProvider

	once     sync.Once
	services *Services
	err      error
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(cfg *config.Config, logger *config.Logger, formatter *output.Formatter) *CommandContext {
	return &CommandContext{
		Cfg:      cfg,
		Log:      logger,
		Fmt:      formatter,
		Mnemonic: defaultMnemonicProvider,
	}
}

// WithServices installs prebuilt services, used by tests.
func (c *CommandContext) WithServices(s *Services) *CommandContext {
	c.once.Do(func() {})
	c.services = s
	return c
}

// Services returns the wired services, building them on first use.
func (c *CommandContext) Services() (*Services, error) {
	c.once.Do(func() {
		c.services, c.err = BuildServices(c.Cfg, c.Log, c.Mnemonic)
	})
	return c.services, c.err
}

// Close logs out of the session and releases stores and key material.
func (c *CommandContext) Close() {
	if c.services != nil {
		c.services.Close()
	}
}

// SetCmdContext attaches c to the command and its children.
func SetCmdContext(cmd *cobra.Command, c *CommandContext) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	cmd.SetContext(context.WithValue(base, cmdContextKey{}, c))
}

// GetCmdContext returns the context attached by SetCmdContext. When none is
// attached a context over the global state is returned.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	if ctx := cmd.Context(); ctx != nil {
		if c, ok := ctx.Value(cmdContextKey{}).(*CommandContext); ok {
			return c
		}
	}
	if cmdCtx == nil {
		cmdCtx = NewCommandContext(cfg, logger, formatter)
	}
	return cmdCtx
}
