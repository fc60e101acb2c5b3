package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/coinvault/internal/config"
	"github.com/mrz1836/coinvault/internal/output"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// ErrUnknownConfigKey is returned for a dotted path that names no setting.
var ErrUnknownConfigKey = &vaulterr.WalletError{
	Code:     "UNKNOWN_CONFIG_KEY",
	Message:  "unknown configuration key",
	Class:    vaulterr.ClassInput,
	ExitCode: vaulterr.ExitInput,
}

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify coinvault configuration settings.`,
}

// configInitCmd initializes the configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.coinvault/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.

Example:
  coinvault config init
  coinvault config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// configShowCmd shows the current configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration after environment overrides.
API keys are masked.

Example:
  coinvault config show
  coinvault config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// configPathCmd prints the configuration file path.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		outln(cmd.OutOrStdout(), resolvedConfigPath())
		return nil
	},
}

// configGetCmd gets a specific configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree.

Examples:
  coinvault config get networks.eth.rpc
  coinvault config get fees.default_tier
  coinvault config get cache.backend`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree. The updated
configuration is validated before the file is written.

Examples:
  coinvault config set networks.eth.rpc https://mainnet.infura.io/v3/YOUR_KEY
  coinvault config set networks.btc.enabled true
  coinvault config set fees.default_tier priority`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

// resolvedConfigPath is the file the current invocation reads and writes.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path(cfg.GetHome())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := resolvedConfigPath()

	if _, err := os.Stat(path); err == nil && !configForce {
		return vaulterr.WithSuggestion(
			vaulterr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", path),
		)
	}

	defaultCfg := config.Defaults()
	defaultCfg.Home = cfg.Home
	if err := config.Save(defaultCfg, path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	output.Successf(w, "Configuration initialized at %s", path)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - networks.<chain>.enabled: Networks to serve (eth, btc, bch, xlm, algo, dot)")
	outln(w, "  - networks.eth.rpc: Your Ethereum RPC endpoint")
	outln(w, "  - networks.eth.tokens: ERC-20 tokens to track")
	outln(w, "  - fees.default_tier: Fee tier used by send (low/regular/priority)")
	outln(w, "  - cache.backend: Where fetched balances are kept (file/redis)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	data, err := yaml.Marshal(maskedConfig(cfg))
	if err != nil {
		return err
	}

	if formatter.Format() == output.FormatJSON {
		// Decode through YAML so JSON keys match the file's keys.
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return err
		}
		return output.WriteJSON(w, tree)
	}

	out(w, "# %s\n", resolvedConfigPath())
	_, err = w.Write(data)
	return err
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	root, err := configNode(cfg)
	if err != nil {
		return err
	}
	node, err := lookupConfigNode(root, args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if node.Kind == yaml.ScalarNode {
		outln(w, node.Value)
		return nil
	}
	return yaml.NewEncoder(w).Encode(node)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()

	// Environment overrides must not leak into the file, so start from disk.
	current, err := config.Load(path)
	if err != nil {
		if !vaulterr.Is(err, vaulterr.ErrConfigNotFound) {
			return err
		}
		current = config.Defaults()
		current.Home = cfg.Home
	}

	updated, err := setConfigValue(current, args[0], args[1])
	if err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	if err := config.Save(updated, path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	output.Successf(cmd.OutOrStdout(), "Set %s = %s", args[0], args[1])
	return nil
}

// configNode renders the config as a YAML document tree.
func configNode(c *config.Config) (*yaml.Node, error) {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return nil, err
	}
	return &doc, nil
}

// lookupConfigNode walks a dotted path through mapping nodes.
func lookupConfigNode(root *yaml.Node, path string) (*yaml.Node, error) {
	unknown := vaulterr.WithDetails(ErrUnknownConfigKey, map[string]string{"path": path})

	node := root
	for _, part := range strings.Split(path, ".") {
		if node.Kind != yaml.MappingNode {
			return nil, unknown
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == part {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, unknown
		}
		node = next
	}
	return node, nil
}

// setConfigValue returns a copy of c with the scalar at path replaced. The
// value is decoded with the field's own type, so "true" sets a bool and
// "5" an int.
func setConfigValue(c *config.Config, path, value string) (*config.Config, error) {
	root, err := configNode(c)
	if err != nil {
		return nil, err
	}
	node, err := lookupConfigNode(root, path)
	if err != nil {
		return nil, err
	}
	if node.Kind != yaml.ScalarNode {
		return nil, vaulterr.WithSuggestion(
			vaulterr.WithDetails(ErrUnknownConfigKey, map[string]string{"path": path}),
			"only single values can be set; edit the file for lists and sections",
		)
	}
	node.Value = value
	node.Tag = ""
	node.Style = 0

	var buf bytes.Buffer
	if err := yaml.NewEncoder(&buf).Encode(root); err != nil {
		return nil, err
	}
	updated := config.Defaults()
	if err := yaml.Unmarshal(buf.Bytes(), updated); err != nil {
		return nil, vaulterr.WithDetails(
			vaulterr.WithCause(vaulterr.ErrConfigInvalid, err),
			map[string]string{"field": path, "value": value},
		)
	}
	return updated, nil
}

// maskedConfig copies the config with API keys shortened.
func maskedConfig(c *config.Config) *config.Config {
	shown := *c
	shown.Networks.ALGO.APIKey = maskSecret(c.Networks.ALGO.APIKey)
	shown.Networks.DOT.APIKey = maskSecret(c.Networks.DOT.APIKey)
	return &shown
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) >= 8:
		return s[:4] + "..."
	default:
		return "***..."
	}
}
