// Package config provides configuration management for coinvault.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"home"`
	Networks NetworksConfig `yaml:"networks"`
	Fees     FeesConfig     `yaml:"fees"`
	Cache    CacheConfig    `yaml:"cache"`
	Security SecurityConfig `yaml:"security"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NetworksConfig defines per-chain network settings.
type NetworksConfig struct {
	ETH  ETHNetworkConfig  `yaml:"eth"`
	BTC  UTXONetworkConfig `yaml:"btc"`
	BCH  UTXONetworkConfig `yaml:"bch"`
	XLM  XLMNetworkConfig  `yaml:"xlm"`
	ALGO APINetworkConfig  `yaml:"algo"`
	DOT  APINetworkConfig  `yaml:"dot"`
}

// ETHNetworkConfig defines Ethereum network settings.
type ETHNetworkConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RPC          string        `yaml:"rpc"`
	FallbackRPCs []string      `yaml:"fallback_rpcs,omitempty"`
	ChainID      int64         `yaml:"chain_id"`
	Tokens       []TokenConfig `yaml:"tokens"`
}

// TokenConfig defines an ERC-20 token to track.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// UTXONetworkConfig defines an Esplora-compatible indexer for a UTXO chain.
type UTXONetworkConfig struct {
	Enabled bool   `yaml:"enabled"`
	API     string `yaml:"api"`
	Testnet bool   `yaml:"testnet"`
}

// XLMNetworkConfig defines Stellar Horizon settings.
type XLMNetworkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Horizon    string `yaml:"horizon"`
	Passphrase string `yaml:"passphrase"`
}

// APINetworkConfig defines a read-only REST endpoint.
type APINetworkConfig struct {
	Enabled bool   `yaml:"enabled"`
	API     string `yaml:"api"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// FeesConfig defines fee estimation settings.
type FeesConfig struct {
	DefaultTier      string `yaml:"default_tier"`
	MinSatsPerVByte  uint64 `yaml:"min_sats_per_vbyte"`
	MaxSatsPerVByte  uint64 `yaml:"max_sats_per_vbyte"`
	FallbackSatsPerB uint64 `yaml:"fallback_sats_per_vbyte"`
}

// CacheConfig defines balance cache and snapshot settings.
type CacheConfig struct {
	MaxAgeSeconds   int    `yaml:"max_age_seconds"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Backend         string `yaml:"backend"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPrefix     string `yaml:"redis_prefix"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Cache backends.
const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

// Load reads configuration from the specified file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, vaulterr.WithDetails(vaulterr.ErrConfigNotFound, map[string]string{"path": path})
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, vaulterr.WithCause(vaulterr.ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks values that would otherwise fail late at request time.
func (c *Config) Validate() error {
	invalid := func(field, reason string) error {
		return vaulterr.WithDetails(vaulterr.ErrConfigInvalid, map[string]string{"field": field, "reason": reason})
	}

	if c.Networks.ETH.Enabled {
		if c.Networks.ETH.RPC == "" {
			return invalid("networks.eth.rpc", "required when eth is enabled")
		}
		if c.Networks.ETH.ChainID <= 0 {
			return invalid("networks.eth.chain_id", "must be positive")
		}
	}
	for _, tok := range c.Networks.ETH.Tokens {
		if tok.Decimals < 0 || tok.Decimals > 36 {
			return invalid("networks.eth.tokens", "decimals out of range for "+tok.Symbol)
		}
	}
	if c.Fees.MaxSatsPerVByte > 0 && c.Fees.MinSatsPerVByte > c.Fees.MaxSatsPerVByte {
		return invalid("fees.min_sats_per_vbyte", "greater than max_sats_per_vbyte")
	}
	switch c.Cache.Backend {
	case CacheBackendFile:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return invalid("cache.redis_addr", "required for the redis backend")
		}
	default:
		return invalid("cache.backend", "must be file or redis")
	}
	return nil
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the coinvault home directory path with ~ expanded.
func (c *Config) GetHome() string {
	return expandHome(c.Home)
}

// GetETHRPC returns the Ethereum RPC URL.
func (c *Config) GetETHRPC() string {
	return c.Networks.ETH.RPC
}

// GetETHFallbackRPCs returns the fallback Ethereum RPC URLs.
func (c *Config) GetETHFallbackRPCs() []string {
	return c.Networks.ETH.FallbackRPCs
}

// GetETHChainID returns the EIP-155 chain ID.
func (c *Config) GetETHChainID() int64 {
	return c.Networks.ETH.ChainID
}

// GetCacheMaxAge returns how long a fetched balance is served from cache.
func (c *Config) GetCacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeSeconds) * time.Second
}

// GetCacheInterval returns the periodic refresh interval for subscribed balances.
func (c *Config) GetCacheInterval() time.Duration {
	return time.Duration(c.Cache.IntervalSeconds) * time.Second
}

// GetSessionTTL returns the configured session duration.
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.Security.SessionTTLMinutes) * time.Minute
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// DefaultHome returns the default coinvault home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coinvault"
	}
	return filepath.Join(home, ".coinvault")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
