package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvHome         = "COINVAULT_HOME"
	EnvETHRPC       = "COINVAULT_ETH_RPC"
	EnvETHChainID   = "COINVAULT_ETH_CHAIN_ID"
	EnvBTCAPI       = "COINVAULT_BTC_API"
	EnvBCHAPI       = "COINVAULT_BCH_API"
	EnvHorizon      = "COINVAULT_XLM_HORIZON"
	EnvAlgodAPI     = "COINVAULT_ALGO_API"
	EnvAlgodToken   = "COINVAULT_ALGO_API_KEY" // #nosec G101 -- false positive, this is a const name not a credential
	EnvDOTAPI       = "COINVAULT_DOT_API"
	EnvCacheBackend = "COINVAULT_CACHE_BACKEND"
	EnvRedisAddr    = "COINVAULT_REDIS_ADDR"
	EnvOutputFormat = "COINVAULT_OUTPUT_FORMAT"
	EnvVerbose      = "COINVAULT_VERBOSE"
	EnvLogLevel     = "COINVAULT_LOG_LEVEL"
	EnvSessionTTL   = "COINVAULT_SESSION_TTL"
)

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvETHRPC); v != "" {
		cfg.Networks.ETH.RPC = SanitizeURL(v)
	}

	if v := os.Getenv(EnvETHChainID); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cfg.Networks.ETH.ChainID = id
		}
	}

	if v := os.Getenv(EnvBTCAPI); v != "" {
		cfg.Networks.BTC.API = SanitizeURL(v)
	}

	if v := os.Getenv(EnvBCHAPI); v != "" {
		cfg.Networks.BCH.API = SanitizeURL(v)
	}

	if v := os.Getenv(EnvHorizon); v != "" {
		cfg.Networks.XLM.Horizon = SanitizeURL(v)
	}

	if v := os.Getenv(EnvAlgodAPI); v != "" {
		cfg.Networks.ALGO.API = SanitizeURL(v)
	}

	if v := os.Getenv(EnvAlgodToken); v != "" {
		cfg.Networks.ALGO.APIKey = v
	}

	if v := os.Getenv(EnvDOTAPI); v != "" {
		cfg.Networks.DOT.API = SanitizeURL(v)
	}

	if v := os.Getenv(EnvCacheBackend); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}

	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	// COINVAULT_SESSION_TTL sets session timeout in minutes
	if v := os.Getenv(EnvSessionTTL); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil && ttl > 0 {
			cfg.Security.SessionTTLMinutes = ttl
		}
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL cleans a URL string by trimming whitespace, stripping control
// characters and a trailing slash. Copy-pasted endpoints often carry these.
func SanitizeURL(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	cleaned = strings.TrimRight(cleaned, "/")

	if u, err := url.Parse(cleaned); err == nil && u.Scheme != "" {
		return u.String()
	}
	return cleaned
}
