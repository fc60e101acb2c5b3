package config

// DefaultETHRPCURL is the default Ethereum RPC endpoint.
// Uses PublicNode (Allnodes), a privacy-first provider that requires no API key.
const DefaultETHRPCURL = "https://ethereum-rpc.publicnode.com"

// Default public endpoints for the other chains.
const (
	DefaultBTCAPI        = "https://blockstream.info/api"
	DefaultBCHAPI        = "https://api.fullstack.cash/v5/electrumx"
	DefaultHorizonURL    = "https://horizon.stellar.org"
	DefaultXLMPassphrase = "Public Global Stellar Network ; September 2015"
	DefaultAlgodURL      = "https://mainnet-api.algonode.cloud"
	DefaultDOTSidecarURL = "https://polkadot-public-sidecar.parity-chains.parity.io"
)

// DefaultETHFallbackRPCs are backup Ethereum RPC endpoints tried when the primary fails.
//
//nolint:gochecknoglobals // Configuration default constant, same pattern as DefaultETHRPCURL
var DefaultETHFallbackRPCs = []string{
	"https://rpc.ankr.com/eth",
	"https://1rpc.io/eth",
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.coinvault",
		Networks: NetworksConfig{
			ETH: ETHNetworkConfig{
				Enabled:      true,
				RPC:          DefaultETHRPCURL,
				FallbackRPCs: DefaultETHFallbackRPCs,
				ChainID:      1,
				Tokens: []TokenConfig{
					{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
					{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
				},
			},
			BTC:  UTXONetworkConfig{Enabled: true, API: DefaultBTCAPI},
			BCH:  UTXONetworkConfig{Enabled: true, API: DefaultBCHAPI},
			XLM:  XLMNetworkConfig{Enabled: true, Horizon: DefaultHorizonURL, Passphrase: DefaultXLMPassphrase},
			ALGO: APINetworkConfig{Enabled: true, API: DefaultAlgodURL},
			DOT:  APINetworkConfig{Enabled: true, API: DefaultDOTSidecarURL},
		},
		Fees: FeesConfig{
			DefaultTier:      "regular",
			MinSatsPerVByte:  1,
			MaxSatsPerVByte:  500,
			FallbackSatsPerB: 2,
		},
		Cache: CacheConfig{
			MaxAgeSeconds:   60,
			IntervalSeconds: 30,
			Backend:         CacheBackendFile,
			RedisAddr:       "localhost:6379",
			RedisPrefix:     "coinvault:",
		},
		Security: SecurityConfig{
			SessionTTLMinutes: 15,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.coinvault/coinvault.log",
		},
	}
}
