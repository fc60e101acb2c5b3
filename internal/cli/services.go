package cli

import (
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"time"

	"github.com/mrz1836/coinvault/internal/cache"
	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/algo"
	"github.com/mrz1836/coinvault/internal/chain/btc"
	"github.com/mrz1836/coinvault/internal/chain/dot"
	"github.com/mrz1836/coinvault/internal/chain/eth"
	"github.com/mrz1836/coinvault/internal/chain/eth/rpc"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	"github.com/mrz1836/coinvault/internal/chain/xlm"
	"github.com/mrz1836/coinvault/internal/config"
	"github.com/mrz1836/coinvault/internal/keys"
	"github.com/mrz1836/coinvault/internal/metrics"
	"github.com/mrz1836/coinvault/internal/service/balance"
	"github.com/mrz1836/coinvault/internal/service/receive"
	"github.com/mrz1836/coinvault/internal/service/transaction"
	"github.com/mrz1836/coinvault/internal/session"
	"github.com/mrz1836/coinvault/internal/utxostore"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Services is the object graph behind the commands.
type Services struct {
	Registry     *chain.Registry
	Store        cache.Store
	Signals      *session.Signals
	Keys         *KeyLoader
	Balances     *balance.Service
	Receive      *receive.Service
	Transactions *transaction.Service
	Logger       LogWriter

	closers []func() error
}

// ServicesConfig assembles Services from parts, used by BuildServices and tests.
type ServicesConfig struct {
	Registry   *chain.Registry
	Store      cache.Store // optional
	Keys       *KeyLoader  // optional
	Config     balance.ConfigProvider
	Logger     LogWriter
	SessionTTL time.Duration
}

// NewServices wires the balance, receive and transaction services over a registry.
func NewServices(sc ServicesConfig) *Services {
	signals := session.NewSignals()
	keyLoader := sc.Keys
	if keyLoader == nil {
		keyLoader = NewKeyLoader(nil, keys.Options{})
	}
	keyLoader.bind(signals, sc.SessionTTL)

	store := sc.Store
	balances := balance.NewService(&balance.Config{
		Registry:       sc.Registry,
		Store:          store,
		ConfigProvider: sc.Config,
		Session:        signals,
		Metrics:        metrics.Global,
		Logger:         sc.Logger,
	})

	var activity receive.ActivityProvider
	if store != nil {
		activity = receive.NewSnapshotActivity(store)
	}

	return &Services{
		Registry: sc.Registry,
		Store:    store,
		Signals:  signals,
		Keys:     keyLoader,
		Balances: balances,
		Receive: receive.NewService(&receive.Config{
			Registry: sc.Registry,
			Keys:     keyLoader,
			Activity: activity,
			Logger:   sc.Logger,
		}),
		Transactions: transaction.NewService(&transaction.Config{
			Registry: sc.Registry,
			Keys:     keyLoader,
			Balances: balances,
			Metrics:  metrics.Global,
			Logger:   sc.Logger,
		}),
		Logger: sc.Logger,
	}
}

// BuildServices connects every enabled network in cfg and opens the
// snapshot store.
func BuildServices(cfg *config.Config, logger *config.Logger, mnemonic MnemonicProvider) (*Services, error) {
	if logger == nil {
		logger = config.NullLogger()
	}
	home := cfg.GetHome()

	registry, err := buildRegistry(cfg, logger, home)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(cfg, logger, home)
	if err != nil {
		return nil, err
	}

	opts := keys.Options{
		Testnet: cfg.Networks.BTC.Testnet,
	}

	s := NewServices(ServicesConfig{
		Registry:   registry,
		Store:      store,
		Keys:       NewKeyLoader(mnemonic, opts),
		Config:     cfg,
		Logger:     logger.With("services"),
		SessionTTL: cfg.GetSessionTTL(),
	})
	if closeStore != nil {
		s.closers = append(s.closers, closeStore)
	}
	return s, nil
}

// Close logs out, zeroes key material and closes the snapshot store.
func (s *Services) Close() {
	s.Keys.Close()
	for _, c := range s.closers {
		if err := c(); err != nil && s.Logger != nil {
			s.Logger.Error("closing service: %v", err)
		}
	}
	s.closers = nil
}

//nolint:gocognit,gocyclo // one block per chain family
func buildRegistry(cfg *config.Config, logger *config.Logger, home string) (*chain.Registry, error) {
	registry := chain.NewRegistry()
	limiter := httpapi.DefaultRateLimiter()
	api := func(name, url string, opts ...httpapi.Option) *httpapi.Client {
		opts = append([]httpapi.Option{
			httpapi.WithRateLimiter(limiter),
			httpapi.WithMetrics(metrics.Global),
		}, opts...)
		return httpapi.New(name, config.SanitizeURL(url), opts...)
	}

	nets := cfg.Networks

	if nets.ETH.Enabled {
		fallbacks := make([]*httpapi.Client, 0, len(nets.ETH.FallbackRPCs))
		for _, u := range nets.ETH.FallbackRPCs {
			fallbacks = append(fallbacks, api("eth-fallback", u))
		}
		tokens := make([]chain.Currency, 0, len(nets.ETH.Tokens))
		for _, t := range nets.ETH.Tokens {
			tokens = append(tokens, chain.NewToken(chain.ETH, t.Symbol, t.Address, uint8(t.Decimals))) //nolint:gosec // validated to 0..36
		}
		client, err := eth.NewClient(eth.Config{
			RPC:     rpc.NewClient(api("eth", nets.ETH.RPC), fallbacks...),
			ChainID: big.NewInt(nets.ETH.ChainID),
			Tokens:  tokens,
			Logger:  logger.With("eth"),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(chain.ETH, client.Capabilities())
		for _, tok := range client.Tokens() {
			registry.Register(tok, client.Capabilities())
		}
	}

	for _, u := range []struct {
		cur chain.Currency
		net config.UTXONetworkConfig
	}{
		{chain.BTC, nets.BTC},
		{chain.BCH, nets.BCH},
	} {
		if !u.net.Enabled {
			continue
		}
		store := utxostore.New(filepath.Join(home, "utxos", u.cur.Key()+".json"),
			utxostore.WithLogger(logger.With(u.cur.Key())))
		if err := store.Load(); err != nil {
			return nil, err
		}

		client, err := btc.NewClient(btc.Config{
			Currency:        u.cur,
			API:             api(u.cur.Key(), u.net.API),
			Testnet:         u.net.Testnet,
			Store:           store,
			MinFeeRate:      cfg.Fees.MinSatsPerVByte,
			MaxFeeRate:      cfg.Fees.MaxSatsPerVByte,
			FallbackFeeRate: cfg.Fees.FallbackSatsPerB,
			Logger:          logger.With(u.cur.Key()),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(u.cur, client.Capabilities())
	}

	if nets.XLM.Enabled {
		client, err := xlm.NewClient(xlm.Config{
			API:        api("horizon", nets.XLM.Horizon),
			Passphrase: nets.XLM.Passphrase,
			Logger:     logger.With("xlm"),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(chain.XLM, client.Capabilities())
	}

	if nets.ALGO.Enabled {
		var opts []httpapi.Option
		if nets.ALGO.APIKey != "" {
			opts = append(opts, httpapi.WithHeader(algo.TokenHeader, nets.ALGO.APIKey))
		}
		client, err := algo.NewClient(algo.Config{
			API:    api("algod", nets.ALGO.API, opts...),
			Logger: logger.With("algo"),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(chain.ALGO, client.Capabilities())
	}

	if nets.DOT.Enabled {
		client, err := dot.NewClient(dot.Config{
			API:    api("sidecar", nets.DOT.API),
			Logger: logger.With("dot"),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(chain.DOT, client.Capabilities())
	}

	return registry, nil
}

// openStore opens the configured snapshot backend. A corrupt file store is
// reported in the log and replaced by an empty one.
func openStore(cfg *config.Config, logger *config.Logger, home string) (cache.Store, func() error, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		store := cache.NewRedisStore(cache.RedisOptions{
			Addr:   cfg.Cache.RedisAddr,
			Prefix: cfg.Cache.RedisPrefix,
			TTL:    24 * time.Hour,
		})
		return store, store.Close, nil
	default:
		store, err := cache.OpenFileStore(filepath.Join(home, "cache", "details.json"))
		if err != nil {
			if store != nil && errors.Is(err, cache.ErrCorruptCache) {
				logger.Error("balance cache: %v", err)
				return store, nil, nil
			}
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// KeyLoader reads the mnemonic the first time key material is needed and
// logs the session in. It satisfies the key interfaces of the receive and
// transaction services.
type KeyLoader struct {
	mu      sync.Mutex
	provide MnemonicProvider
	opts    keys.Options
	signals *session.Signals
	ttl     time.Duration
	src     *keys.Source
}

// NewKeyLoader creates a loader over provide. A nil provide means no key
// material is available.
func NewKeyLoader(provide MnemonicProvider, opts keys.Options) *KeyLoader {
	return &KeyLoader{provide: provide, opts: opts}
}

func (k *KeyLoader) bind(signals *session.Signals, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signals = signals
	k.ttl = ttl
}

// Loaded reports whether key material has been read.
func (k *KeyLoader) Loaded() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.src != nil
}

// Address derives the receive address at index.
func (k *KeyLoader) Address(cur chain.Currency, index uint32) (string, error) {
	src, err := k.source()
	if err != nil {
		return "", err
	}
	return src.Address(cur, index)
}

// Find scans the first limit indexes for the key controlling address.
func (k *KeyLoader) Find(cur chain.Currency, address string, limit uint32) (chain.KeyPair, uint32, error) {
	src, err := k.source()
	if err != nil {
		return chain.KeyPair{}, 0, err
	}
	return src.Find(cur, address, limit)
}

// Close zeroes the seed and logs out.
func (k *KeyLoader) Close() {
	k.mu.Lock()
	src, signals := k.src, k.signals
	k.src = nil
	k.mu.Unlock()

	if src == nil {
		return
	}
	src.Close()
	if signals != nil {
		signals.Logout()
	}
}

func (k *KeyLoader) source() (*keys.Source, error) {
	k.mu.Lock()
	if k.src != nil {
		src := k.src
		k.mu.Unlock()
		return src, nil
	}
	if k.provide == nil {
		k.mu.Unlock()
		return nil, vaulterr.WithSuggestion(vaulterr.ErrNotLoggedIn,
			"set COINVAULT_MNEMONIC or run from a terminal to enter the mnemonic")
	}

	mnemonic, passphrase, err := k.provide()
	if err != nil {
		k.mu.Unlock()
		return nil, err
	}
	src, err := keys.NewSource(mnemonic, passphrase, k.opts)
	if err != nil {
		k.mu.Unlock()
		return nil, err
	}
	k.src = src
	signals, ttl := k.signals, k.ttl
	k.mu.Unlock()

	// Login fans out to subscribers, which must not run under k.mu.
	if signals != nil {
		signals.Login("mnemonic", ttl)
	}
	return src, nil
}
