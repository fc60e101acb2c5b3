package keys

import (
	"crypto/ed25519"
	"strconv"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/algo"
	"github.com/mrz1836/coinvault/internal/chain/dot"
	"github.com/mrz1836/coinvault/internal/chain/xlm"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// DefaultScanLimit is how many indices Find tries before giving up.
const DefaultScanLimit = 20

// ErrKeyNotFound indicates no derived address matched.
var ErrKeyNotFound = &vaulterr.WalletError{
	Code:       "KEY_NOT_FOUND",
	Message:    "address is not derived from this mnemonic",
	Class:      vaulterr.ClassInput,
	Suggestion: "check the --from address or the mnemonic passphrase",
	ExitCode:   vaulterr.ExitInput,
}

// Options selects the address encoding of derived keys.
type Options struct {
	Testnet   bool  // testnet encoding for BTC and BCH
	DOTPrefix uint8 // SS58 prefix, defaults to dot.PolkadotPrefix
}

// Source derives key pairs from a BIP39 seed. It is safe for concurrent use.
type Source struct {
	mu     sync.Mutex
	seed   []byte
	locked bool // seed pages are mlocked
	opts   Options
}

// NewSource derives the seed of a mnemonic and optional passphrase.
func NewSource(mnemonic, passphrase string, opts Options) (*Source, error) {
	seed, err := MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return newSource(seed, opts), nil
}

// NewSourceFromSeed uses a raw BIP32 seed of 16 to 64 bytes. The seed is copied.
func NewSourceFromSeed(seed []byte, opts Options) (*Source, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{
			"seed_bytes": strconv.Itoa(len(seed)),
		})
	}
	return newSource(append([]byte(nil), seed...), opts), nil
}

// newSource takes ownership of seed. Locking is best effort; without
// CAP_IPC_LOCK or a large enough RLIMIT_MEMLOCK the seed stays swappable.
func newSource(seed []byte, opts Options) *Source {
	return &Source{seed: seed, locked: mlock(seed), opts: opts}
}

// Close zeroes the seed. The source is unusable afterwards.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.seed {
		s.seed[i] = 0
	}
	if s.locked {
		munlock(s.seed)
		s.locked = false
	}
	s.seed = nil
}

// CurveFor returns the signature curve used for a currency.
func CurveFor(cur chain.Currency) (chain.Curve, error) {
	switch cur.Family() {
	case chain.FamilyUTXO, chain.FamilyNonce:
		return chain.CurveSecp256k1, nil
	case chain.FamilySequence, chain.FamilyAccount:
		return chain.CurveEd25519, nil
	default:
		return "", unsupported(cur)
	}
}

// Path returns the derivation path of the key at index. secp256k1 chains
// use m/44'/coin'/0'/0/index, ed25519 chains use m/44'/coin'/index'.
func Path(cur chain.Currency, index uint32) (string, error) {
	curve, err := CurveFor(cur)
	if err != nil {
		return "", err
	}
	if curve == chain.CurveEd25519 {
		return "m/44'/" + strconv.FormatUint(uint64(cur.CoinType()), 10) + "'/" +
			strconv.FormatUint(uint64(index), 10) + "'", nil
	}
	return cur.DerivationPath() + "/0/" + strconv.FormatUint(uint64(index), 10), nil
}

// ParsePath converts "m/44'/60'/0'/0/1" into child indices.
func ParsePath(path string) ([]uint32, error) {
	invalid := vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{"path": path})

	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, invalid
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		p = strings.TrimRight(p, "'h")
		n, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return nil, invalid
		}
		idx := uint32(n)
		if hardened {
			idx += HardenedOffset
		}
		out = append(out, idx)
	}
	return out, nil
}

// KeyPair derives the key pair of a currency at index. Tokens use the key
// of their hosting chain. The caller zeroes the pair after use.
func (s *Source) KeyPair(cur chain.Currency, index uint32) (chain.KeyPair, error) {
	cur = cur.Chain()
	curve, err := CurveFor(cur)
	if err != nil {
		return chain.KeyPair{}, err
	}
	path, err := Path(cur, index)
	if err != nil {
		return chain.KeyPair{}, err
	}
	indices, err := ParsePath(path)
	if err != nil {
		return chain.KeyPair{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed == nil {
		return chain.KeyPair{}, vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{"reason": "key source closed"})
	}

	if curve == chain.CurveEd25519 {
		kp, err := deriveEd25519(s.seed, indices)
		if err != nil {
			return chain.KeyPair{}, derivationFailed(cur, path, err)
		}
		return kp, nil
	}

	key, err := bip32.NewMasterKey(s.seed)
	if err != nil {
		return chain.KeyPair{}, derivationFailed(cur, path, err)
	}
	for _, idx := range indices {
		if key, err = key.NewChildKey(idx); err != nil {
			return chain.KeyPair{}, derivationFailed(cur, path, err)
		}
	}
	return chain.KeyPair{
		Curve:   chain.CurveSecp256k1,
		Private: privateBytes(key),
		Public:  append([]byte(nil), key.PublicKey().Key...),
	}, nil
}

// Address derives the receive address of a currency at index.
func (s *Source) Address(cur chain.Currency, index uint32) (string, error) {
	kp, err := s.KeyPair(cur, index)
	if err != nil {
		return "", err
	}
	defer kp.Zero()
	return EncodeAddress(cur, kp.Public, s.opts)
}

// Find scans indices [0, limit) for address and returns its key pair.
func (s *Source) Find(cur chain.Currency, address string, limit uint32) (chain.KeyPair, uint32, error) {
	if limit == 0 {
		limit = DefaultScanLimit
	}
	for index := range limit {
		kp, err := s.KeyPair(cur, index)
		if err != nil {
			return chain.KeyPair{}, 0, err
		}
		derived, err := EncodeAddress(cur, kp.Public, s.opts)
		if err != nil {
			kp.Zero()
			return chain.KeyPair{}, 0, err
		}
		if sameAddress(cur, derived, address) {
			return kp, index, nil
		}
		kp.Zero()
	}
	return chain.KeyPair{}, 0, vaulterr.WithDetails(ErrKeyNotFound, map[string]string{
		"currency": cur.Code,
		"address":  address,
		"scanned":  strconv.FormatUint(uint64(limit), 10),
	})
}

// EncodeAddress renders a public key as an address of cur.
func EncodeAddress(cur chain.Currency, pub []byte, opts Options) (string, error) {
	switch cur.Chain() {
	case chain.BTC, chain.BCH:
		params := &chaincfg.MainNetParams
		if opts.Testnet {
			params = &chaincfg.TestNet3Params
		}
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), params)
		if err != nil {
			return "", vaulterr.WithCause(vaulterr.ErrInvalidInput, err)
		}
		return addr.EncodeAddress(), nil
	case chain.ETH:
		pk, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return "", vaulterr.WithCause(vaulterr.ErrInvalidInput, err)
		}
		return crypto.PubkeyToAddress(*pk).Hex(), nil
	case chain.XLM:
		return xlm.EncodeAccountID(ed25519.PublicKey(pub))
	case chain.ALGO:
		return algo.EncodeAddress(pub)
	case chain.DOT:
		return dot.EncodeAddress(opts.DOTPrefix, pub)
	default:
		return "", unsupported(cur)
	}
}

func sameAddress(cur chain.Currency, a, b string) bool {
	if cur.Chain() == chain.ETH {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// privateBytes returns the 32-byte scalar, dropping the 0x00 prefix some
// bip32 encodings carry.
func privateBytes(k *bip32.Key) []byte {
	raw := k.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return append([]byte(nil), raw...)
}

func derivationFailed(cur chain.Currency, path string, err error) error {
	return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrSigningFailed, err), map[string]string{
		"currency": cur.Code,
		"path":     path,
	})
}

func unsupported(cur chain.Currency) error {
	return vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
		"currency":  cur.Code,
		"operation": "key derivation",
	})
}
