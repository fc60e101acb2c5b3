package keys

import (
	"crypto/ed25519"

	"github.com/stellar/go/tools/stellar-hd-wallet/crypto/derivation"

	"github.com/mrz1836/coinvault/internal/chain"
)

// HardenedOffset is added to an index to derive a hardened child.
const HardenedOffset = derivation.FirstHardenedIndex

// deriveEd25519 walks a SLIP-10 ed25519 path. Only hardened children exist.
// The private half of the pair is the 32-byte seed.
func deriveEd25519(seed []byte, path []uint32) (chain.KeyPair, error) {
	key, err := derivation.NewMasterKey(seed)
	if err != nil {
		return chain.KeyPair{}, err
	}
	for _, index := range path {
		next, err := key.Derive(index)
		clear(key.Key)
		clear(key.ChainCode)
		if err != nil {
			return chain.KeyPair{}, err
		}
		key = next
	}
	defer clear(key.Key)
	defer clear(key.ChainCode)

	priv := append([]byte(nil), key.Key...)
	return chain.KeyPair{
		Curve:   chain.CurveEd25519,
		Private: priv,
		Public:  ed25519.NewKeyFromSeed(priv).Public().(ed25519.PublicKey), //nolint:forcetypeassert // ed25519 keys always return ed25519.PublicKey
	}, nil
}
