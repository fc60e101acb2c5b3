package dot

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// SS58 network prefixes.
const (
	PolkadotPrefix  uint8 = 0
	KusamaPrefix    uint8 = 2
	SubstratePrefix uint8 = 42
)

const (
	publicKeySize = 32
	checksumSize  = 2

	// maxSimplePrefix is the largest prefix encoded in a single byte.
	maxSimplePrefix = 63
)

var ss58Context = []byte("SS58PRE")

// EncodeAddress returns the SS58 address of a 32-byte public key.
func EncodeAddress(prefix uint8, pub []byte) (string, error) {
	if len(pub) != publicKeySize {
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{
			"reason": "public key must be 32 bytes",
		})
	}
	if prefix > maxSimplePrefix {
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{
			"reason": "two-byte SS58 prefixes are not supported",
		})
	}
	payload := make([]byte, 0, 1+publicKeySize+checksumSize)
	payload = append(payload, prefix)
	payload = append(payload, pub...)
	payload = append(payload, ss58Checksum(payload)...)
	return base58.Encode(payload), nil
}

// DecodeAddress returns the public key of an SS58 address on the network
// identified by prefix.
func DecodeAddress(prefix uint8, address string) ([]byte, error) {
	invalid := func(reason string) error {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{
			"chain":  "DOT",
			"reason": reason,
		})
	}

	raw := base58.Decode(address)
	if len(raw) != 1+publicKeySize+checksumSize {
		return nil, invalid("address is not a base58 account id")
	}
	if raw[0] > maxSimplePrefix {
		return nil, invalid("two-byte SS58 prefixes are not supported")
	}
	if raw[0] != prefix {
		return nil, vaulterr.WithSuggestion(invalid("address belongs to another network"),
			"use an address encoded for this network's SS58 prefix")
	}

	body, checksum := raw[:1+publicKeySize], raw[1+publicKeySize:]
	if !bytes.Equal(checksum, ss58Checksum(body)) {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidChecksum, map[string]string{"chain": "DOT"})
	}
	return bytes.Clone(body[1:]), nil
}

// ss58Checksum is the first two bytes of blake2b-512("SS58PRE" || payload).
func ss58Checksum(payload []byte) []byte {
	h, _ := blake2b.New512(nil)
	h.Write(ss58Context)
	h.Write(payload)
	return h.Sum(nil)[:checksumSize]
}
