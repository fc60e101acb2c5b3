package xlm

import (
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/stellar/go/crc16"
	"github.com/stellar/go/strkey"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// strKeyLen is the length of a G-address or S-secret.
const strKeyLen = 56

// EncodeAccountID returns the G-address of an ed25519 public key.
func EncodeAccountID(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{
			"reason": "public key must be 32 bytes",
		})
	}
	addr, err := strkey.Encode(strkey.VersionByteAccountID, pub)
	if err != nil {
		return "", vaulterr.WithCause(vaulterr.ErrInvalidInput, err)
	}
	return addr, nil
}

// DecodeAccountID returns the public key of a G-address.
func DecodeAccountID(address string) (ed25519.PublicKey, error) {
	payload, err := decodeStrKey(strkey.VersionByteAccountID, address)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(payload), nil
}

// EncodeSeed returns the S-form of an ed25519 seed, or "" when the seed is
// not 32 bytes.
func EncodeSeed(seed []byte) string {
	if len(seed) != ed25519.SeedSize {
		return ""
	}
	secret, err := strkey.Encode(strkey.VersionByteSeed, seed)
	if err != nil {
		return ""
	}
	return secret
}

// DecodeSeed returns the raw 32-byte seed of an S-form secret.
func DecodeSeed(secret string) ([]byte, error) {
	return decodeStrKey(strkey.VersionByteSeed, secret)
}

func decodeStrKey(version strkey.VersionByte, s string) ([]byte, error) {
	invalid := func(reason string) error {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{
			"address": s,
			"reason":  reason,
		})
	}

	if len(s) != strKeyLen {
		return nil, invalid("must be 56 characters")
	}
	if s != strings.ToUpper(s) {
		return nil, invalid("must be upper case")
	}

	payload, err := strkey.Decode(version, s)
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(err, crc16.ErrInvalidChecksum):
		return nil, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrInvalidChecksum, err), map[string]string{
			"address": s,
		})
	case errors.Is(err, strkey.ErrInvalidVersionByte):
		return nil, invalid("wrong key type")
	default:
		return nil, invalid(err.Error())
	}
}
