package algo

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"strings"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

const (
	publicKeySize = 32
	checksumSize  = 4

	// AddressLength is the length of an encoded account address.
	AddressLength = 58
)

var addrEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeAddress returns the account address of an ed25519 public key: the
// key followed by the last four bytes of its SHA-512/256 digest, base32
// encoded without padding.
func EncodeAddress(pub []byte) (string, error) {
	if len(pub) != publicKeySize {
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{
			"reason": "public key must be 32 bytes",
		})
	}
	sum := sha512.Sum512_256(pub)
	payload := make([]byte, 0, publicKeySize+checksumSize)
	payload = append(payload, pub...)
	payload = append(payload, sum[len(sum)-checksumSize:]...)
	return addrEncoding.EncodeToString(payload), nil
}

// DecodeAddress returns the public key of an account address.
func DecodeAddress(address string) ([]byte, error) {
	invalid := func(reason string) error {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{
			"chain":  "ALGO",
			"reason": reason,
		})
	}
	if len(address) != AddressLength {
		return nil, invalid("address must be 58 characters")
	}
	if address != strings.ToUpper(address) {
		return nil, invalid("address must be upper case")
	}

	raw, err := addrEncoding.DecodeString(address)
	if err != nil || len(raw) != publicKeySize+checksumSize {
		return nil, invalid("address is not base32")
	}

	pub, checksum := raw[:publicKeySize], raw[publicKeySize:]
	sum := sha512.Sum512_256(pub)
	if !bytes.Equal(checksum, sum[len(sum)-checksumSize:]) {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidChecksum, map[string]string{"chain": "ALGO"})
	}
	return pub, nil
}
