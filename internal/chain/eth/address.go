package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// IsValidAddress checks if the address is a valid Ethereum address format.
// This validates the format (40 hex chars with 0x prefix) but does not validate checksum.
func IsValidAddress(address string) bool {
	return len(address) == 42 && strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// ToChecksumAddress converts an Ethereum address to EIP-55 checksum format.
// If the input is invalid, it returns the original input unchanged.
func ToChecksumAddress(address string) string {
	if !IsValidAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// ValidateChecksumAddress validates that an Ethereum address has correct EIP-55 checksum.
// All lowercase and all uppercase addresses are considered valid (non-checksummed).
// Mixed-case addresses must have the correct checksum.
func ValidateChecksumAddress(address string) error {
	if !IsValidAddress(address) {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{
			"chain":   "ETH",
			"address": address,
		})
	}

	// All lowercase or all uppercase is valid (non-checksummed)
	addrPart := address[2:]
	if addrPart == strings.ToLower(addrPart) || addrPart == strings.ToUpper(addrPart) {
		return nil
	}

	expected := ToChecksumAddress(address)
	if address != expected {
		return vaulterr.WithDetails(vaulterr.ErrInvalidChecksum, map[string]string{
			"expected": expected,
			"actual":   address,
		})
	}

	return nil
}

// NormalizeAddress validates and converts an address to EIP-55 checksum format.
func NormalizeAddress(address string) (string, error) {
	if err := ValidateChecksumAddress(address); err != nil {
		return "", err
	}
	return ToChecksumAddress(address), nil
}

// ValidateAddress implements chain.AddressValidator.
func (c *Client) ValidateAddress(address string) error {
	return ValidateChecksumAddress(address)
}
