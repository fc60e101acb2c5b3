package btc

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	bchcfg "github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchutil"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// cashAddrLen is the length of an unprefixed CashAddr for a 20-byte hash.
// Legacy base58 addresses are at most 35 characters, so the two never collide.
const cashAddrLen = 42

// DecodeAddress parses and validates an address for the client's currency.
// BTC accepts base58check P2PKH/P2SH and bech32 segwit outputs. BCH accepts
// base58check and CashAddr, with or without the network prefix, and
// returns the equivalent legacy address.
func (c *Client) DecodeAddress(address string) (btcutil.Address, error) {
	var cash *bchcfg.Params
	if c.forkID() {
		cash = cashAddrParams(c.params)
	}
	return decodeAddress(address, c.params, cash)
}

// ValidateAddress implements chain.AddressValidator.
func (c *Client) ValidateAddress(address string) error {
	_, err := c.DecodeAddress(address)
	return err
}

func invalidAddress(address, reason string) error {
	return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{
		"address": address,
		"reason":  reason,
	})
}

// decodeAddress decodes address for params. A non-nil cash enables
// CashAddr decoding and rules out segwit outputs.
func decodeAddress(address string, params *chaincfg.Params, cash *bchcfg.Params) (btcutil.Address, error) {
	if address == "" {
		return nil, invalidAddress(address, "empty address")
	}
	if cash != nil && isCashAddr(address) {
		return decodeCashAddr(address, params, cash)
	}
	if strings.Contains(address, ":") {
		return nil, invalidAddress(address, "unexpected network prefix")
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, invalidAddress(address, err.Error())
	}
	if !addr.IsForNet(params) {
		return nil, invalidAddress(address, "address is for another network")
	}

	switch addr.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash:
		return addr, nil
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressWitnessScriptHash, *btcutil.AddressTaproot:
		if cash != nil {
			return nil, invalidAddress(address, "segwit addresses are not valid on this chain")
		}
		return addr, nil
	default:
		return nil, invalidAddress(address, "unsupported address type")
	}
}

func isCashAddr(address string) bool {
	if strings.Contains(address, ":") {
		return true
	}
	if len(address) != cashAddrLen {
		return false
	}
	switch address[0] {
	case 'q', 'p', 'Q', 'P':
		return true
	}
	return false
}

// decodeCashAddr converts a CashAddr into the legacy address with the same hash.
func decodeCashAddr(address string, params *chaincfg.Params, cash *bchcfg.Params) (btcutil.Address, error) {
	payload := address
	if prefix, rest, ok := strings.Cut(address, ":"); ok {
		if !strings.EqualFold(prefix, cash.CashAddressPrefix) {
			return nil, invalidAddress(address, "address is for another network")
		}
		payload = rest
	}
	lower := strings.ToLower(payload)
	if payload != lower && payload != strings.ToUpper(payload) {
		return nil, invalidAddress(address, "mixed case")
	}
	addr, err := bchutil.DecodeAddress(cash.CashAddressPrefix+":"+lower, cash)
	if err != nil {
		return nil, invalidAddress(address, err.Error())
	}
	if !addr.IsForNet(cash) {
		return nil, invalidAddress(address, "address is for another network")
	}

	var legacy btcutil.Address
	switch addr.(type) {
	case *bchutil.AddressPubKeyHash:
		legacy, err = btcutil.NewAddressPubKeyHash(addr.ScriptAddress(), params)
	case *bchutil.AddressScriptHash:
		legacy, err = btcutil.NewAddressScriptHashFromHash(addr.ScriptAddress(), params)
	default:
		return nil, invalidAddress(address, "unsupported address type")
	}
	if err != nil {
		return nil, invalidAddress(address, err.Error())
	}
	return legacy, nil
}

// cashAddrParams returns the Bitcoin Cash network sharing params' encoding.
func cashAddrParams(params *chaincfg.Params) *bchcfg.Params {
	if params.Net == chaincfg.TestNet3Params.Net {
		return &bchcfg.TestNet3Params
	}
	return &bchcfg.MainNetParams
}

// DisplayAddress returns the form an address is shown and shared in. BCH
// addresses are rendered as prefixed CashAddr; BTC addresses are returned
// as given once valid.
func (c *Client) DisplayAddress(address string) (string, error) {
	addr, err := c.DecodeAddress(address)
	if err != nil {
		return "", err
	}
	if !c.forkID() {
		return address, nil
	}

	cash := cashAddrParams(c.params)
	var out bchutil.Address
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		out, err = bchutil.NewAddressPubKeyHash(addr.ScriptAddress(), cash)
	case *btcutil.AddressScriptHash:
		out, err = bchutil.NewAddressScriptHashFromHash(addr.ScriptAddress(), cash)
	default:
		return "", invalidAddress(address, "unsupported address type")
	}
	if err != nil {
		return "", vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	prefix := cash.CashAddressPrefix + ":"
	return prefix + strings.TrimPrefix(out.EncodeAddress(), prefix), nil
}

// senderAddress decodes a spending address: P2PKH on both chains, or
// P2WPKH on BTC.
func (c *Client) senderAddress(address string) (btcutil.Address, error) {
	addr, err := c.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressWitnessPubKeyHash:
		return addr, nil
	default:
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{
			"address": address,
			"reason":  "only P2PKH and P2WPKH addresses can be spent from",
		})
	}
}

// AddressForKey returns the compressed P2PKH address of pub.
func (c *Client) AddressForKey(pub *btcec.PublicKey) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), c.params)
	if err != nil {
		return "", vaulterr.WithCause(vaulterr.ErrSigningFailed, err)
	}
	return addr.EncodeAddress(), nil
}

// payToAddress returns the locking script of an address.
func (c *Client) payToAddress(address string) ([]byte, error) {
	addr, err := c.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	return script, nil
}

// scriptAddress extracts the single address paid by a locking script, or "".
func (c *Client) scriptAddress(script []byte) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, c.params)
	if err != nil || len(addrs) != 1 {
		return ""
	}
	return addrs[0].EncodeAddress()
}
