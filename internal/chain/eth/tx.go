package eth

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/eth/rpc"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// ERC-20 transfer function selector: keccak256("transfer(address,uint256)")[0:4]
//
//nolint:gochecknoglobals // ERC-20 constant
var erc20TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

const erc20TransferDataLen = 4 + 32 + 32

// maxAmountBits is the width of an EVM word; larger values cannot be
// carried as a transaction value or a uint256 argument.
const maxAmountBits = 256

// Tx is a signed Ethereum transaction.
type Tx struct {
	raw      *types.Transaction
	currency chain.Currency
	from     common.Address
}

// Currency implements chain.SignedTx.
func (t *Tx) Currency() chain.Currency { return t.currency }

// TxHash implements chain.SignedTx.
func (t *Tx) TxHash() string { return t.raw.Hash().Hex() }

// Transaction returns the underlying go-ethereum transaction.
func (t *Tx) Transaction() *types.Transaction { return t.raw }

// Summary implements chain.SignedTx. For token transfers To and Amount are
// taken from the call data rather than the transaction envelope.
func (t *Tx) Summary() chain.TxSummary {
	s := chain.TxSummary{
		From:   t.from.Hex(),
		Amount: new(big.Int).Set(t.raw.Value()),
		Fee:    new(big.Int).Mul(t.raw.GasPrice(), new(big.Int).SetUint64(t.raw.Gas())),
		Nonce:  t.raw.Nonce(),
	}
	if to := t.raw.To(); to != nil {
		s.To = to.Hex()
	}
	if recipient, amount, ok := ParseERC20TransferData(t.raw.Data()); ok {
		s.To = recipient.Hex()
		s.Amount = amount
	}
	return s
}

// BuildERC20TransferData builds the call data for an ERC-20 transfer.
// transfer(address,uint256) = 0xa9059cbb
func BuildERC20TransferData(to string, amount *big.Int) ([]byte, error) {
	if err := checkAmountWidth(amount); err != nil {
		return nil, err
	}
	data := make([]byte, erc20TransferDataLen)
	copy(data[:4], erc20TransferSelector)

	// Pad address to 32 bytes (left-pad with zeros)
	toAddr := common.HexToAddress(to)
	copy(data[16:36], toAddr.Bytes())

	// Pad amount to 32 bytes (left-pad with zeros)
	amountBytes := amount.Bytes()
	copy(data[erc20TransferDataLen-len(amountBytes):], amountBytes)

	return data, nil
}

func checkAmountWidth(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"reason": "amount must be positive",
		})
	}
	if amount.BitLen() > maxAmountBits {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"reason": "amount exceeds uint256",
		})
	}
	return nil
}

// ParseERC20TransferData extracts recipient and amount from transfer call data.
func ParseERC20TransferData(data []byte) (common.Address, *big.Int, bool) {
	if len(data) != erc20TransferDataLen || !bytes.Equal(data[:4], erc20TransferSelector) {
		return common.Address{}, nil, false
	}
	// Address words must be zero-padded.
	for _, b := range data[4:16] {
		if b != 0 {
			return common.Address{}, nil, false
		}
	}
	return common.BytesToAddress(data[16:36]), new(big.Int).SetBytes(data[36:]), true
}

// Build assembles a legacy transaction candidate. The nonce is the higher of
// the node's pending nonce and the locally assigned one, and is claimed until
// Release or Commit.
func (c *Client) Build(req chain.BuildRequest, state chain.AccountState, fees chain.FeeSchedule) (chain.Candidate, error) {
	if err := c.supports(req.Currency); err != nil {
		return chain.Candidate{}, err
	}
	if err := fieldAddress("from", req.From); err != nil {
		return chain.Candidate{}, err
	}
	if err := fieldAddress("to", req.To); err != nil {
		return chain.Candidate{}, err
	}
	if err := checkAmountWidth(req.Amount); err != nil {
		return chain.Candidate{}, err
	}
	if req.Memo != "" {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrMemoTooLong, map[string]string{
			"chain": chain.ETH.Code,
			"limit": "0",
		})
	}

	rate, err := fees.Rate(req.Tier)
	if err != nil {
		return chain.Candidate{}, err
	}

	gasLimit := GasLimitFor(req.Currency)
	var data []byte
	if req.Currency.IsToken() {
		if data, err = BuildERC20TransferData(req.To, req.Amount); err != nil {
			return chain.Candidate{}, err
		}
	}

	nonce := c.nonces.Next(req.From, state.Nonce)
	c.debug("eth: built candidate from %s nonce %d gas %d", req.From, nonce, gasLimit)

	return chain.Candidate{
		Currency:  req.Currency,
		From:      ToChecksumAddress(req.From),
		To:        ToChecksumAddress(req.To),
		Amount:    new(big.Int).Set(req.Amount),
		Tier:      req.Tier,
		FeeRate:   rate,
		Fee:       new(big.Int).Mul(rate, new(big.Int).SetUint64(gasLimit)),
		Nonce:     nonce,
		GasLimit:  gasLimit,
		Data:      data,
		CreatedAt: time.Now(),
	}, nil
}

// Release gives back the candidate's nonce if no later candidate claimed the next one.
func (c *Client) Release(cand chain.Candidate) {
	c.nonces.Release(cand.From, cand.Nonce)
}

// Commit is a no-op: the local nonce already advanced past the published one.
func (c *Client) Commit(chain.Candidate, string) {}

// Sign signs a validated candidate with the EIP-155 signer of the client's chain ID.
// The key must be secp256k1 and must control the candidate's From address.
func (c *Client) Sign(v chain.Validated, key chain.KeyPair) (chain.Signed, error) {
	cand := v.Candidate
	if err := c.supports(cand.Currency); err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrStageMismatch, err)
	}
	if key.Curve != chain.CurveSecp256k1 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "curve " + string(key.Curve) + " cannot sign ethereum transactions",
		})
	}

	priv, err := crypto.ToECDSA(key.Private)
	if err != nil {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "malformed secp256k1 private key",
		})
	}
	from := crypto.PubkeyToAddress(priv.PublicKey)
	if !strings.EqualFold(from.Hex(), cand.From) {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "key does not control " + cand.From,
		})
	}

	to := common.HexToAddress(cand.To)
	value := new(big.Int).Set(cand.Amount)
	if cand.Currency.IsToken() {
		to = common.HexToAddress(cand.Currency.Contract)
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    cand.Nonce,
		To:       &to,
		Value:    value,
		Gas:      cand.GasLimit,
		GasPrice: new(big.Int).Set(cand.FeeRate),
		Data:     cand.Data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), priv)
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrSigningFailed, err)
	}

	return chain.Signed{
		Validated: v,
		Tx:        &Tx{raw: signed, currency: cand.Currency, from: from},
	}, nil
}

// Encode serializes the signed transaction to its RLP wire form.
func (c *Client) Encode(s chain.Signed) (chain.Encoded, error) {
	tx, ok := s.Tx.(*Tx)
	if !ok || tx == nil {
		return chain.Encoded{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{"expected": "eth"})
	}

	raw, err := tx.raw.MarshalBinary()
	if err != nil {
		return chain.Encoded{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}

	return chain.Encoded{
		Signed: s,
		Raw:    raw,
		RawHex: hex.EncodeToString(raw),
		Hash:   tx.TxHash(),
	}, nil
}

// Decode parses RLP wire bytes into a signed transaction. The sender is
// recovered from the signature, and transfers to a known token contract
// decode as that token.
func (c *Client) Decode(raw []byte) (chain.Signed, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	if tx.Protected() && tx.ChainId().Cmp(c.chainID) != 0 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{
			"chain_id": tx.ChainId().String(),
			"expected": c.chainID.String(),
		})
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}

	cur := chain.ETH
	if to := tx.To(); to != nil {
		if tok, ok := c.tokens[strings.ToLower(to.Hex())]; ok {
			if _, _, isTransfer := ParseERC20TransferData(tx.Data()); isTransfer {
				cur = tok
			}
		}
	}

	return chain.Signed{Tx: &Tx{raw: tx, currency: cur, from: from}}, nil
}

// Publish submits the encoded transaction once via eth_sendRawTransaction.
// A node reporting the transaction as already known is treated as success.
func (c *Client) Publish(ctx context.Context, e chain.Encoded) (chain.Published, error) {
	hash, err := c.rpc.SendRawTransaction(ctx, e.Raw)
	if err != nil {
		nodeErr, isNodeErr := rpc.AsError(err)
		if !isNodeErr {
			return chain.Published{}, err
		}
		if isAlreadyKnown(nodeErr.Message) {
			c.debug("eth: %s already known to node", e.Hash)
			return chain.Published{Encoded: e, Hash: e.Hash, PublishedAt: time.Now(), Duplicate: true}, nil
		}
		if isNonceError(nodeErr.Message) {
			if tx, ok := e.Signed.Tx.(*Tx); ok {
				c.nonces.Reset(tx.from.Hex())
			}
		}
		return chain.Published{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrTxRejected, nodeErr), map[string]string{
			"hash": e.Hash,
		})
	}

	if !strings.EqualFold(hash, e.Hash) {
		c.logError("eth: node returned hash %s for %s", hash, e.Hash)
	}
	return chain.Published{Encoded: e, Hash: e.Hash, PublishedAt: time.Now()}, nil
}

func isAlreadyKnown(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceError(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "nonce too low")
}

func fieldAddress(field, address string) error {
	if err := ValidateChecksumAddress(address); err != nil {
		return vaulterr.WithDetails(err, map[string]string{"field": field, "address": address})
	}
	return nil
}
