package chain

import (
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// FeeTier is a discrete priority level resolved to a concrete rate at build time.
type FeeTier string

// Fee tiers.
const (
	TierLow      FeeTier = "low"
	TierRegular  FeeTier = "regular"
	TierPriority FeeTier = "priority"
)

// ParseFeeTier parses a tier name. Empty selects TierRegular.
func ParseFeeTier(s string) (FeeTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "regular", "normal", "medium":
		return TierRegular, nil
	case "low", "slow", "economy":
		return TierLow, nil
	case "priority", "fast", "high":
		return TierPriority, nil
	default:
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidFeeTier, map[string]string{"tier": s})
	}
}

// FeeSchedule holds the current per-unit fee rates of a chain.
// Rates are per gas (ETH), per virtual byte (BTC/BCH) or per operation (XLM).
type FeeSchedule struct {
	Currency  Currency // native currency the fee is paid in
	Unit      string
	Low       *big.Int
	Regular   *big.Int
	Priority  *big.Int
	Minimum   *big.Int // network floor; rates below it are rejected
	FetchedAt time.Time
}

// Rate returns the per-unit rate of a tier.
func (s FeeSchedule) Rate(tier FeeTier) (*big.Int, error) {
	var r *big.Int
	switch tier {
	case TierLow:
		r = s.Low
	case TierRegular, "":
		r = s.Regular
	case TierPriority:
		r = s.Priority
	default:
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidFeeTier, map[string]string{"tier": string(tier)})
	}
	if r == nil {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidFeeTier, map[string]string{
			"tier":  string(tier),
			"chain": s.Currency.Code,
		})
	}
	return new(big.Int).Set(r), nil
}

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string
	Vout          uint32
	Amount        uint64 // satoshis
	ScriptPubKey  string // hex
	Address       string
	Confirmations uint32
}

// Key returns the outpoint as "txid:vout".
func (u UTXO) Key() string {
	return u.TxID + ":" + strconv.FormatUint(uint64(u.Vout), 10)
}

// AccountState is the on-chain view of one address.
type AccountState struct {
	Currency  Currency
	Address   string
	Confirmed *big.Int
	Pending   *big.Int // unconfirmed delta, may be negative
	FeeFunds  *big.Int // native balance available for fees when Currency is a token
	Reserve   *big.Int // part of Confirmed the ledger never lets the account spend
	Nonce     uint64   // next nonce (ETH) or current sequence number (XLM)
	UTXOs     []UTXO
	FetchedAt time.Time
}

// Total returns confirmed plus pending.
func (s AccountState) Total() *big.Int {
	total := new(big.Int)
	if s.Confirmed != nil {
		total.Add(total, s.Confirmed)
	}
	if s.Pending != nil {
		total.Add(total, s.Pending)
	}
	return total
}

// Spendable returns Total minus Reserve.
func (s AccountState) Spendable() *big.Int {
	total := s.Total()
	if s.Reserve != nil {
		total.Sub(total, s.Reserve)
	}
	return total
}

// Curve names the signature scheme of a key pair.
type Curve string

// Supported curves.
const (
	CurveSecp256k1 Curve = "secp256k1"
	CurveEd25519   Curve = "ed25519"
)

// KeyPair is supplied by an external key source for one account.
type KeyPair struct {
	Curve   Curve
	Private []byte
	Public  []byte
}

// Zero overwrites the private key.
func (k *KeyPair) Zero() {
	for i := range k.Private {
		k.Private[i] = 0
	}
}

// BuildRequest describes a transfer before chain-specific inputs are resolved.
type BuildRequest struct {
	Currency      Currency
	From          string
	To            string
	Amount        *big.Int
	Tier          FeeTier
	Memo          string
	ChangeAddress string // UTXO chains only, defaults to From
}

// Candidate is an unsigned transaction proposal. It is never mutated after
// construction; a rejected candidate is rebuilt rather than edited.
type Candidate struct {
	ID            string
	Currency      Currency
	From          string
	To            string
	Amount        *big.Int
	Tier          FeeTier
	FeeRate       *big.Int // per-unit rate resolved from the tier
	Fee           *big.Int // total fee, paid in Currency.Chain()
	Memo          string
	Nonce         uint64 // ETH nonce or XLM sequence number of this transaction
	GasLimit      uint64
	Data          []byte // ERC-20 call data
	Inputs        []UTXO
	Change        uint64
	ChangeAddress string
	CreatedAt     time.Time
}

// FeeCurrency returns the currency the fee is paid in.
func (c Candidate) FeeCurrency() Currency {
	return c.Currency.Chain()
}

// Clone returns a deep copy.
func (c Candidate) Clone() Candidate {
	out := c
	out.Amount = cloneInt(c.Amount)
	out.FeeRate = cloneInt(c.FeeRate)
	out.Fee = cloneInt(c.Fee)
	out.Data = slices.Clone(c.Data)
	out.Inputs = slices.Clone(c.Inputs)
	return out
}

// Validated is a candidate that passed balance and fee checks.
type Validated struct {
	Candidate Candidate
	Spendable *big.Int // balance minus fee at evaluation time
}

// SignedTx is the chain-specific signed transaction carried by Signed.
type SignedTx interface {
	// Currency returns the chain the transaction belongs to.
	Currency() Currency
	// TxHash returns the network transaction hash.
	TxHash() string
	// Summary returns a chain-neutral view of the transaction.
	Summary() TxSummary
}

// TxSummary describes a signed transaction independently of its chain.
// Fields that do not apply to a chain are left zero.
type TxSummary struct {
	From    string   `json:"from,omitempty"`
	To      string   `json:"to"`
	Amount  *big.Int `json:"amount"`
	Fee     *big.Int `json:"fee,omitempty"` // nil when it cannot be derived from the transaction alone
	Nonce   uint64   `json:"nonce,omitempty"`
	Memo    string   `json:"memo,omitempty"`
	Inputs  int      `json:"inputs,omitempty"`
	Outputs int      `json:"outputs,omitempty"`
}

// Signed is a validated candidate with a signature attached.
// Validated is empty when the value was produced by decoding raw bytes.
type Signed struct {
	Validated Validated
	Tx        SignedTx
}

// Encoded holds the canonical wire bytes of a signed transaction.
type Encoded struct {
	Signed Signed
	Raw    []byte
	RawHex string
	Hash   string
}

// Published is the result of a broadcast.
type Published struct {
	Encoded     Encoded
	Hash        string // network-assigned hash
	Handle      string // endpoint-specific confirmation handle, if any
	PublishedAt time.Time
	Duplicate   bool // the network or local ledger had already seen this hash
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
