package xlm

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Tx is a signed Stellar transaction envelope.
type Tx struct {
	env        xdr.TransactionEnvelope
	passphrase string
}

// Envelope returns a copy of the transaction envelope.
func (t *Tx) Envelope() xdr.TransactionEnvelope { return cloneEnvelope(t.env) }

// Currency implements chain.SignedTx.
func (t *Tx) Currency() chain.Currency { return chain.XLM }

// TxHash implements chain.SignedTx.
func (t *Tx) TxHash() string {
	h, err := network.HashTransactionInEnvelope(t.env, t.passphrase)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(h[:])
}

// Summary implements chain.SignedTx. The first operation is the payment.
func (t *Tx) Summary() chain.TxSummary {
	s := chain.TxSummary{Amount: new(big.Int), Fee: new(big.Int)}
	if t.env.V1 == nil {
		return s
	}
	tx := t.env.V1.Tx
	s.Fee.SetUint64(uint64(tx.Fee))
	s.Nonce = uint64(tx.SeqNum) //nolint:gosec // sequence numbers are non-negative
	s.Memo = memoText(tx.Memo)
	s.Outputs = len(tx.Operations)
	if src, ok := muxedKey(tx.SourceAccount); ok {
		s.From, _ = EncodeAccountID(src)
	}
	if len(tx.Operations) > 0 {
		if dest, amount, ok := transfer(tx.Operations[0]); ok {
			s.To, _ = EncodeAccountID(dest)
			s.Amount.SetInt64(amount)
		}
	}
	return s
}

// Build assembles a native payment. The sequence number is one past the
// higher of the ledger's and the last one assigned locally.
func (c *Client) Build(req chain.BuildRequest, state chain.AccountState, fees chain.FeeSchedule) (chain.Candidate, error) {
	if err := c.supports(req.Currency); err != nil {
		return chain.Candidate{}, err
	}
	if err := c.ValidateAddress(req.From); err != nil {
		return chain.Candidate{}, fieldErr("from", err)
	}
	if err := c.ValidateAddress(req.To); err != nil {
		return chain.Candidate{}, fieldErr("to", err)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 || !req.Amount.IsInt64() {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"reason": "amount must be a positive number of stroops",
		})
	}
	if len(req.Memo) > maxMemoText {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrMemoTooLong, map[string]string{
			"chain": chain.XLM.Code,
			"limit": strconv.Itoa(maxMemoText),
		})
	}

	rate, err := fees.Rate(req.Tier)
	if err != nil {
		return chain.Candidate{}, err
	}
	if !rate.IsUint64() || rate.Uint64() > math.MaxUint32 {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrInvalidFeeTier, map[string]string{
			"reason": "fee rate out of range",
			"rate":   rate.String(),
		})
	}

	seq, err := c.nextSequence(req.From, state.Nonce)
	if err != nil {
		return chain.Candidate{}, err
	}

	cand := chain.Candidate{
		ID:        uuid.NewString(),
		Currency:  chain.XLM,
		From:      req.From,
		To:        req.To,
		Amount:    new(big.Int).Set(req.Amount),
		Tier:      req.Tier,
		FeeRate:   rate,
		Fee:       new(big.Int).Set(rate), // one operation
		Memo:      req.Memo,
		Nonce:     seq,
		CreatedAt: time.Now(),
	}
	c.debug("xlm: candidate %s from %s uses sequence %d", cand.ID, cand.From, seq)
	return cand, nil
}

func (c *Client) nextSequence(account string, ledgerSeq uint64) (uint64, error) {
	if ledgerSeq >= math.MaxInt64 {
		return 0, vaulterr.WithDetails(vaulterr.ErrInvalidInput, map[string]string{
			"reason": "sequence number exhausted",
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := int64(ledgerSeq) + 1 //nolint:gosec // checked above
	if local, ok := c.seqs[account]; ok && local >= seq {
		seq = local + 1
	}
	c.seqs[account] = seq
	return uint64(seq), nil //nolint:gosec // positive
}

// Release gives back the candidate's sequence number when it is the latest
// one assigned for the account.
func (c *Client) Release(cand chain.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if local, ok := c.seqs[cand.From]; ok && uint64(local) == cand.Nonce { //nolint:gosec // positive
		c.seqs[cand.From] = local - 1
	}
}

// Commit keeps the sequence number consumed; nothing is rolled back.
func (c *Client) Commit(chain.Candidate, string) {}

// ResetSequence drops local sequence tracking for an account.
func (c *Client) ResetSequence(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seqs, account)
}

// Sign builds the envelope and signs its hash with the account's ed25519 key.
// The key may be a 32-byte seed or a 64-byte private key.
func (c *Client) Sign(v chain.Validated, key chain.KeyPair) (chain.Signed, error) {
	cand := v.Candidate
	if err := c.supports(cand.Currency); err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrStageMismatch, err)
	}
	if key.Curve != chain.CurveEd25519 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "an ed25519 key is required",
		})
	}

	var seed [ed25519.SeedSize]byte
	switch len(key.Private) {
	case ed25519.SeedSize:
		copy(seed[:], key.Private)
	case ed25519.PrivateKeySize:
		copy(seed[:], ed25519.PrivateKey(key.Private).Seed())
	default:
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "ed25519 key must be a 32-byte seed or 64-byte private key",
		})
	}
	defer clear(seed[:])

	kp, err := keypair.FromRawSeed(seed)
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrSigningFailed, err)
	}
	if kp.Address() != cand.From {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "key does not control " + cand.From,
		})
	}
	source, err := DecodeAccountID(cand.From)
	if err != nil {
		return chain.Signed{}, err
	}

	tx, err := c.transaction(cand, source)
	if err != nil {
		return chain.Signed{}, err
	}
	env := xdr.TransactionEnvelope{
		Type: xdr.EnvelopeTypeEnvelopeTypeTx,
		V1:   &xdr.TransactionV1Envelope{Tx: tx},
	}
	hash, err := network.HashTransactionInEnvelope(env, c.passphrase)
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	sig, err := kp.SignDecorated(hash[:])
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrSigningFailed, err)
	}
	env.V1.Signatures = []xdr.DecoratedSignature{sig}
	return chain.Signed{Validated: v, Tx: &Tx{env: env, passphrase: c.passphrase}}, nil
}

// transaction lays out the unsigned body of a candidate.
func (c *Client) transaction(cand chain.Candidate, source ed25519.PublicKey) (xdr.Transaction, error) {
	mismatch := func(reason string) error {
		return vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{"reason": reason})
	}
	if cand.Amount == nil || !cand.Amount.IsInt64() || cand.Amount.Sign() <= 0 {
		return xdr.Transaction{}, mismatch("candidate amount is not a stroop amount")
	}
	if cand.Fee == nil || !cand.Fee.IsUint64() || cand.Fee.Uint64() > math.MaxUint32 {
		return xdr.Transaction{}, mismatch("candidate fee is not a stroop amount")
	}
	if cand.Nonce == 0 || cand.Nonce > math.MaxInt64 {
		return xdr.Transaction{}, mismatch("candidate has no sequence number")
	}
	dest, err := DecodeAccountID(cand.To)
	if err != nil {
		return xdr.Transaction{}, err
	}

	return xdr.Transaction{
		SourceAccount: muxedAccount(source),
		Fee:           xdr.Uint32(cand.Fee.Uint64()),  //nolint:gosec // checked above
		SeqNum:        xdr.SequenceNumber(cand.Nonce), //nolint:gosec // checked above
		Cond: xdr.Preconditions{
			Type: xdr.PreconditionTypePrecondTime,
			TimeBounds: &xdr.TimeBounds{
				MaxTime: xdr.TimePoint(cand.CreatedAt.Add(c.timeout).Unix()), //nolint:gosec // post-epoch
			},
		},
		Memo:       textMemo(cand.Memo),
		Operations: []xdr.Operation{paymentOp(dest, cand.Amount.Int64())},
	}, nil
}

// Encode serializes the envelope to XDR.
func (c *Client) Encode(s chain.Signed) (chain.Encoded, error) {
	tx, ok := s.Tx.(*Tx)
	if !ok || tx == nil {
		return chain.Encoded{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{"expected": chain.XLM.Code})
	}
	raw, err := tx.env.MarshalBinary()
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

// Decode parses an XDR envelope. Hashes are computed for this client's network.
func (c *Client) Decode(raw []byte) (chain.Signed, error) {
	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	return chain.Signed{Tx: &Tx{env: env, passphrase: c.passphrase}}, nil
}

// Publish submits the envelope once. Horizon result codes are mapped to
// wallet errors; a stale sequence number resets local tracking.
func (c *Client) Publish(ctx context.Context, e chain.Encoded) (chain.Published, error) {
	resp, err := c.SubmitTransaction(ctx, base64.StdEncoding.EncodeToString(e.Raw))
	if err != nil {
		return chain.Published{}, c.submitError(e, err)
	}

	if resp.Hash != "" && !strings.EqualFold(resp.Hash, e.Hash) {
		c.logError("xlm: horizon returned hash %s for %s", resp.Hash, e.Hash)
	}
	return chain.Published{
		Encoded:     e,
		Hash:        e.Hash,
		Handle:      strconv.FormatInt(resp.Ledger, 10),
		PublishedAt: time.Now(),
	}, nil
}

func (c *Client) submitError(e chain.Encoded, err error) error {
	p, status, ok := problemOf(err)
	if !ok || status != http.StatusBadRequest {
		return err
	}

	codes := p.Extras.ResultCodes
	details := map[string]string{
		"hash":   e.Hash,
		"result": codes.Transaction,
	}
	if len(codes.Operations) > 0 {
		details["operations"] = strings.Join(codes.Operations, ",")
	}

	switch {
	case codes.Transaction == "tx_insufficient_fee":
		return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrFeeTooLow, err), details)
	case codes.Transaction == "tx_insufficient_balance" || hasCode(codes.Operations, "op_underfunded", "op_low_reserve"):
		return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrInsufficientFunds, err), details)
	case hasCode(codes.Operations, "op_no_destination"):
		return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrAddressUnreachable, err), details)
	case codes.Transaction == "tx_bad_seq" && e.Signed.Tx != nil:
		c.ResetSequence(e.Signed.Tx.Summary().From)
	}
	return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrTxRejected, err), details)
}

func hasCode(codes []string, want ...string) bool {
	for _, c := range codes {
		for _, w := range want {
			if c == w {
				return true
			}
		}
	}
	return false
}

func fieldErr(field string, err error) error {
	var we *vaulterr.WalletError
	if !vaulterr.As(err, &we) {
		return err
	}
	details := map[string]string{"field": field}
	for k, v := range we.Details {
		details[k] = v
	}
	return vaulterr.WithDetails(err, details)
}
