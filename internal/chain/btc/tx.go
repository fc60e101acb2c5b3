package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

const (
	// sigHashForkID is SIGHASH_ALL with the BCH replay-protection bit.
	sigHashForkID = txscript.SigHashAll | 0x40

	// sequenceRBF signals replace-by-fee on BTC inputs.
	sequenceRBF = 0xfffffffd
)

// Tx is a signed UTXO transaction.
type Tx struct {
	msg      *wire.MsgTx
	currency chain.Currency
	params   *chaincfg.Params
	from     string
	fee      *big.Int // nil when decoded from raw bytes
}

// Currency implements chain.SignedTx.
func (t *Tx) Currency() chain.Currency { return t.currency }

// TxHash implements chain.SignedTx.
func (t *Tx) TxHash() string { return t.msg.TxHash().String() }

// MsgTx returns the underlying wire transaction.
func (t *Tx) MsgTx() *wire.MsgTx { return t.msg }

// Summary implements chain.SignedTx. The first output is the payment.
func (t *Tx) Summary() chain.TxSummary {
	s := chain.TxSummary{
		From:    t.from,
		Amount:  new(big.Int),
		Inputs:  len(t.msg.TxIn),
		Outputs: len(t.msg.TxOut),
	}
	if t.fee != nil {
		s.Fee = new(big.Int).Set(t.fee)
	}
	if len(t.msg.TxOut) > 0 {
		out := t.msg.TxOut[0]
		s.Amount.SetInt64(out.Value)
		if _, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, t.params); err == nil && len(addrs) == 1 {
			s.To = addrs[0].EncodeAddress()
		}
	}
	return s
}

// Build selects inputs for the payment and claims them in the reservation
// store until Release or Commit. The candidate ID identifies the claim.
func (c *Client) Build(req chain.BuildRequest, state chain.AccountState, fees chain.FeeSchedule) (chain.Candidate, error) {
	if err := c.supports(req.Currency); err != nil {
		return chain.Candidate{}, err
	}
	if _, err := c.senderAddress(req.From); err != nil {
		return chain.Candidate{}, fieldErr("from", err)
	}
	if err := c.ValidateAddress(req.To); err != nil {
		return chain.Candidate{}, fieldErr("to", err)
	}
	changeAddr := req.ChangeAddress
	if changeAddr == "" {
		changeAddr = req.From
	}
	if err := c.ValidateAddress(changeAddr); err != nil {
		return chain.Candidate{}, fieldErr("change", err)
	}

	dust := req.Currency.DustLimit()
	if req.Amount == nil || req.Amount.Sign() <= 0 || !req.Amount.IsInt64() {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"reason": "amount must be a positive number of satoshis",
		})
	}
	amount := req.Amount.Uint64()
	if amount < dust {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"reason": "amount is below the dust limit of " + strconv.FormatUint(dust, 10) + " satoshis",
		})
	}
	if req.Memo != "" {
		return chain.Candidate{}, vaulterr.WithDetails(vaulterr.ErrMemoTooLong, map[string]string{
			"chain": c.currency.Code,
			"limit": "0",
		})
	}

	rate, err := fees.Rate(req.Tier)
	if err != nil {
		return chain.Candidate{}, err
	}

	sel, err := SelectCoins(c.store.Available(req.Currency, state.UTXOs), amount, rate.Uint64(), dust)
	if err != nil {
		return chain.Candidate{}, err
	}

	id := uuid.NewString()
	if err := c.store.Reserve(req.Currency, id, sel.Inputs); err != nil {
		return chain.Candidate{}, err
	}
	c.debug("%s: candidate %s reserves %d inputs (%d sat), fee %d, change %d",
		c.currency.Code, id, len(sel.Inputs), sel.Total, sel.Fee, sel.Change)

	return chain.Candidate{
		ID:            id,
		Currency:      req.Currency,
		From:          req.From,
		To:            req.To,
		Amount:        new(big.Int).SetUint64(amount),
		Tier:          req.Tier,
		FeeRate:       rate,
		Fee:           new(big.Int).SetUint64(sel.Fee),
		Inputs:        sel.Inputs,
		Change:        sel.Change,
		ChangeAddress: changeAddr,
		CreatedAt:     time.Now(),
	}, nil
}

// Release frees the candidate's inputs for other builds.
func (c *Client) Release(cand chain.Candidate) {
	if err := c.store.Release(cand.Currency, cand.ID, cand.Inputs); err != nil {
		c.logError("%s: releasing inputs of %s: %v", c.currency.Code, cand.ID, err)
	}
}

// Commit marks the candidate's inputs spent by hash.
func (c *Client) Commit(cand chain.Candidate, hash string) {
	if err := c.store.MarkSpent(cand.Currency, hash, cand.Inputs); err != nil {
		c.logError("%s: marking inputs of %s spent: %v", c.currency.Code, cand.ID, err)
	}
}

// Sign assembles and signs the transaction. Every input is owned by the
// candidate's From address. BTC P2PKH inputs sign with SIGHASH_ALL over the
// legacy digest and P2WPKH inputs over the BIP143 digest into the witness;
// BCH signs with SIGHASH_ALL|FORKID over the BIP143 digest.
func (c *Client) Sign(v chain.Validated, key chain.KeyPair) (chain.Signed, error) {
	cand := v.Candidate
	if err := c.supports(cand.Currency); err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrStageMismatch, err)
	}
	if key.Curve != chain.CurveSecp256k1 || len(key.Private) != btcec.PrivKeyBytesLen {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "a 32-byte secp256k1 key is required",
		})
	}
	if len(cand.Inputs) == 0 || cand.Amount == nil || !cand.Amount.IsInt64() || cand.Amount.Sign() <= 0 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{
			"reason": "candidate was not built for this chain",
		})
	}

	priv, pub := btcec.PrivKeyFromBytes(key.Private)
	defer priv.Zero()

	from, err := c.senderAddress(cand.From)
	if err != nil {
		return chain.Signed{}, err
	}
	if !bytes.Equal(from.ScriptAddress(), btcutil.Hash160(pub.SerializeCompressed())) {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{
			"reason": "key does not control " + cand.From,
		})
	}
	pkScript, err := txscript.PayToAddrScript(from)
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}

	msg, prevOuts, err := c.unsignedTx(cand, pkScript)
	if err != nil {
		return chain.Signed{}, err
	}

	_, witness := from.(*btcutil.AddressWitnessPubKeyHash)
	switch {
	case c.forkID():
		err = signForkID(msg, prevOuts, pkScript, priv, pub)
	case witness:
		err = signWitness(msg, prevOuts, pkScript, priv)
	default:
		err = signLegacy(msg, pkScript, priv)
	}
	if err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrSigningFailed, err)
	}

	tx := &Tx{
		msg:      msg,
		currency: cand.Currency,
		params:   c.params,
		from:     cand.From,
	}
	if cand.Fee != nil {
		tx.fee = new(big.Int).Set(cand.Fee)
	}
	return chain.Signed{Validated: v, Tx: tx}, nil
}

// unsignedTx lays out inputs and outputs: payment first, then change.
func (c *Client) unsignedTx(cand chain.Candidate, pkScript []byte) (*wire.MsgTx, *txscript.MultiPrevOutFetcher, error) {
	msg := wire.NewMsgTx(wire.TxVersion)
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)

	sequence := uint32(wire.MaxTxInSequenceNum)
	if !c.forkID() {
		sequence = sequenceRBF
	}

	for _, in := range cand.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, nil, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrEncoding, err), map[string]string{
				"outpoint": in.Key(),
			})
		}
		op := wire.NewOutPoint(hash, in.Vout)
		txIn := wire.NewTxIn(op, nil, nil)
		txIn.Sequence = sequence
		msg.AddTxIn(txIn)
		prevOuts.AddPrevOut(*op, wire.NewTxOut(int64(in.Amount), pkScript)) //nolint:gosec // satoshi amounts fit int64
	}

	payTo, err := c.payToAddress(cand.To)
	if err != nil {
		return nil, nil, err
	}
	msg.AddTxOut(wire.NewTxOut(cand.Amount.Int64(), payTo))

	if cand.Change > 0 {
		changeScript, err := c.payToAddress(cand.ChangeAddress)
		if err != nil {
			return nil, nil, err
		}
		msg.AddTxOut(wire.NewTxOut(int64(cand.Change), changeScript)) //nolint:gosec // satoshi amounts fit int64
	}
	return msg, prevOuts, nil
}

func signLegacy(msg *wire.MsgTx, pkScript []byte, priv *btcec.PrivateKey) error {
	for i := range msg.TxIn {
		sigScript, err := txscript.SignatureScript(msg, i, pkScript, txscript.SigHashAll, priv, true)
		if err != nil {
			return err
		}
		msg.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

func signWitness(msg *wire.MsgTx, prevOuts *txscript.MultiPrevOutFetcher, pkScript []byte, priv *btcec.PrivateKey) error {
	sigHashes := txscript.NewTxSigHashes(msg, prevOuts)
	for i, in := range msg.TxIn {
		prev := prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		witness, err := txscript.WitnessSignature(msg, sigHashes, i, prev.Value, pkScript, txscript.SigHashAll, priv, true)
		if err != nil {
			return err
		}
		msg.TxIn[i].Witness = witness
	}
	return nil
}

func signForkID(msg *wire.MsgTx, prevOuts *txscript.MultiPrevOutFetcher, pkScript []byte, priv *btcec.PrivateKey, pub *btcec.PublicKey) error {
	sigHashes := txscript.NewTxSigHashes(msg, prevOuts)
	for i, in := range msg.TxIn {
		prev := prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		digest, err := txscript.CalcWitnessSigHash(pkScript, sigHashes, sigHashForkID, msg, i, prev.Value)
		if err != nil {
			return err
		}
		sig := ecdsa.Sign(priv, digest)
		sigBytes := append(sig.Serialize(), byte(sigHashForkID))

		sigScript, err := txscript.NewScriptBuilder().
			AddData(sigBytes).
			AddData(pub.SerializeCompressed()).
			Script()
		if err != nil {
			return err
		}
		msg.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// Encode serializes the signed transaction to its wire form.
func (c *Client) Encode(s chain.Signed) (chain.Encoded, error) {
	tx, ok := s.Tx.(*Tx)
	if !ok || tx == nil || tx.currency != c.currency {
		return chain.Encoded{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{"expected": c.currency.Code})
	}

	var buf bytes.Buffer
	buf.Grow(tx.msg.SerializeSize())
	if err := tx.msg.Serialize(&buf); err != nil {
		return chain.Encoded{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}

	return chain.Encoded{
		Signed: s,
		Raw:    buf.Bytes(),
		RawHex: hex.EncodeToString(buf.Bytes()),
		Hash:   tx.TxHash(),
	}, nil
}

// Decode parses wire bytes into a signed transaction. The sender is taken
// from the public key revealed by the first input.
func (c *Client) Decode(raw []byte) (chain.Signed, error) {
	msg := wire.NewMsgTx(wire.TxVersion)
	r := bytes.NewReader(raw)
	if err := msg.Deserialize(r); err != nil {
		return chain.Signed{}, vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	if r.Len() != 0 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrEncoding, map[string]string{
			"reason": strconv.Itoa(r.Len()) + " trailing bytes",
		})
	}
	if len(msg.TxIn) == 0 || len(msg.TxOut) == 0 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrEncoding, map[string]string{
			"reason": "transaction has no inputs or no outputs",
		})
	}

	return chain.Signed{Tx: &Tx{
		msg:      msg,
		currency: c.currency,
		params:   c.params,
		from:     c.signerAddress(msg.TxIn[0]),
	}}, nil
}

// signerAddress returns the address of the key revealed by a P2PKH
// signature script or a P2WPKH witness, or "" for any other spend.
func (c *Client) signerAddress(in *wire.TxIn) string {
	if len(in.SignatureScript) == 0 && len(in.Witness) == 2 {
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(in.Witness[1]), c.params)
		if err != nil {
			return ""
		}
		return addr.EncodeAddress()
	}
	pushes, err := txscript.PushedData(in.SignatureScript)
	if err != nil || len(pushes) != 2 {
		return ""
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pushes[1]), c.params)
	if err != nil {
		return ""
	}
	return addr.EncodeAddress()
}

// Publish submits the transaction once. An indexer reporting the
// transaction as already known is treated as success.
func (c *Client) Publish(ctx context.Context, e chain.Encoded) (chain.Published, error) {
	txid, err := c.BroadcastTx(ctx, e.RawHex)
	if err != nil {
		body, status, isStatus := rejectionText(err)
		if !isStatus {
			return chain.Published{}, err
		}
		if isAlreadyBroadcast(body) {
			c.debug("%s: %s already known to %s", c.currency.Code, e.Hash, c.api.Name())
			return chain.Published{Encoded: e, Hash: e.Hash, PublishedAt: time.Now(), Duplicate: true}, nil
		}
		details := map[string]string{"hash": e.Hash, "reason": body}
		if status >= 400 && status < 500 && isFeeRejection(body) {
			return chain.Published{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrFeeTooLow, err), details)
		}
		if status >= 400 && status < 500 {
			return chain.Published{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrTxRejected, err), details)
		}
		return chain.Published{}, err
	}

	if !strings.EqualFold(txid, e.Hash) {
		c.logError("%s: indexer returned txid %s for %s", c.currency.Code, txid, e.Hash)
	}
	return chain.Published{Encoded: e, Hash: e.Hash, PublishedAt: time.Now()}, nil
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
