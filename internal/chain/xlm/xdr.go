package xlm

import (
	"crypto/ed25519"
	"errors"

	"github.com/stellar/go/xdr"
)

// maxMemoText is the longest MEMO_TEXT in bytes.
const maxMemoText = 28

var errXDR = errors.New("malformed XDR")

// muxedAccount wraps an ed25519 key as an unmultiplexed source or
// payment destination.
func muxedAccount(pub ed25519.PublicKey) xdr.MuxedAccount {
	var key xdr.Uint256
	copy(key[:], pub)
	return xdr.MuxedAccount{Type: xdr.CryptoKeyTypeKeyTypeEd25519, Ed25519: &key}
}

// muxedKey returns the ed25519 key behind an account, ignoring any
// multiplexing id.
func muxedKey(m xdr.MuxedAccount) (ed25519.PublicKey, bool) {
	switch {
	case m.Type == xdr.CryptoKeyTypeKeyTypeEd25519 && m.Ed25519 != nil:
		return ed25519.PublicKey(m.Ed25519[:]), true
	case m.Type == xdr.CryptoKeyTypeKeyTypeMuxedEd25519 && m.Med25519 != nil:
		return ed25519.PublicKey(m.Med25519.Ed25519[:]), true
	default:
		return nil, false
	}
}

func accountKey(a xdr.AccountId) (ed25519.PublicKey, bool) {
	if a.Type != xdr.PublicKeyTypePublicKeyTypeEd25519 || a.Ed25519 == nil {
		return nil, false
	}
	return ed25519.PublicKey(a.Ed25519[:]), true
}

// paymentOp is a native payment of stroops.
func paymentOp(dest ed25519.PublicKey, stroops int64) xdr.Operation {
	return xdr.Operation{Body: xdr.OperationBody{
		Type: xdr.OperationTypePayment,
		PaymentOp: &xdr.PaymentOp{
			Destination: muxedAccount(dest),
			Asset:       xdr.Asset{Type: xdr.AssetTypeAssetTypeNative},
			Amount:      xdr.Int64(stroops),
		},
	}}
}

// createAccountOp funds a new account with a starting balance in stroops.
func createAccountOp(dest ed25519.PublicKey, stroops int64) xdr.Operation {
	var key xdr.Uint256
	copy(key[:], dest)
	return xdr.Operation{Body: xdr.OperationBody{
		Type: xdr.OperationTypeCreateAccount,
		CreateAccountOp: &xdr.CreateAccountOp{
			Destination:     xdr.AccountId{Type: xdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &key},
			StartingBalance: xdr.Int64(stroops),
		},
	}}
}

// transfer reports the recipient and amount of a payment or create-account
// operation.
func transfer(op xdr.Operation) (ed25519.PublicKey, int64, bool) {
	switch op.Body.Type {
	case xdr.OperationTypePayment:
		p := op.Body.PaymentOp
		if p == nil || p.Asset.Type != xdr.AssetTypeAssetTypeNative {
			return nil, 0, false
		}
		dest, ok := muxedKey(p.Destination)
		return dest, int64(p.Amount), ok
	case xdr.OperationTypeCreateAccount:
		c := op.Body.CreateAccountOp
		if c == nil {
			return nil, 0, false
		}
		dest, ok := accountKey(c.Destination)
		return dest, int64(c.StartingBalance), ok
	default:
		return nil, 0, false
	}
}

func textMemo(text string) xdr.Memo {
	if text == "" {
		return xdr.Memo{Type: xdr.MemoTypeMemoNone}
	}
	return xdr.Memo{Type: xdr.MemoTypeMemoText, Text: &text}
}

func memoText(m xdr.Memo) string {
	if m.Type == xdr.MemoTypeMemoText && m.Text != nil {
		return *m.Text
	}
	return ""
}

// unmarshalEnvelope decodes a v1 envelope. Fee bumps and legacy v0
// envelopes are refused, as is any trailing input.
func unmarshalEnvelope(raw []byte) (xdr.TransactionEnvelope, error) {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshal(raw, &env); err != nil {
		return xdr.TransactionEnvelope{}, errors.Join(errXDR, err)
	}
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil {
		return xdr.TransactionEnvelope{}, errors.Join(errXDR, errors.New("not a v1 transaction envelope"))
	}
	if len(env.V1.Tx.Operations) == 0 {
		return xdr.TransactionEnvelope{}, errors.Join(errXDR, errors.New("no operations"))
	}
	return env, nil
}

// cloneEnvelope deep-copies an envelope through its wire form.
func cloneEnvelope(env xdr.TransactionEnvelope) xdr.TransactionEnvelope {
	raw, err := env.MarshalBinary()
	if err != nil {
		return env
	}
	var out xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshal(raw, &out); err != nil {
		return env
	}
	return out
}
