package eth

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testKey(tb testing.TB) (chain.KeyPair, string) {
	tb.Helper()
	priv, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(tb, err)
	return chain.KeyPair{
		Curve:   chain.CurveSecp256k1,
		Private: crypto.FromECDSA(priv),
		Public:  crypto.FromECDSAPub(&priv.PublicKey),
	}, crypto.PubkeyToAddress(priv.PublicKey).Hex()
}

func testFees() chain.FeeSchedule {
	return chain.FeeSchedule{
		Currency: chain.ETH,
		Unit:     GasUnit,
		Low:      big.NewInt(1_000_000_000),
		Regular:  big.NewInt(2_000_000_000),
		Priority: big.NewInt(3_000_000_000),
	}
}

func testState(cur chain.Currency, from string, nonce uint64) chain.AccountState {
	return chain.AccountState{
		Currency:  cur,
		Address:   from,
		Confirmed: big.NewInt(1_000_000_000_000_000_000),
		Nonce:     nonce,
	}
}

// signedTransfer builds, signs and encodes a transfer from the test key.
func signedTransfer(tb testing.TB, c *Client, cur chain.Currency, amount *big.Int) chain.Encoded {
	tb.Helper()
	key, from := testKey(tb)

	cand, err := c.Build(chain.BuildRequest{
		Currency: cur,
		From:     from,
		To:       checksummed[0],
		Amount:   amount,
		Tier:     chain.TierRegular,
	}, testState(cur, from, 0), testFees())
	require.NoError(tb, err)

	signed, err := c.Sign(chain.Validated{Candidate: cand}, key)
	require.NoError(tb, err)

	enc, err := c.Encode(signed)
	require.NoError(tb, err)
	return enc
}

func assertSameSummary(t *testing.T, want, got chain.TxSummary) {
	t.Helper()
	assert.Equal(t, want.From, got.From)
	assert.Equal(t, want.To, got.To)
	assert.Equal(t, want.Amount.String(), got.Amount.String())
	assert.Equal(t, want.Fee.String(), got.Fee.String())
	assert.Equal(t, want.Nonce, got.Nonce)
}

func TestBuild_Native(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")
	_, from := testKey(t)

	cand, err := client.Build(chain.BuildRequest{
		Currency: chain.ETH,
		From:     strings.ToLower(from),
		To:       strings.ToLower(checksummed[1]),
		Amount:   big.NewInt(5000),
		Tier:     chain.TierPriority,
	}, testState(chain.ETH, from, 7), testFees())
	require.NoError(t, err)

	assert.Equal(t, from, cand.From, "addresses are checksummed")
	assert.Equal(t, checksummed[1], cand.To)
	assert.Equal(t, uint64(7), cand.Nonce)
	assert.Equal(t, GasLimitETHTransfer, cand.GasLimit)
	assert.Equal(t, "3000000000", cand.FeeRate.String())
	assert.Equal(t, "63000000000000", cand.Fee.String())
	assert.Empty(t, cand.Data)
	assert.Equal(t, chain.ETH, cand.FeeCurrency())
}

func TestBuild_SuccessiveCandidatesClaimNextNonce(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")
	_, from := testKey(t)

	req := chain.BuildRequest{Currency: chain.ETH, From: from, To: checksummed[0], Amount: big.NewInt(1)}
	first, err := client.Build(req, testState(chain.ETH, from, 3), testFees())
	require.NoError(t, err)
	second, err := client.Build(req, testState(chain.ETH, from, 3), testFees())
	require.NoError(t, err)

	assert.Equal(t, uint64(3), first.Nonce)
	assert.Equal(t, uint64(4), second.Nonce)

	// Releasing the latest claim hands the nonce to the next candidate.
	client.Release(second)
	third, err := client.Build(req, testState(chain.ETH, from, 3), testFees())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), third.Nonce)

	client.Commit(third, "0xabc")
	fourth, err := client.Build(req, testState(chain.ETH, from, 3), testFees())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), fourth.Nonce)
}

func TestBuild_Rejections(t *testing.T) {
	t.Parallel()
	_, from := testKey(t)

	tests := []struct {
		name    string
		req     chain.BuildRequest
		fees    chain.FeeSchedule
		wantErr error
	}{
		{
			name:    "unsupported currency",
			req:     chain.BuildRequest{Currency: chain.BTC, From: from, To: checksummed[0], Amount: big.NewInt(1)},
			fees:    testFees(),
			wantErr: vaulterr.ErrUnsupportedAsset,
		},
		{
			name:    "invalid recipient",
			req:     chain.BuildRequest{Currency: chain.ETH, From: from, To: "0x1234", Amount: big.NewInt(1)},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidAddress,
		},
		{
			name:    "bad sender checksum",
			req:     chain.BuildRequest{Currency: chain.ETH, From: "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", To: checksummed[0], Amount: big.NewInt(1)},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidChecksum,
		},
		{
			name:    "zero amount",
			req:     chain.BuildRequest{Currency: chain.ETH, From: from, To: checksummed[0], Amount: big.NewInt(0)},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidAmount,
		},
		{
			name:    "missing amount",
			req:     chain.BuildRequest{Currency: chain.ETH, From: from, To: checksummed[0]},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidAmount,
		},
		{
			name:    "native amount wider than uint256",
			req:     chain.BuildRequest{Currency: chain.ETH, From: from, To: checksummed[0], Amount: new(big.Int).Lsh(big.NewInt(1), 256)},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidAmount,
		},
		{
			name:    "token amount of 1e86",
			req:     chain.BuildRequest{Currency: chain.USDC, From: from, To: checksummed[0], Amount: new(big.Int).Exp(big.NewInt(10), big.NewInt(86), nil)},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidAmount,
		},
		{
			name:    "token amount of 1e176",
			req:     chain.BuildRequest{Currency: chain.USDC, From: from, To: checksummed[0], Amount: new(big.Int).Exp(big.NewInt(10), big.NewInt(176), nil)},
			fees:    testFees(),
			wantErr: vaulterr.ErrInvalidAmount,
		},
		{
			name:    "memo",
			req:     chain.BuildRequest{Currency: chain.ETH, From: from, To: checksummed[0], Amount: big.NewInt(1), Memo: "hi"},
			fees:    testFees(),
			wantErr: vaulterr.ErrMemoTooLong,
		},
		{
			name:    "tier without rate",
			req:     chain.BuildRequest{Currency: chain.ETH, From: from, To: checksummed[0], Amount: big.NewInt(1), Tier: chain.TierPriority},
			fees:    chain.FeeSchedule{Currency: chain.ETH, Regular: big.NewInt(1)},
			wantErr: vaulterr.ErrInvalidFeeTier,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, "http://127.0.0.1:0")
			var err error
			require.NotPanics(t, func() {
				_, err = client.Build(tc.req, testState(tc.req.Currency, from, 0), tc.fees)
			})
			require.ErrorIs(t, err, tc.wantErr)

			_, claimed := client.Nonces().Pending(from)
			assert.False(t, claimed, "rejected builds must not claim a nonce")
		})
	}
}

func TestSignEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")
	_, from := testKey(t)

	enc := signedTransfer(t, client, chain.ETH, big.NewInt(123_456))
	assert.Equal(t, enc.RawHex, common.Bytes2Hex(enc.Raw))
	assert.True(t, strings.HasPrefix(enc.Hash, "0x"))

	decoded, err := client.Decode(enc.Raw)
	require.NoError(t, err)
	assert.Equal(t, enc.Hash, decoded.Tx.TxHash())
	assert.Equal(t, chain.ETH, decoded.Tx.Currency())
	assertSameSummary(t, enc.Signed.Tx.Summary(), decoded.Tx.Summary())
	assert.Equal(t, from, decoded.Tx.Summary().From)

	// Re-encoding the decoded transaction is byte-identical.
	again, err := client.Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, enc.Raw, again.Raw)

	tx := decoded.Tx.(*Tx).Transaction()
	assert.Equal(t, int64(1), tx.ChainId().Int64())
	assert.True(t, tx.Protected())
}

func TestSignEncodeDecode_Token(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")

	enc := signedTransfer(t, client, chain.USDC, big.NewInt(5_000_000))
	tx := enc.Signed.Tx.(*Tx).Transaction()

	require.NotNil(t, tx.To())
	assert.Equal(t, chain.USDC.Contract, strings.ToLower(tx.To().Hex()))
	assert.Equal(t, "0", tx.Value().String())
	assert.Equal(t, GasLimitERC20Transfer, tx.Gas())

	summary := enc.Signed.Tx.Summary()
	assert.Equal(t, checksummed[0], summary.To)
	assert.Equal(t, "5000000", summary.Amount.String())
	assert.Equal(t, "130000000000000", summary.Fee.String())

	decoded, err := client.Decode(enc.Raw)
	require.NoError(t, err)
	assert.Equal(t, chain.USDC, decoded.Tx.Currency())
	assertSameSummary(t, summary, decoded.Tx.Summary())
}

func TestSign_Rejections(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")
	key, from := testKey(t)

	cand, err := client.Build(chain.BuildRequest{
		Currency: chain.ETH, From: from, To: checksummed[0], Amount: big.NewInt(1),
	}, testState(chain.ETH, from, 0), testFees())
	require.NoError(t, err)
	v := chain.Validated{Candidate: cand}

	t.Run("wrong curve", func(t *testing.T) {
		t.Parallel()
		wrong := key
		wrong.Curve = chain.CurveEd25519
		_, err := client.Sign(v, wrong)
		require.ErrorIs(t, err, vaulterr.ErrSigningFailed)
		assert.True(t, vaulterr.IsFatal(err))
	})

	t.Run("key for another address", func(t *testing.T) {
		t.Parallel()
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		_, err = client.Sign(v, chain.KeyPair{Curve: chain.CurveSecp256k1, Private: crypto.FromECDSA(other)})
		require.ErrorIs(t, err, vaulterr.ErrSigningFailed)
	})

	t.Run("malformed key", func(t *testing.T) {
		t.Parallel()
		_, err := client.Sign(v, chain.KeyPair{Curve: chain.CurveSecp256k1, Private: []byte{1, 2, 3}})
		require.ErrorIs(t, err, vaulterr.ErrSigningFailed)
	})

	t.Run("foreign currency", func(t *testing.T) {
		t.Parallel()
		foreign := cand.Clone()
		foreign.Currency = chain.BCH
		_, err := client.Sign(chain.Validated{Candidate: foreign}, key)
		require.ErrorIs(t, err, vaulterr.ErrStageMismatch)
	})
}

func TestEncode_StageMismatch(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")

	_, err := client.Encode(chain.Signed{})
	require.ErrorIs(t, err, vaulterr.ErrStageMismatch)
}

func TestDecode_Rejections(t *testing.T) {
	t.Parallel()
	mainnet := newTestClient(t, "http://127.0.0.1:0")
	enc := signedTransfer(t, mainnet, chain.ETH, big.NewInt(1))

	_, err := mainnet.Decode([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, vaulterr.ErrEncoding)

	_, err = mainnet.Decode(nil)
	require.ErrorIs(t, err, vaulterr.ErrEncoding)

	sepolia := newTestClientForChain(t, "http://127.0.0.1:0", 11155111)
	_, err = sepolia.Decode(enc.Raw)
	require.ErrorIs(t, err, vaulterr.ErrStageMismatch)
}

func TestERC20TransferData(t *testing.T) {
	t.Parallel()
	data, err := BuildERC20TransferData(checksummed[2], big.NewInt(42))
	require.NoError(t, err)
	require.Len(t, data, 68)
	assert.Equal(t, "a9059cbb", common.Bytes2Hex(data[:4]))

	to, amount, ok := ParseERC20TransferData(data)
	require.True(t, ok)
	assert.Equal(t, checksummed[2], to.Hex())
	assert.Equal(t, "42", amount.String())

	_, _, ok = ParseERC20TransferData(data[:67])
	assert.False(t, ok)

	dirty := append([]byte(nil), data...)
	dirty[4] = 0xff
	_, _, ok = ParseERC20TransferData(dirty)
	assert.False(t, ok)

	maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data, err = BuildERC20TransferData(checksummed[2], maxWord)
	require.NoError(t, err)
	_, amount, ok = ParseERC20TransferData(data)
	require.True(t, ok)
	assert.Equal(t, maxWord.String(), amount.String())

	for _, bad := range []*big.Int{nil, big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), 256)} {
		_, err = BuildERC20TransferData(checksummed[2], bad)
		require.ErrorIs(t, err, vaulterr.ErrInvalidAmount)
	}
}
