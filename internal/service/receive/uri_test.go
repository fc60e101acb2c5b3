package receive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// acceptAll is a validator that records the last address it saw.
type acceptAll struct{ last string }

func (a *acceptAll) ValidateAddress(_ chain.Currency, address string) error {
	a.last = address
	return nil
}

func TestTarget_URI(t *testing.T) {
	t.Parallel()

	half := money.MustParse(chain.BTC, "0.5")
	usdc := money.MustParse(chain.USDC, "25")

	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{
			name:   "address only",
			target: Target{Currency: chain.BTC, Address: btcAddress},
			want:   "bitcoin:" + btcAddress,
		},
		{
			name:   "amount",
			target: Target{Currency: chain.BTC, Address: btcAddress, Amount: &half},
			want:   "bitcoin:" + btcAddress + "?amount=0.5",
		},
		{
			name:   "memo only",
			target: Target{Currency: chain.XLM, Address: xlmAddress, Memo: "a&b"},
			want:   "stellar:" + xlmAddress + "?memo=a%26b",
		},
		{
			name:   "token",
			target: Target{Currency: chain.USDC, Address: ethAddress, Amount: &usdc},
			want:   "ethereum:" + ethAddress + "?amount=25&token=0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		},
		{
			name:   "bitcoin cash",
			target: Target{Currency: chain.BCH, Address: "1BCH"},
			want:   "bitcoincash:1BCH",
		},
		{
			name:   "cashaddr carries its prefix",
			target: Target{Currency: chain.BCH, Address: "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"},
			want:   "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.target.URI())
			assert.Equal(t, tc.want, tc.target.QRPayload())
		})
	}
}

func TestParseURI_RoundTrip(t *testing.T) {
	t.Parallel()

	amount := money.MustParse(chain.USDC, "25.000001")
	original := Target{Currency: chain.USDC, Address: ethAddress, Amount: &amount, Memo: "order #12"}

	v := &acceptAll{}
	parsed, err := ParseURI(original.URI(), v)
	require.NoError(t, err)
	assert.Equal(t, chain.USDC, parsed.Currency)
	assert.Equal(t, ethAddress, parsed.Address)
	assert.Equal(t, "order #12", parsed.Memo)
	require.NotNil(t, parsed.Amount)
	assert.True(t, amount.Equal(*parsed.Amount))
	assert.Equal(t, ethAddress, v.last)
	assert.Equal(t, original.URI(), parsed.URI())
}

func TestParseURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		wantCur     chain.Currency
		wantAddress string
		wantErr     error
	}{
		{name: "scheme is case-insensitive", raw: "BITCOIN:" + btcAddress, wantCur: chain.BTC, wantAddress: btcAddress},
		{name: "eip-681 prefix and chain id", raw: "ethereum:pay-" + ethAddress + "@1?amount=1", wantCur: chain.ETH, wantAddress: ethAddress},
		{name: "double slash", raw: "algorand://" + algoAddress, wantCur: chain.ALGO, wantAddress: algoAddress},
		{name: "polkadot", raw: "polkadot:15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5", wantCur: chain.DOT, wantAddress: "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"},
		{name: "no scheme", raw: btcAddress, wantErr: vaulterr.ErrInvalidURI},
		{name: "unknown scheme", raw: "dogecoin:DAddr", wantErr: vaulterr.ErrInvalidURI},
		{name: "empty address", raw: "bitcoin:?amount=1", wantErr: vaulterr.ErrInvalidURI},
		{name: "required parameter", raw: "bitcoin:" + btcAddress + "?req-somethingyoudontunderstand=50", wantErr: vaulterr.ErrInvalidURI},
		{name: "unknown token", raw: "ethereum:" + ethAddress + "?token=0x0000000000000000000000000000000000000001", wantErr: vaulterr.ErrInvalidURI},
		{name: "too many decimals", raw: "bitcoin:" + btcAddress + "?amount=0.000000001", wantErr: vaulterr.ErrInvalidAmount},
		{name: "negative amount", raw: "bitcoin:" + btcAddress + "?amount=-1", wantErr: vaulterr.ErrInvalidAmount},
		{name: "zero amount", raw: "bitcoin:" + btcAddress + "?amount=0", wantErr: vaulterr.ErrInvalidAmount},
		{name: "memo too long", raw: "stellar:" + xlmAddress + "?memo=aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", wantErr: vaulterr.ErrMemoTooLong},
		{name: "malformed query", raw: "bitcoin:" + btcAddress + "?amount=%zz", wantErr: vaulterr.ErrInvalidURI},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			target, err := ParseURI(tc.raw, &acceptAll{})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, vaulterr.ClassInput, vaulterr.ClassOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantCur, target.Currency)
			assert.Equal(t, tc.wantAddress, target.Address)
		})
	}
}

func TestParseURI_NilValidator(t *testing.T) {
	t.Parallel()

	target, err := ParseURI("bitcoin:anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "anything", target.Address)
}
