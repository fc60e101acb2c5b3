package eth

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/eth/rpc"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	"github.com/mrz1836/coinvault/internal/metrics"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// nodeHandler answers one JSON-RPC call with a result or a node error message.
type nodeHandler func(method string, params []json.RawMessage) (result any, errMsg string)

// fakeNode is an in-process JSON-RPC endpoint that records calls per method.
type fakeNode struct {
	*httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

func newFakeNode(t *testing.T, handle nodeHandler) *fakeNode {
	t.Helper()
	node := &fakeNode{calls: make(map[string]int)}
	node.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}

		node.mu.Lock()
		node.calls[req.Method]++
		node.mu.Unlock()

		result, errMsg := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if errMsg != "" {
			resp["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			resp["result"] = result
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(node.Close)
	return node
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func newTestClient(tb testing.TB, url string) *Client {
	tb.Helper()
	return newTestClientForChain(tb, url, 1)
}

func newTestClientForChain(tb testing.TB, url string, chainID int64) *Client {
	tb.Helper()
	endpoint := httpapi.New("eth", url,
		httpapi.WithRetry(httpapi.NoRetry()),
		httpapi.WithRateLimiter(httpapi.NewRateLimiter(0, 0)),
		httpapi.WithMetrics(&metrics.Metrics{}),
	)
	client, err := NewClient(Config{
		RPC:     rpc.NewClient(endpoint).WithRetry(httpapi.NoRetry()),
		ChainID: big.NewInt(chainID),
		Tokens:  chain.KnownTokens(),
	})
	require.NoError(tb, err)
	return client
}

func blockParam(params []json.RawMessage) string {
	if len(params) < 2 {
		return ""
	}
	var block string
	_ = json.Unmarshal(params[1], &block)
	return block
}

func TestNewClient_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{ChainID: big.NewInt(1)})
	require.ErrorIs(t, err, ErrRPCRequired)

	endpoint := httpapi.New("eth", "http://127.0.0.1:0")
	_, err = NewClient(Config{RPC: rpc.NewClient(endpoint)})
	require.ErrorIs(t, err, ErrChainIDRequired)

	_, err = NewClient(Config{RPC: rpc.NewClient(endpoint), ChainID: big.NewInt(0)})
	require.ErrorIs(t, err, ErrChainIDRequired)
	assert.Equal(t, vaulterr.ClassProgramming, vaulterr.ClassOf(err))
}

func TestNewClient_IgnoresForeignTokens(t *testing.T) {
	t.Parallel()
	endpoint := httpapi.New("eth", "http://127.0.0.1:0")
	foreign := chain.NewToken(chain.XLM, "FOO", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", 7)

	client, err := NewClient(Config{
		RPC:     rpc.NewClient(endpoint),
		ChainID: big.NewInt(1),
		Tokens:  []chain.Currency{chain.USDC, foreign},
	})
	require.NoError(t, err)
	assert.Equal(t, []chain.Currency{chain.USDC}, client.Tokens())
	assert.NotNil(t, client.Nonces())
	assert.Equal(t, int64(1), client.ChainID().Int64())
}

func TestClient_Capabilities(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")

	caps := client.Capabilities()
	assert.Same(t, client, caps.Builder)
	assert.Same(t, client, caps.Broadcaster)
	assert.Same(t, client, caps.Reservations)
}

func TestFetchState_Native(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t, func(method string, params []json.RawMessage) (any, string) {
		switch method {
		case "eth_getBalance":
			if blockParam(params) == "pending" {
				return "0x5a", ""
			}
			return "0x64", ""
		case "eth_getTransactionCount":
			return "0x3", ""
		}
		return nil, "unexpected method " + method
	})
	client := newTestClient(t, node.URL)

	state, err := client.FetchState(context.Background(), chain.ETH, checksummed[0])
	require.NoError(t, err)

	assert.Equal(t, chain.ETH, state.Currency)
	assert.Equal(t, "100", state.Confirmed.String())
	assert.Equal(t, "-10", state.Pending.String())
	assert.Equal(t, "90", state.Total().String())
	assert.Equal(t, uint64(3), state.Nonce)
	assert.Nil(t, state.FeeFunds)
}

func TestFetchState_PendingUnavailable(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t, func(method string, params []json.RawMessage) (any, string) {
		switch method {
		case "eth_getBalance":
			if blockParam(params) == "pending" {
				return nil, "pending state not supported"
			}
			return "0x64", ""
		case "eth_getTransactionCount":
			return "0x0", ""
		}
		return nil, "unexpected method " + method
	})
	client := newTestClient(t, node.URL)

	state, err := client.FetchState(context.Background(), chain.ETH, checksummed[0])
	require.NoError(t, err)
	assert.Equal(t, "0", state.Pending.String())
}

func TestFetchState_Token(t *testing.T) {
	t.Parallel()
	balance := hexutil.Encode(common.LeftPadBytes(big.NewInt(1_000_000).Bytes(), 32))
	node := newFakeNode(t, func(method string, _ []json.RawMessage) (any, string) {
		switch method {
		case "eth_getBalance":
			return "0x2386f26fc10000", "" // 0.01 ETH
		case "eth_getTransactionCount":
			return "0x1", ""
		case "eth_call":
			return balance, ""
		}
		return nil, "unexpected method " + method
	})
	client := newTestClient(t, node.URL)

	state, err := client.FetchState(context.Background(), chain.USDC, checksummed[0])
	require.NoError(t, err)

	assert.Equal(t, "1000000", state.Confirmed.String())
	assert.Equal(t, "0", state.Pending.String())
	assert.Equal(t, "10000000000000000", state.FeeFunds.String())
	assert.Equal(t, uint64(1), state.Nonce)
	assert.Equal(t, 1, node.count("eth_getBalance"), "token balance must not query the pending native balance")
}

func TestFetchState_Rejections(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://127.0.0.1:0")

	_, err := client.FetchState(context.Background(), chain.BTC, checksummed[0])
	require.ErrorIs(t, err, vaulterr.ErrUnsupportedAsset)

	_, err = client.FetchState(context.Background(), chain.ETH, "0x1234")
	require.ErrorIs(t, err, vaulterr.ErrInvalidAddress)
}

func TestFetchState_NetworkError(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t, func(string, []json.RawMessage) (any, string) { return nil, "" })
	node.Close()
	client := newTestClient(t, node.URL)

	_, err := client.FetchState(context.Background(), chain.ETH, checksummed[0])
	require.Error(t, err)
	assert.Equal(t, vaulterr.ClassNetwork, vaulterr.ClassOf(err))
}

func TestTokenBalance_EmptyResult(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t, func(string, []json.RawMessage) (any, string) { return "0x", "" })
	client := newTestClient(t, node.URL)

	balance, err := client.TokenBalance(context.Background(), checksummed[0], chain.USDC.Contract)
	require.NoError(t, err)
	assert.Equal(t, "0", balance.String())
}

func TestEstimateFees(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		block       any
		wantLow     string
		wantMinimum *big.Int
	}{
		{
			name:        "base fee below low tier",
			block:       map[string]any{"baseFeePerGas": "0x1dcd6500"}, // 0.5 gwei
			wantLow:     "800000000",
			wantMinimum: big.NewInt(500_000_000),
		},
		{
			name:        "low tier clamped to base fee",
			block:       map[string]any{"baseFeePerGas": "0x35a4e900"}, // 0.9 gwei
			wantLow:     "900000000",
			wantMinimum: big.NewInt(900_000_000),
		},
		{
			name:    "pre-london block",
			block:   map[string]any{"number": "0x1"},
			wantLow: "800000000",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			node := newFakeNode(t, func(method string, _ []json.RawMessage) (any, string) {
				switch method {
				case "eth_gasPrice":
					return "0x3b9aca00", "" // 1 gwei
				case "eth_getBlockByNumber":
					return tc.block, ""
				}
				return nil, "unexpected method " + method
			})
			client := newTestClient(t, node.URL)

			fees, err := client.EstimateFees(context.Background())
			require.NoError(t, err)

			assert.Equal(t, chain.ETH, fees.Currency)
			assert.Equal(t, GasUnit, fees.Unit)
			assert.Equal(t, tc.wantLow, fees.Low.String())
			assert.Equal(t, "1000000000", fees.Regular.String())
			assert.Equal(t, "1200000000", fees.Priority.String())
			if tc.wantMinimum == nil {
				assert.Nil(t, fees.Minimum)
			} else {
				require.NotNil(t, fees.Minimum)
				assert.Equal(t, tc.wantMinimum.String(), fees.Minimum.String())
			}
		})
	}
}

func TestEstimateFees_BaseFeeFailureIsAdvisory(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t, func(method string, _ []json.RawMessage) (any, string) {
		if method == "eth_gasPrice" {
			return "0x3b9aca00", ""
		}
		return nil, "method not found"
	})
	client := newTestClient(t, node.URL)

	fees, err := client.EstimateFees(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fees.Minimum)
	assert.Equal(t, "800000000", fees.Low.String())
}

func TestEstimateFees_GasPriceFailure(t *testing.T) {
	t.Parallel()
	node := newFakeNode(t, func(string, []json.RawMessage) (any, string) { return nil, "internal error" })
	client := newTestClient(t, node.URL)

	_, err := client.EstimateFees(context.Background())
	require.ErrorIs(t, err, rpc.ErrRPCRequest)
}

func TestGasLimitFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, GasLimitETHTransfer, GasLimitFor(chain.ETH))
	assert.Equal(t, GasLimitERC20Transfer, GasLimitFor(chain.USDT))
}

func TestFormatGasPrice(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0 Gwei", FormatGasPrice(nil))
	assert.Equal(t, "1.50 Gwei", FormatGasPrice(big.NewInt(1_500_000_000)))
}

func TestPublish(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		var client *Client
		var enc chain.Encoded
		node := newFakeNode(t, func(method string, _ []json.RawMessage) (any, string) {
			assert.Equal(t, "eth_sendRawTransaction", method)
			return enc.Hash, ""
		})
		client = newTestClient(t, node.URL)
		enc = signedTransfer(t, client, chain.ETH, big.NewInt(1000))

		pub, err := client.Publish(context.Background(), enc)
		require.NoError(t, err)
		assert.Equal(t, enc.Hash, pub.Hash)
		assert.False(t, pub.Duplicate)
		assert.False(t, pub.PublishedAt.IsZero())
	})

	t.Run("already known is a duplicate", func(t *testing.T) {
		t.Parallel()
		node := newFakeNode(t, func(string, []json.RawMessage) (any, string) { return nil, "already known" })
		client := newTestClient(t, node.URL)
		enc := signedTransfer(t, client, chain.ETH, big.NewInt(1000))

		pub, err := client.Publish(context.Background(), enc)
		require.NoError(t, err)
		assert.True(t, pub.Duplicate)
		assert.Equal(t, enc.Hash, pub.Hash)
	})

	t.Run("nonce too low resets local nonce", func(t *testing.T) {
		t.Parallel()
		node := newFakeNode(t, func(string, []json.RawMessage) (any, string) { return nil, "nonce too low" })
		client := newTestClient(t, node.URL)
		enc := signedTransfer(t, client, chain.ETH, big.NewInt(1000))

		from := enc.Signed.Validated.Candidate.From
		_, tracked := client.Nonces().Pending(from)
		require.True(t, tracked)

		_, err := client.Publish(context.Background(), enc)
		require.ErrorIs(t, err, vaulterr.ErrTxRejected)
		assert.Equal(t, enc.Hash, errDetail(err, "hash"))

		_, tracked = client.Nonces().Pending(from)
		assert.False(t, tracked)
		assert.Equal(t, 1, node.count("eth_sendRawTransaction"))
	})

	t.Run("transport failure is not retried", func(t *testing.T) {
		t.Parallel()
		var calls int
		var mu sync.Mutex
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(server.Close)

		client := newTestClient(t, server.URL)
		enc := signedTransfer(t, client, chain.ETH, big.NewInt(1000))

		_, err := client.Publish(context.Background(), enc)
		require.Error(t, err)
		assert.Equal(t, vaulterr.ClassNetwork, vaulterr.ClassOf(err))
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, calls)
	})
}

func errDetail(err error, key string) string {
	var we *vaulterr.WalletError
	if !vaulterr.As(err, &we) {
		return ""
	}
	return we.Details[key]
}
