package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	"github.com/mrz1836/coinvault/internal/metrics"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// rpcServer answers every call with result, or with a node error when errMsg is set.
func rpcServer(t *testing.T, wantMethod string, result any, errMsg string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, wantMethod, req["method"])

		resp := map[string]any{"jsonrpc": "2.0", "id": req["id"]}
		if errMsg != "" {
			resp["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			resp["result"] = result
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func endpoint(url string) *httpapi.Client {
	return httpapi.New("eth", url,
		httpapi.WithRetry(httpapi.NoRetry()),
		httpapi.WithRateLimiter(httpapi.NewRateLimiter(0, 0)),
		httpapi.WithMetrics(&metrics.Metrics{}),
	)
}

func fastRetry() httpapi.RetryConfig {
	return httpapi.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestChainID(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_chainId", "0x1", "")
	defer server.Close()

	chainID, err := NewClient(endpoint(server.URL)).ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), chainID)
}

func TestGetBalance(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_getBalance", "0xde0b6b3a7640000", "")
	defer server.Close()

	balance, err := NewClient(endpoint(server.URL)).GetBalance(context.Background(), "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", "")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())
}

func TestGetTransactionCount(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_getTransactionCount", "0x2a", "")
	defer server.Close()

	nonce, err := NewClient(endpoint(server.URL)).GetTransactionCount(context.Background(), "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestGasPriceAndBaseFee(t *testing.T) {
	t.Parallel()

	server := rpcServer(t, "eth_gasPrice", "0x3b9aca00", "")
	defer server.Close()
	price, err := NewClient(endpoint(server.URL)).GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), price.Int64())

	blockServer := rpcServer(t, "eth_getBlockByNumber", map[string]any{"number": "0x10", "baseFeePerGas": "0x77359400"}, "")
	defer blockServer.Close()
	baseFee, err := NewClient(endpoint(blockServer.URL)).BaseFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000_000), baseFee.Int64())

	legacy := rpcServer(t, "eth_getBlockByNumber", map[string]any{"number": "0x10"}, "")
	defer legacy.Close()
	baseFee, err = NewClient(endpoint(legacy.URL)).BaseFee(context.Background())
	require.NoError(t, err)
	assert.Nil(t, baseFee)
}

func TestEthCall(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_call", "0x00000000000000000000000000000000000000000000000000000000000f4240", "")
	defer server.Close()

	out, err := NewClient(endpoint(server.URL)).EthCall(context.Background(), CallMsg{To: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Data: []byte{0x70, 0xa0, 0x82, 0x31}}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), new(big.Int).SetBytes(out).Int64())
}

func TestSendRawTransaction(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_sendRawTransaction", "0xABCDEF", "")
	defer server.Close()

	hash, err := NewClient(endpoint(server.URL)).SendRawTransaction(context.Background(), []byte{0xf8, 0x6b})
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", hash)
}

func TestNodeErrorIsTyped(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_sendRawTransaction", nil, "nonce too low")
	defer server.Close()

	_, err := NewClient(endpoint(server.URL)).SendRawTransaction(context.Background(), []byte{0x01})
	require.ErrorIs(t, err, ErrRPCRequest)
	assert.Equal(t, vaulterr.ClassNetwork, vaulterr.ClassOf(err))

	nodeErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "nonce too low", nodeErr.Message)
	assert.Equal(t, -32000, nodeErr.Code)
}

func TestSendRawTransaction_NotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(endpoint(server.URL)).WithRetry(fastRetry())
	_, err := client.SendRawTransaction(context.Background(), []byte{0x01})
	require.ErrorIs(t, err, vaulterr.ErrHTTPStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReads_RetryThenFailOver(t *testing.T) {
	t.Parallel()
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := rpcServer(t, "eth_gasPrice", "0x64", "")
	defer fallback.Close()

	client := NewClient(endpoint(primary.URL), endpoint(fallback.URL)).WithRetry(fastRetry())
	price, err := client.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), price.Int64())
	assert.Equal(t, int32(2), primaryCalls.Load())
}

func TestReads_NodeErrorDoesNotFailOver(t *testing.T) {
	t.Parallel()
	primary := rpcServer(t, "eth_call", nil, "execution reverted")
	defer primary.Close()
	var fallbackCalls atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		fallbackCalls.Add(1)
	}))
	defer fallback.Close()

	client := NewClient(endpoint(primary.URL), endpoint(fallback.URL)).WithRetry(fastRetry())
	_, err := client.EthCall(context.Background(), CallMsg{To: "0x0"}, "")
	require.ErrorIs(t, err, ErrRPCRequest)
	assert.Equal(t, int32(0), fallbackCalls.Load())
}

func TestMalformedResult(t *testing.T) {
	t.Parallel()
	server := rpcServer(t, "eth_chainId", "not-hex", "")
	defer server.Close()

	_, err := NewClient(endpoint(server.URL)).ChainID(context.Background())
	require.ErrorIs(t, err, ErrRPCResponse)
}

func TestCallMsg_MarshalJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(CallMsg{
		From:  "0x1",
		To:    "0x2",
		Gas:   21000,
		Value: big.NewInt(255),
		Data:  []byte{0xa9, 0x05},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"0x1","to":"0x2","gas":"0x5208","value":"0xff","data":"0xa905"}`, string(raw))

	raw, err = json.Marshal(CallMsg{To: "0x2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"0x2"}`, string(raw))
}
