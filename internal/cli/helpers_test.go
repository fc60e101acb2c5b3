package cli

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/eth"
	"github.com/mrz1836/coinvault/internal/chain/eth/rpc"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	"github.com/mrz1836/coinvault/internal/keys"
	"github.com/mrz1836/coinvault/internal/metrics"
	"github.com/mrz1836/coinvault/internal/output"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testETHFrom  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" // index 0 of testMnemonic
	testETHTo    = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	defaultTestTimeout = 10 * time.Second
)

// ethNode is a JSON-RPC node holding 1 ETH per address at nonce 5.
// It never touches t from the handler, since background refreshes may
// outlive the test.
type ethNode struct {
	*httptest.Server

	mu   sync.Mutex
	sent []string
}

func newETHNode(t *testing.T) *ethNode {
	t.Helper()
	node := &ethNode{}
	node.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_getBalance":
			resp["result"] = "0xde0b6b3a7640000"
		case "eth_getTransactionCount":
			resp["result"] = "0x5"
		case "eth_gasPrice":
			resp["result"] = "0x3b9aca00"
		case "eth_getBlockByNumber":
			resp["result"] = map[string]any{"baseFeePerGas": "0x1"}
		case "eth_sendRawTransaction":
			hash, err := node.record(req.Params)
			if err != nil {
				resp["error"] = map[string]any{"code": -32000, "message": err.Error()}
				break
			}
			resp["result"] = hash
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(node.Close)
	return node
}

func (n *ethNode) record(params []json.RawMessage) (string, error) {
	var raw string
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return "", err
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return "", err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return "", err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

func (n *ethNode) broadcasts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// newTestServices wires the real Ethereum client against node. A nil
// provider leaves the services without key material.
func newTestServices(t *testing.T, node *ethNode, provide MnemonicProvider) *Services {
	t.Helper()

	endpoint := httpapi.New("eth", node.URL,
		httpapi.WithRetry(httpapi.NoRetry()),
		httpapi.WithRateLimiter(httpapi.NewRateLimiter(0, 0)),
		httpapi.WithMetrics(&metrics.Metrics{}),
	)
	client, err := eth.NewClient(eth.Config{
		RPC:     rpc.NewClient(endpoint).WithRetry(httpapi.NoRetry()),
		ChainID: big.NewInt(1),
	})
	require.NoError(t, err)

	registry := chain.NewRegistry()
	registry.Register(chain.ETH, client.Capabilities())

	svc := NewServices(ServicesConfig{
		Registry: registry,
		Keys:     NewKeyLoader(provide, keys.Options{}),
	})
	t.Cleanup(svc.Close)
	return svc
}

func testMnemonicProvider() (string, string, error) {
	return testMnemonic, "", nil
}

// runCommand runs fn with svc installed and returns what it wrote to stdout.
func runCommand(t *testing.T, svc *Services, format output.Format, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cc := NewCommandContext(nil, nil, output.NewFormatter(format, &stdout)).WithServices(svc)
	SetCmdContext(cmd, cc)

	err := fn(cmd, args)
	return stdout.String(), err
}

// decodeJSON decodes command output into a generic map.
func decodeJSON(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

// setFlag assigns a package-level flag variable for one test.
func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}
