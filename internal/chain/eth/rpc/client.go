// Package rpc provides a minimal JSON-RPC 2.0 client for Ethereum nodes.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

var (
	// ErrRPCRequest indicates the node answered with a JSON-RPC error object.
	ErrRPCRequest = &vaulterr.WalletError{
		Code:     "RPC_REQUEST_FAILED",
		Message:  "RPC request failed",
		Class:    vaulterr.ClassNetwork,
		ExitCode: vaulterr.ExitNetwork,
	}

	// ErrRPCResponse indicates an invalid RPC response.
	ErrRPCResponse = &vaulterr.WalletError{
		Code:     "RPC_INVALID_RESPONSE",
		Message:  "invalid RPC response",
		Class:    vaulterr.ClassNetwork,
		ExitCode: vaulterr.ExitNetwork,
	}
)

// Client is a minimal Ethereum JSON-RPC client. Read methods are retried
// and fail over to the next endpoint; SendRawTransaction is submitted once
// to the primary endpoint.
type Client struct {
	endpoints []*httpapi.Client
	retry     httpapi.RetryConfig
	idCounter atomic.Uint64
}

// NewClient creates a client over one primary endpoint and optional fallbacks.
// Endpoints should be constructed with httpapi.NoRetry; retries are applied
// here, per call, only for reads.
func NewClient(primary *httpapi.Client, fallbacks ...*httpapi.Client) *Client {
	return &Client{
		endpoints: append([]*httpapi.Client{primary}, fallbacks...),
		retry:     httpapi.DefaultRetryConfig(),
	}
}

// WithRetry overrides the read retry policy.
func (c *Client) WithRetry(cfg httpapi.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// request represents a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

// response represents a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// AsError extracts a node error from err.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Call performs a JSON-RPC call against one endpoint without retrying.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.callEndpoint(ctx, c.endpoints[0], method, params)
}

func (c *Client) callEndpoint(ctx context.Context, ep *httpapi.Client, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.idCounter.Add(1),
	}

	var resp response
	if err := ep.PostJSON(ctx, "", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, vaulterr.WithDetails(vaulterr.WithCause(ErrRPCRequest, resp.Error), map[string]string{
			"method":   method,
			"endpoint": ep.Name(),
		})
	}
	if len(resp.Result) == 0 {
		return nil, vaulterr.WithDetails(ErrRPCResponse, map[string]string{"method": method, "reason": "empty result"})
	}

	return resp.Result, nil
}

// read performs an idempotent call, retrying transient failures and then
// moving on to the next endpoint. Node-level errors are returned immediately.
func (c *Client) read(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var lastErr error
	for _, ep := range c.endpoints {
		result, err := httpapi.RetryWithConfig(ctx, c.retry, func() (json.RawMessage, error) {
			return c.callEndpoint(ctx, ep, method, params)
		})
		if err == nil {
			return result, nil
		}
		if _, isNodeErr := AsError(err); isNodeErr || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) readBig(ctx context.Context, method string, params ...any) (*big.Int, error) {
	result, err := c.read(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	var v hexutil.Big
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, vaulterr.WithDetails(vaulterr.WithCause(ErrRPCResponse, err), map[string]string{"method": method})
	}
	return v.ToInt(), nil
}

func (c *Client) readUint64(ctx context.Context, method string, params ...any) (uint64, error) {
	result, err := c.read(ctx, method, params...)
	if err != nil {
		return 0, err
	}
	var v hexutil.Uint64
	if err := json.Unmarshal(result, &v); err != nil {
		return 0, vaulterr.WithDetails(vaulterr.WithCause(ErrRPCResponse, err), map[string]string{"method": method})
	}
	return uint64(v), nil
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.readBig(ctx, "eth_chainId")
}

// GetBalance returns the balance of an address in wei.
func (c *Client) GetBalance(ctx context.Context, address, block string) (*big.Int, error) {
	if block == "" {
		block = "latest"
	}
	return c.readBig(ctx, "eth_getBalance", address, block)
}

// GetTransactionCount returns the nonce for an address.
func (c *Client) GetTransactionCount(ctx context.Context, address, block string) (uint64, error) {
	if block == "" {
		block = "pending"
	}
	return c.readUint64(ctx, "eth_getTransactionCount", address, block)
}

// GasPrice returns the current gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.readBig(ctx, "eth_gasPrice")
}

// BaseFee returns the base fee of the latest block, or nil before London.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	result, err := c.read(ctx, "eth_getBlockByNumber", "latest", false)
	if err != nil {
		return nil, err
	}
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, vaulterr.WithDetails(vaulterr.WithCause(ErrRPCResponse, err), map[string]string{"method": "eth_getBlockByNumber"})
	}
	if block.BaseFeePerGas == nil {
		return nil, nil
	}
	return block.BaseFeePerGas.ToInt(), nil
}

// CallMsg represents the parameters for eth_call and eth_estimateGas.
type CallMsg struct {
	From  string
	To    string
	Gas   uint64
	Value *big.Int
	Data  []byte
}

// MarshalJSON implements custom JSON marshaling for CallMsg.
func (m CallMsg) MarshalJSON() ([]byte, error) {
	type callMsgJSON struct {
		From  string `json:"from,omitempty"`
		To    string `json:"to"`
		Gas   string `json:"gas,omitempty"`
		Value string `json:"value,omitempty"`
		Data  string `json:"data,omitempty"`
	}

	msg := callMsgJSON{
		From: m.From,
		To:   m.To,
	}

	if m.Gas > 0 {
		msg.Gas = hexutil.EncodeUint64(m.Gas)
	}
	if m.Value != nil && m.Value.Sign() > 0 {
		msg.Value = hexutil.EncodeBig(m.Value)
	}
	if len(m.Data) > 0 {
		msg.Data = hexutil.Encode(m.Data)
	}

	return json.Marshal(msg)
}

// EthCall performs an eth_call.
func (c *Client) EthCall(ctx context.Context, msg CallMsg, block string) ([]byte, error) {
	if block == "" {
		block = "latest"
	}

	result, err := c.read(ctx, "eth_call", msg, block)
	if err != nil {
		return nil, err
	}

	var out hexutil.Bytes
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, vaulterr.WithDetails(vaulterr.WithCause(ErrRPCResponse, err), map[string]string{"method": "eth_call"})
	}
	return out, nil
}

// EstimateGas estimates the gas needed for a transaction.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return c.readUint64(ctx, "eth_estimateGas", msg)
}

// SendRawTransaction submits a signed transaction once and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, signedTx []byte) (string, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", hexutil.Encode(signedTx))
	if err != nil {
		return "", err
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", vaulterr.WithDetails(vaulterr.WithCause(ErrRPCResponse, err), map[string]string{"method": "eth_sendRawTransaction"})
	}

	return strings.ToLower(txHash), nil
}
