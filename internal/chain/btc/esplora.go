package btc

import (
	"context"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// TxoStats are the funded/spent sums of an address in one scope.
type TxoStats struct {
	FundedTxoCount int   `json:"funded_txo_count"`
	FundedTxoSum   int64 `json:"funded_txo_sum"`
	SpentTxoCount  int   `json:"spent_txo_count"`
	SpentTxoSum    int64 `json:"spent_txo_sum"`
	TxCount        int   `json:"tx_count"`
}

// Balance returns funded minus spent.
func (s TxoStats) Balance() int64 {
	return s.FundedTxoSum - s.SpentTxoSum
}

// AddressInfo is the Esplora /address/:address response.
type AddressInfo struct {
	Address      string   `json:"address"`
	ChainStats   TxoStats `json:"chain_stats"`
	MempoolStats TxoStats `json:"mempool_stats"`
}

// UTXOResponse is one entry of the Esplora /address/:address/utxo response.
type UTXOResponse struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

// AddressInfo fetches the confirmed and mempool stats of an address.
func (c *Client) AddressInfo(ctx context.Context, address string) (AddressInfo, error) {
	var info AddressInfo
	err := c.api.GetJSON(ctx, "/address/"+url.PathEscape(address), &info)
	return info, err
}

// ListUTXOs returns the unspent outputs of an address, including unconfirmed ones.
func (c *Client) ListUTXOs(ctx context.Context, address string) ([]chain.UTXO, error) {
	var resp []UTXOResponse
	if err := c.api.GetJSON(ctx, "/address/"+url.PathEscape(address)+"/utxo", &resp); err != nil {
		return nil, err
	}

	script, err := c.payToAddress(address)
	if err != nil {
		return nil, err
	}

	tip := int64(-1)
	utxos := make([]chain.UTXO, 0, len(resp))
	for _, u := range resp {
		var confs uint32
		if u.Status.Confirmed {
			if tip < 0 {
				tip = c.tipHeight(ctx)
			}
			confs = confirmations(tip, u.Status.BlockHeight)
		}
		utxos = append(utxos, chain.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			ScriptPubKey:  hex.EncodeToString(script),
			Address:       address,
			Confirmations: confs,
		})
	}
	return utxos, nil
}

// tipHeight returns the chain tip height, or 0 when unavailable.
func (c *Client) tipHeight(ctx context.Context) int64 {
	body, err := c.api.Get(ctx, "/blocks/tip/height")
	if err != nil {
		c.debug("%s: tip height unavailable: %v", c.currency.Code, err)
		return 0
	}
	h, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0
	}
	return h
}

// confirmations counts the blocks since height. A confirmed output always
// has at least one.
func confirmations(tip, height int64) uint32 {
	if tip < height || height <= 0 {
		return 1
	}
	return uint32(tip - height + 1) //nolint:gosec // bounded by chain height
}

// FeeEstimates returns the indexer's sat/vB estimates keyed by confirmation target.
func (c *Client) FeeEstimates(ctx context.Context) (map[int]float64, error) {
	var raw map[string]float64
	if err := c.api.GetJSON(ctx, "/fee-estimates", &raw); err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(raw))
	for k, v := range raw {
		target, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[target] = v
	}
	return out, nil
}

// BroadcastTx submits raw transaction hex once and returns the txid.
func (c *Client) BroadcastTx(ctx context.Context, rawHex string) (string, error) {
	body, err := c.api.Post(ctx, "/tx", "text/plain", []byte(rawHex))
	if err != nil {
		return "", err
	}
	txid := strings.TrimSpace(string(body))
	if txid == "" {
		return "", vaulterr.WithDetails(vaulterr.ErrDecoding, map[string]string{
			"endpoint": c.api.Name(),
			"reason":   "empty txid in response",
		})
	}
	return txid, nil
}

// rejectionText returns the response body of an indexer rejection.
func rejectionText(err error) (string, int, bool) {
	var se *httpapi.StatusError
	if !errors.As(err, &se) {
		return "", 0, false
	}
	return se.Body, se.StatusCode, true
}

// isAlreadyBroadcast checks if a rejection says the transaction is already
// known to the network.
func isAlreadyBroadcast(responseText string) bool {
	lower := strings.ToLower(responseText)
	return strings.Contains(lower, "already in mempool") ||
		strings.Contains(lower, "already in the mempool") ||
		strings.Contains(lower, "txn-already-known") ||
		strings.Contains(lower, "txn-already-in-mempool") ||
		strings.Contains(lower, "already in block chain")
}

// isFeeRejection checks if a rejection is due to an insufficient fee.
func isFeeRejection(responseText string) bool {
	lower := strings.ToLower(responseText)
	return strings.Contains(lower, "min relay fee not met") ||
		strings.Contains(lower, "insufficient fee") ||
		strings.Contains(lower, "mempool min fee not met")
}
