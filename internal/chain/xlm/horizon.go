package xlm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// HorizonAccount is the subset of GET /accounts/{id} the wallet reads.
type HorizonAccount struct {
	ID            string           `json:"id"`
	Sequence      string           `json:"sequence"`
	SubentryCount uint32           `json:"subentry_count"`
	NumSponsoring uint32           `json:"num_sponsoring"`
	NumSponsored  uint32           `json:"num_sponsored"`
	Balances      []HorizonBalance `json:"balances"`
}

// HorizonBalance is one balance line of an account.
type HorizonBalance struct {
	AssetType          string `json:"asset_type"`
	AssetCode          string `json:"asset_code,omitempty"`
	AssetIssuer        string `json:"asset_issuer,omitempty"`
	Balance            string `json:"balance"`
	SellingLiabilities string `json:"selling_liabilities,omitempty"`
}

// FeeStats is the subset of GET /fee_stats the wallet reads. Values are
// stroops per operation encoded as strings.
type FeeStats struct {
	LastLedgerBaseFee string `json:"last_ledger_base_fee"`
	FeeCharged        struct {
		Mode string `json:"mode"`
		P10  string `json:"p10"`
		P50  string `json:"p50"`
		P90  string `json:"p90"`
	} `json:"fee_charged"`
}

// SubmitResponse is the body of a successful POST /transactions.
type SubmitResponse struct {
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	Successful bool   `json:"successful"`
}

// Problem is a Horizon error document.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Extras struct {
		Hash        string `json:"hash"`
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

// FetchAccount retrieves an account. found is false when the account has
// not been created on the ledger.
func (c *Client) FetchAccount(ctx context.Context, accountID string) (acct HorizonAccount, found bool, err error) {
	err = c.api.GetJSON(ctx, "/accounts/"+url.PathEscape(accountID), &acct)
	if err == nil {
		return acct, true, nil
	}
	if p, status, ok := problemOf(err); ok && status == http.StatusNotFound {
		c.debug("xlm: account %s not found (%s)", accountID, p.Title)
		return HorizonAccount{}, false, nil
	}
	return HorizonAccount{}, false, err
}

// FetchFeeStats retrieves the recent fee distribution.
func (c *Client) FetchFeeStats(ctx context.Context) (FeeStats, error) {
	var stats FeeStats
	err := c.api.GetJSON(ctx, "/fee_stats", &stats)
	return stats, err
}

// SubmitTransaction posts a base64 envelope once.
func (c *Client) SubmitTransaction(ctx context.Context, envelopeB64 string) (SubmitResponse, error) {
	form := url.Values{"tx": {envelopeB64}}
	body, err := c.api.Post(ctx, "/transactions", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return SubmitResponse{}, err
	}

	var resp SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SubmitResponse{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrDecoding, err), map[string]string{
			"endpoint": c.api.Name(),
		})
	}
	return resp, nil
}

// problemOf extracts the Horizon problem document from a status error.
func problemOf(err error) (Problem, int, bool) {
	var se *httpapi.StatusError
	if !errors.As(err, &se) {
		return Problem{}, 0, false
	}
	var p Problem
	_ = json.Unmarshal([]byte(se.Body), &p)
	return p, se.StatusCode, true
}

// parseStroops parses a decimal string of stroops, returning 0 when empty.
func parseStroops(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
