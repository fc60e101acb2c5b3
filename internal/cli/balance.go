package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/output"
	"github.com/mrz1836/coinvault/internal/service/balance"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// balanceCached serves a fresh cached value without network I/O.
	balanceCached bool
	// balanceTimeout bounds each account fetch.
	balanceTimeout time.Duration
)

// balanceCmd reads the details of one or more addresses.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var balanceCmd = &cobra.Command{
	Use:   "balance <currency> <address> [address...]",
	Short: "Show the balance of addresses",
	Long: `Fetch the confirmed, pending and spendable balance of one or more addresses.

Addresses are fetched concurrently. When the network cannot be reached the last
known details are shown and marked stale.

Examples:
  coinvault balance btc bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq
  coinvault balance usdc 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed --cached`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().BoolVar(&balanceCached, "cached", false, "serve a cached value when one is fresh")
	balanceCmd.Flags().DurationVar(&balanceTimeout, "timeout", 30*time.Second, "timeout per address, 0 disables")
}

// BalanceResult is one row of the balance output.
type BalanceResult struct {
	Currency  string       `json:"currency"`
	Address   string       `json:"address"`
	Balance   money.Value  `json:"balance"`
	Pending   money.Value  `json:"pending"`
	Spendable money.Value  `json:"spendable"`
	FeeFunds  *money.Value `json:"fee_funds,omitempty"`
	Nonce     uint64       `json:"nonce,omitempty"`
	UTXOs     int          `json:"utxos,omitempty"`
	FetchedAt time.Time    `json:"fetched_at"`
	Stale     bool         `json:"stale,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// BalanceResponse is the JSON shape of the balance command.
type BalanceResponse struct {
	Balances []BalanceResult `json:"balances"`
	Errors   []string        `json:"errors,omitempty"`
}

func runBalance(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	cur, err := resolveCurrency(svc.Registry, args[0])
	if err != nil {
		return err
	}

	req := &balance.FetchBatchRequest{}
	for _, addr := range args[1:] {
		if err := svc.Receive.ValidateAddress(cur, addr); err != nil {
			return err
		}
		req.Accounts = append(req.Accounts, balance.FetchRequest{
			Currency:  cur,
			Address:   addr,
			FromCache: balanceCached,
			Timeout:   balanceTimeout,
		})
	}

	overall := time.Duration(0)
	if balanceTimeout > 0 {
		overall = balanceTimeout*time.Duration(len(req.Accounts)) + 5*time.Second
	}
	ctx, cancel := contextWithTimeout(cmd, overall)
	defer cancel()

	batch := svc.Balances.FetchBalances(ctx, req)

	var response BalanceResponse
	for _, r := range batch.Results {
		if r == nil {
			continue
		}
		response.Balances = append(response.Balances, balanceResult(r))
	}
	for _, e := range batch.Errors {
		response.Errors = append(response.Errors, e.Error())
	}

	// A single address that failed outright is an error, not an empty table.
	if len(response.Balances) == 0 && len(batch.Errors) > 0 {
		return batch.Errors[0]
	}

	return render(cmd, cc, response, func(w io.Writer) {
		outputBalanceText(w, response)
	})
}

func balanceResult(r *balance.FetchResult) BalanceResult {
	d := r.Details
	res := BalanceResult{
		Currency:  d.Currency.Code,
		Address:   d.Address,
		Balance:   d.Balance,
		Pending:   d.Pending,
		Spendable: d.Spendable(),
		Nonce:     d.Nonce,
		UTXOs:     len(d.UTXOs),
		FetchedAt: d.FetchedAt,
		Stale:     r.Stale || d.Stale,
	}
	if d.Currency.IsToken() {
		funds := d.FeeFunds
		res.FeeFunds = &funds
	}
	if r.Error != nil {
		res.Error = r.Error.Error()
	}
	return res
}

func outputBalanceText(w io.Writer, response BalanceResponse) {
	table := output.NewTable("ADDRESS", "BALANCE", "PENDING", "SPENDABLE", "").AlignRight("BALANCE", "PENDING", "SPENDABLE")
	for _, b := range response.Balances {
		note := ""
		if b.Stale {
			note = "stale since " + b.FetchedAt.Format(time.RFC3339)
		}
		table.AddRow(b.Address, b.Balance.Display(), b.Pending.String(), b.Spendable.String(), note)
	}
	_ = table.Render(w)

	for _, b := range response.Balances {
		if b.FeeFunds != nil {
			out(w, "\nFee funds for %s: %s\n", b.Address, b.FeeFunds.Display())
		}
	}
	for _, e := range response.Errors {
		out(w, "\nwarning: %s\n", e)
	}
	if len(response.Balances) == 1 && response.Balances[0].Error != "" {
		out(w, "\nserved from the last snapshot: %s\n", response.Balances[0].Error)
	}
}
