package cli

import (
	"io"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/eth"
	"github.com/mrz1836/coinvault/internal/output"
)

// feesCmd shows the current fee schedule of a currency.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var feesCmd = &cobra.Command{
	Use:   "fees <currency>",
	Short: "Show current network fee rates",
	Long: `Show the low, regular and priority fee rates of a network together with
the minimum rate the network accepts. Token fees are paid in the hosting coin.

Examples:
  coinvault fees btc
  coinvault fees eth -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runFees,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(feesCmd)
}

// FeesResponse is the JSON shape of the fees command.
type FeesResponse struct {
	Currency  string    `json:"currency"`
	PaidIn    string    `json:"paid_in"`
	Unit      string    `json:"unit"`
	Low       string    `json:"low,omitempty"`
	Regular   string    `json:"regular,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	Minimum   string    `json:"minimum,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

func runFees(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	cur, err := resolveCurrency(svc.Registry, args[0])
	if err != nil {
		return err
	}
	estimator, err := svc.Registry.Fees(cur)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	schedule, err := estimator.EstimateFees(ctx)
	if err != nil {
		return err
	}

	response := feesResponse(cur, schedule)
	return render(cmd, cc, response, func(w io.Writer) {
		outputFeesText(w, response, schedule)
	})
}

func feesResponse(cur chain.Currency, s chain.FeeSchedule) FeesResponse {
	return FeesResponse{
		Currency:  cur.Code,
		PaidIn:    s.Currency.Code,
		Unit:      s.Unit,
		Low:       intString(s.Low),
		Regular:   intString(s.Regular),
		Priority:  intString(s.Priority),
		Minimum:   intString(s.Minimum),
		FetchedAt: s.FetchedAt,
	}
}

func outputFeesText(w io.Writer, r FeesResponse, s chain.FeeSchedule) {
	out(w, "Fees for %s (paid in %s)\n\n", r.Currency, r.PaidIn)

	showGwei := s.Currency == chain.ETH
	table := output.NewTable("TIER", "RATE", "UNIT").AlignRight("RATE")
	for _, row := range []struct {
		tier string
		rate *big.Int
	}{
		{string(chain.TierLow), s.Low},
		{string(chain.TierRegular), s.Regular},
		{string(chain.TierPriority), s.Priority},
		{"minimum", s.Minimum},
	} {
		if row.rate == nil {
			continue
		}
		unit := r.Unit
		if showGwei {
			unit += " (" + eth.FormatGasPrice(row.rate) + ")"
		}
		table.AddRow(row.tier, row.rate.String(), unit)
	}
	_ = table.Render(w)
}

func intString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
