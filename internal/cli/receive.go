package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/output"
	"github.com/mrz1836/coinvault/internal/service/receive"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// receiveAmount is the requested amount, in whole units.
	receiveAmount string
	// receiveMemo is attached to the URI for chains that carry memos.
	receiveMemo string
	// receiveQR renders the URI as a terminal QR code.
	receiveQR bool
	// receiveScan bounds the search for an unused derived address.
	receiveScan uint32
)

// receiveCmd builds a receive target for an address.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var receiveCmd = &cobra.Command{
	Use:   "receive <currency> [address]",
	Short: "Show a receive address, payment URI and QR code",
	Long: `Build a payment target for an address. Without an address the first
derived address without recorded activity is used, which needs the mnemonic.

Examples:
  coinvault receive btc bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq --amount 0.001
  coinvault receive xlm --memo invoice-42 --qr`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReceive,
}

// parseURICmd decodes a payment URI.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var parseURICmd = &cobra.Command{
	Use:   "parse-uri <uri>",
	Short: "Decode and validate a payment URI",
	Long: `Decode a payment URI such as bitcoin:<address>?amount=0.1 and validate
its address against the network it names.

Examples:
  coinvault parse-uri "bitcoin:bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq?amount=0.001"
  coinvault parse-uri "ethereum:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runParseURI,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(parseURICmd)

	receiveCmd.Flags().StringVarP(&receiveAmount, "amount", "a", "", "requested amount")
	receiveCmd.Flags().StringVarP(&receiveMemo, "memo", "m", "", "memo for chains that carry one")
	receiveCmd.Flags().BoolVar(&receiveQR, "qr", false, "render the URI as a QR code")
	receiveCmd.Flags().Uint32Var(&receiveScan, "scan", 20, "derived addresses to scan for an unused one")
}

// TargetResponse is the JSON shape of receive and parse-uri.
type TargetResponse struct {
	Currency string       `json:"currency"`
	Address  string       `json:"address"`
	Amount   *money.Value `json:"amount,omitempty"`
	Memo     string       `json:"memo,omitempty"`
	URI      string       `json:"uri"`
	Path     string       `json:"path,omitempty"`
	Index    *uint32      `json:"index,omitempty"`
	Used     bool         `json:"used,omitempty"`
}

func runReceive(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	cur, err := resolveCurrency(svc.Registry, args[0])
	if err != nil {
		return err
	}

	var amount *money.Value
	if receiveAmount != "" {
		v, parseErr := money.Parse(cur, receiveAmount)
		if parseErr != nil {
			return parseErr
		}
		amount = &v
	}

	var derived *receive.AddressInfo
	address := ""
	if len(args) == 2 {
		address = args[1]
	} else {
		ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
		defer cancel()

		info, findErr := svc.Receive.FindUnused(ctx, cur, receiveScan)
		if findErr != nil {
			return findErr
		}
		derived = &info
		address = info.Address
	}

	target, err := svc.Receive.Target(cur, address, amount, receiveMemo)
	if err != nil {
		return err
	}

	response := targetResponse(target)
	if derived != nil {
		response.Path = derived.Path
		response.Index = &derived.Index
		response.Used = derived.HasActivity
	}

	return render(cmd, cc, response, func(w io.Writer) {
		outputTargetText(w, response)
		if receiveQR {
			outln(w)
			if err := output.RenderQR(w, target.QRPayload(), output.QRConfigFor(target.QRPayload())); err != nil {
				out(w, "cannot render QR code: %v\n", err)
			}
		}
	})
}

func runParseURI(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	target, err := svc.Receive.ParseURI(args[0])
	if err != nil {
		return err
	}

	response := targetResponse(target)
	return render(cmd, cc, response, func(w io.Writer) {
		outputTargetText(w, response)
	})
}

func targetResponse(t receive.Target) TargetResponse {
	return TargetResponse{
		Currency: t.Currency.Code,
		Address:  t.Address,
		Amount:   t.Amount,
		Memo:     t.Memo,
		URI:      t.URI(),
	}
}

func outputTargetText(w io.Writer, r TargetResponse) {
	out(w, "  Currency: %s\n", r.Currency)
	out(w, "  Address:  %s\n", r.Address)
	if r.Amount != nil {
		out(w, "  Amount:   %s\n", r.Amount.Display())
	}
	if r.Memo != "" {
		out(w, "  Memo:     %s\n", r.Memo)
	}
	if r.Path != "" {
		out(w, "  Path:     %s\n", r.Path)
	}
	if r.Used {
		outln(w, "  Note:     every scanned address has activity; this one is reused")
	}
	out(w, "  URI:      %s\n", r.URI)
}
