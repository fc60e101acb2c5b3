package cli

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/output"
	"github.com/mrz1836/coinvault/internal/service/transaction"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	sendFrom    string
	sendTo      string
	sendAmount  string
	sendTier    string
	sendMemo    string
	sendChange  string
	sendDryRun  bool
	sendYes     bool
	sendTimeout time.Duration
)

// ErrSendCancelled is returned when the user declines the confirmation.
var ErrSendCancelled = &vaulterr.WalletError{
	Code:     "SEND_CANCELLED",
	Message:  "transaction cancelled",
	Class:    vaulterr.ClassInput,
	ExitCode: vaulterr.ExitGeneral,
}

// promptConfirmFn asks for confirmation before publishing, replaced in tests.
//
//nolint:gochecknoglobals // swapped by tests
var promptConfirmFn = promptConfirmation

// sendCmd builds, signs and publishes a transfer.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var sendCmd = &cobra.Command{
	Use:   "send <currency>",
	Short: "Send funds from a derived address",
	Long: `Build a transfer, check it against the balance and fee schedule, sign it
with the key derived from the mnemonic and publish it.

With --dry-run the transaction is signed and encoded but never published,
and any inputs it reserved are released again.

Examples:
  coinvault send eth --from 0x9858EfFD232B4033E47d90003D41EC34EcaEda94 \
    --to 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed --amount 0.05
  coinvault send btc --from bc1q... --to bc1q... --amount 0.001 --tier priority --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

// decodeCmd decodes a signed raw transaction.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var decodeCmd = &cobra.Command{
	Use:   "decode <currency> <rawhex>",
	Short: "Decode a signed raw transaction",
	Long: `Decode a signed transaction in hex and show its hash, parties, amount and fee.
Nothing is sent to the network.

Example:
  coinvault decode eth 0xf86c05843b9aca00825208...`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(decodeCmd)

	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sending address (required)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "destination address (required)")
	sendCmd.Flags().StringVar(&sendAmount, "amount", "", "amount in whole units (required)")
	sendCmd.Flags().StringVar(&sendTier, "tier", "regular", "fee tier: low, regular, priority (default from config)")
	sendCmd.Flags().StringVar(&sendMemo, "memo", "", "memo for chains that carry one")
	sendCmd.Flags().StringVar(&sendChange, "change", "", "change address for UTXO chains (default: --from)")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "sign and encode without publishing")
	sendCmd.Flags().BoolVarP(&sendYes, "yes", "y", false, "publish without asking for confirmation")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "overall timeout, 0 waits until interrupted")

	_ = sendCmd.MarkFlagRequired("from")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("amount")
	_ = sendCmd.RegisterFlagCompletionFunc("tier", completeTier)
}

// SendResponse is the JSON shape of the send command.
type SendResponse struct {
	ID        string       `json:"id"`
	Currency  string       `json:"currency"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Amount    money.Value  `json:"amount"`
	Fee       money.Value  `json:"fee"`
	Spendable *money.Value `json:"spendable_after_fee,omitempty"`
	Nonce     uint64       `json:"nonce,omitempty"`
	Inputs    int          `json:"inputs,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	RawHex    string       `json:"raw_hex,omitempty"`
	DryRun    bool         `json:"dry_run,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
}

// DecodeResponse is the JSON shape of the decode command.
type DecodeResponse struct {
	Currency string       `json:"currency"`
	Hash     string       `json:"hash"`
	From     string       `json:"from,omitempty"`
	To       string       `json:"to"`
	Amount   money.Value  `json:"amount"`
	Fee      *money.Value `json:"fee,omitempty"`
	Nonce    uint64       `json:"nonce,omitempty"`
	Memo     string       `json:"memo,omitempty"`
	Inputs   int          `json:"inputs,omitempty"`
	Outputs  int          `json:"outputs,omitempty"`
}

//nolint:gocognit // linear pipeline with cleanup on every failure
func runSend(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	cur, err := resolveCurrency(svc.Registry, args[0])
	if err != nil {
		return err
	}
	amount, err := money.Parse(cur, sendAmount)
	if err != nil {
		return err
	}
	tierName := sendTier
	if !cmd.Flags().Changed("tier") && cfg != nil && cfg.Fees.DefaultTier != "" {
		tierName = cfg.Fees.DefaultTier
	}
	tier, err := chain.ParseFeeTier(tierName)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, sendTimeout)
	defer cancel()

	validated, err := svc.Transactions.Prepare(ctx, transaction.SendRequest{
		From:          sendFrom,
		To:            sendTo,
		Amount:        amount,
		Tier:          tier,
		Memo:          sendMemo,
		ChangeAddress: sendChange,
	})
	if err != nil {
		return err
	}

	response := sendResponse(validated)
	if !sendDryRun && !sendYes {
		outputSendText(cmd.ErrOrStderr(), response)
		if !isTerminalFn() {
			svc.Transactions.Abandon(validated)
			return vaulterr.WithSuggestion(ErrSendCancelled, "pass --yes to publish without a terminal")
		}
		if !promptConfirmFn() {
			svc.Transactions.Abandon(validated)
			return ErrSendCancelled
		}
	}

	signed, err := svc.Transactions.Sign(ctx, validated)
	if err != nil {
		svc.Transactions.Abandon(validated)
		return err
	}
	encoded, err := svc.Transactions.Encode(signed)
	if err != nil {
		svc.Transactions.Abandon(validated)
		return err
	}
	response.Hash = encoded.Hash

	if sendDryRun {
		svc.Transactions.Abandon(validated)
		response.RawHex = encoded.RawHex
		response.DryRun = true
		return render(cmd, cc, response, func(w io.Writer) {
			outputSendText(w, response)
		})
	}

	published, err := svc.Transactions.Publish(ctx, encoded)
	if err != nil {
		return err
	}
	response.Hash = published.Hash
	response.Duplicate = published.Duplicate

	return render(cmd, cc, response, func(w io.Writer) {
		outputSendText(w, response)
	})
}

func runDecode(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	cur, err := resolveCurrency(svc.Registry, args[0])
	if err != nil {
		return err
	}
	signed, err := svc.Transactions.DecodeHex(cur, args[1])
	if err != nil {
		return err
	}

	response := decodeResponse(signed.Tx)
	return render(cmd, cc, response, func(w io.Writer) {
		outputDecodeText(w, response)
	})
}

func sendResponse(v chain.Validated) SendResponse {
	c := v.Candidate
	r := SendResponse{
		ID:       c.ID,
		Currency: c.Currency.Code,
		From:     c.From,
		To:       c.To,
		Amount:   money.New(c.Currency, c.Amount),
		Fee:      money.New(c.FeeCurrency(), c.Fee),
		Nonce:    c.Nonce,
		Inputs:   len(c.Inputs),
	}
	if v.Spendable != nil {
		s := money.New(c.FeeCurrency(), v.Spendable)
		r.Spendable = &s
	}
	return r
}

func decodeResponse(tx chain.SignedTx) DecodeResponse {
	s := tx.Summary()
	cur := tx.Currency()
	r := DecodeResponse{
		Currency: cur.Code,
		Hash:     tx.TxHash(),
		From:     s.From,
		To:       s.To,
		Amount:   money.New(cur, orZeroInt(s.Amount)),
		Nonce:    s.Nonce,
		Memo:     s.Memo,
		Inputs:   s.Inputs,
		Outputs:  s.Outputs,
	}
	if s.Fee != nil {
		fee := money.New(cur.Chain(), s.Fee)
		r.Fee = &fee
	}
	return r
}

func outputSendText(w io.Writer, r SendResponse) {
	switch {
	case r.DryRun:
		output.Warnf(w, "Dry run, transaction not published:")
	case r.Hash != "":
		output.Successf(w, "Transaction published:")
	default:
		outln(w, "About to send:")
	}
	out(w, "  Amount: %s\n", r.Amount.Display())
	out(w, "  From:   %s\n", r.From)
	out(w, "  To:     %s\n", r.To)
	out(w, "  Fee:    %s\n", r.Fee.Display())
	if r.Spendable != nil {
		out(w, "  Left:   %s spendable after fee\n", r.Spendable.Display())
	}
	if r.Nonce > 0 {
		out(w, "  Nonce:  %d\n", r.Nonce)
	}
	if r.Inputs > 0 {
		out(w, "  Inputs: %d\n", r.Inputs)
	}
	if r.Hash != "" {
		out(w, "  Hash:   %s\n", r.Hash)
	}
	if r.Duplicate {
		output.Infof(w, "already published earlier, not broadcast again")
	}
	if r.RawHex != "" {
		out(w, "  Raw:    %s\n", r.RawHex)
	}
}

func outputDecodeText(w io.Writer, r DecodeResponse) {
	out(w, "  Hash:   %s\n", r.Hash)
	if r.From != "" {
		out(w, "  From:   %s\n", r.From)
	}
	out(w, "  To:     %s\n", r.To)
	out(w, "  Amount: %s\n", r.Amount.Display())
	if r.Fee != nil {
		out(w, "  Fee:    %s\n", r.Fee.Display())
	}
	if r.Nonce > 0 {
		out(w, "  Nonce:  %d\n", r.Nonce)
	}
	if r.Memo != "" {
		out(w, "  Memo:   %s\n", r.Memo)
	}
	if r.Inputs > 0 || r.Outputs > 0 {
		out(w, "  Shape:  %d inputs, %d outputs\n", r.Inputs, r.Outputs)
	}
}

// promptConfirmation asks the user to confirm the transfer.
func promptConfirmation() bool {
	out(os.Stderr, "\nPublish this transaction? [y/N]: ")

	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func orZeroInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
