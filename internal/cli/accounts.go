package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/account"
	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// accountsScope selects the custody buckets shown.
	accountsScope string
	// accountsWatch lists addresses tracked without keys.
	accountsWatch []string
	// accountsDerive is the number of derived addresses included per currency.
	accountsDerive uint32
	// accountsTimeout bounds the whole listing.
	accountsTimeout time.Duration
)

// accountsCmd lists account groups and the portfolio.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var accountsCmd = &cobra.Command{
	Use:   "accounts [currency]",
	Short: "List accounts and their balances",
	Long: `List the accounts of a currency grouped by custody, with the group total.
Without a currency every configured currency is listed as a portfolio.

Accounts come from watched addresses (--address, validated per currency) and
from the first --derive addresses of the mnemonic.

Examples:
  coinvault accounts btc --address bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq
  coinvault accounts eth --derive 3
  coinvault accounts --derive 1 --scope nonCustodial -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAccounts,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(accountsCmd)

	accountsCmd.Flags().StringVar(&accountsScope, "scope", "all", "custody scope: all, nonCustodial, custodial, interest")
	accountsCmd.Flags().StringSliceVar(&accountsWatch, "address", nil, "watched address (repeatable)")
	accountsCmd.Flags().Uint32Var(&accountsDerive, "derive", 0, "derived addresses to include per currency")
	accountsCmd.Flags().DurationVar(&accountsTimeout, "timeout", time.Minute, "overall timeout, 0 waits until interrupted")
	_ = accountsCmd.RegisterFlagCompletionFunc("scope", completeScope)
}

// AccountResult is one account in the accounts output.
type AccountResult struct {
	ID      string       `json:"id"`
	Custody string       `json:"custody"`
	Label   string       `json:"label,omitempty"`
	Balance *money.Value `json:"balance,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// GroupResult is one currency in the accounts output.
type GroupResult struct {
	Currency string          `json:"currency"`
	Scope    string          `json:"scope"`
	Accounts []AccountResult `json:"accounts"`
	Total    *money.Value    `json:"total,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// AccountsResponse is the JSON shape of the accounts command.
type AccountsResponse struct {
	Groups []GroupResult `json:"groups"`
}

func runAccounts(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.Services()
	if err != nil {
		return err
	}

	scope, err := account.ParseScope(accountsScope)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, accountsTimeout)
	defer cancel()

	var response AccountsResponse
	if len(args) == 1 {
		cur, resolveErr := resolveCurrency(svc.Registry, args[0])
		if resolveErr != nil {
			return resolveErr
		}
		registry := accountRegistry(svc, []chain.Currency{cur}, accountsWatch, accountsDerive)
		group, groupErr := registry.AccountGroup(ctx, cur, scope)
		if groupErr != nil {
			return groupErr
		}
		total, totalErr := group.Balance(ctx)
		response.Groups = append(response.Groups, groupResult(ctx, group, total, totalErr))
	} else {
		registry := accountRegistry(svc, svc.Registry.Currencies(), accountsWatch, accountsDerive)
		portfolio, portErr := registry.Portfolio(ctx, scope)
		if portErr != nil {
			return portErr
		}
		for _, e := range portfolio.Entries {
			if e.Group == nil {
				response.Groups = append(response.Groups, GroupResult{
					Currency: e.Currency.Code,
					Scope:    string(scope),
					Error:    errString(e.Err),
				})
				continue
			}
			response.Groups = append(response.Groups, groupResult(ctx, e.Group, e.Total, e.Err))
		}
	}

	return render(cmd, cc, response, func(w io.Writer) {
		outputAccountsText(w, response)
	})
}

// accountRegistry builds an account registry whose non-custodial bucket holds
// the watched addresses valid for a currency and its first derived addresses.
// Derived addresses are only computed when requested so watch-only listings
// never need the mnemonic.
func accountRegistry(svc *Services, currencies []chain.Currency, watch []string, derive uint32) *account.Registry {
	source := account.SourceFunc(func(_ context.Context, cur chain.Currency) ([]account.Account, error) {
		var accounts []account.Account
		for _, addr := range watch {
			if svc.Receive.ValidateAddress(cur, addr) != nil {
				continue
			}
			repo, err := svc.Balances.Repository(cur, addr)
			if err != nil {
				return nil, err
			}
			accounts = append(accounts, account.NewNonCustodialAccount(cur, addr, "", "watched", repo))
		}
		for i := range derive {
			info, err := svc.Receive.Derive(cur, i)
			if err != nil {
				return nil, err
			}
			repo, err := svc.Balances.Repository(cur, info.Address)
			if err != nil {
				return nil, err
			}
			label := fmt.Sprintf("derived #%d", i)
			accounts = append(accounts, account.NewNonCustodialAccount(cur, info.Address, info.Path, label, repo))
		}
		return accounts, nil
	})

	return account.NewRegistry(&account.RegistryConfig{
		Currencies:   currencies,
		NonCustodial: source,
		Logger:       svc.Logger,
	})
}

func groupResult(ctx context.Context, g *account.Group, total money.Value, totalErr error) GroupResult {
	r := GroupResult{
		Currency: g.Currency.Code,
		Scope:    string(g.Scope),
		Accounts: make([]AccountResult, 0, g.Len()),
	}
	for _, a := range g.Accounts {
		ar := AccountResult{
			ID:      a.ID(),
			Custody: string(a.Custody()),
			Label:   a.Label(),
		}
		if bal, err := a.Balance(ctx); err != nil {
			ar.Error = err.Error()
		} else {
			ar.Balance = &bal
		}
		r.Accounts = append(r.Accounts, ar)
	}
	if totalErr != nil {
		r.Error = totalErr.Error()
	} else {
		r.Total = &total
	}
	return r
}

func outputAccountsText(w io.Writer, response AccountsResponse) {
	for i, g := range response.Groups {
		if i > 0 {
			outln(w)
		}
		out(w, "%s (%s)\n", g.Currency, g.Scope)
		if g.Error != "" && len(g.Accounts) == 0 {
			out(w, "  error: %s\n", g.Error)
			continue
		}
		if len(g.Accounts) == 0 {
			outln(w, "  no accounts")
			continue
		}

		table := output.NewTable("ACCOUNT", "CUSTODY", "LABEL", "BALANCE").AlignRight("BALANCE")
		for _, a := range g.Accounts {
			bal := a.Error
			if a.Balance != nil {
				bal = a.Balance.Display()
			}
			table.AddRow(a.ID, a.Custody, a.Label, bal)
		}
		_ = table.Render(w)

		if g.Total != nil {
			out(w, "  Total: %s\n", g.Total.Display())
		} else if g.Error != "" {
			out(w, "  Total unavailable: %s\n", g.Error)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
