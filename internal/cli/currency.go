package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// maxCurrencySuggestionDistance is the largest edit distance offered as a
// "did you mean" hint.
const maxCurrencySuggestionDistance = 2

// resolveCurrency maps a ticker to a currency the registry serves. Configured
// tokens take part in matching so custom ERC-20 entries resolve too.
func resolveCurrency(registry *chain.Registry, code string) (chain.Currency, error) {
	want := strings.ToUpper(strings.TrimSpace(code))
	known := registry.Currencies()
	for _, c := range known {
		if c.Code == want {
			return c, nil
		}
	}

	// Known but not configured, e.g. a disabled network.
	if c, err := chain.ParseCurrency(want); err == nil {
		return chain.Currency{}, vaulterr.WithSuggestion(
			vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{"currency": c.Code}),
			fmt.Sprintf("enable the %s network in the configuration", strings.ToLower(c.Chain().Code)),
		)
	}

	err := vaulterr.WithDetails(vaulterr.ErrUnknownCurrency, map[string]string{"code": want})
	if s := suggestCurrency(want, known); s != "" {
		return chain.Currency{}, vaulterr.WithSuggestion(err, fmt.Sprintf("did you mean %q?", s))
	}
	return chain.Currency{}, vaulterr.WithSuggestion(err, "supported: "+currencyList(known))
}

// suggestCurrency returns the closest ticker within the suggestion distance.
func suggestCurrency(code string, known []chain.Currency) string {
	best, bestDist := "", maxCurrencySuggestionDistance+1
	for _, c := range known {
		if d := levenshtein.ComputeDistance(code, c.Code); d < bestDist {
			best, bestDist = c.Code, d
		}
	}
	return best
}

func currencyList(known []chain.Currency) string {
	codes := make([]string, 0, len(known))
	for _, c := range known {
		codes = append(codes, c.Code)
	}
	sort.Strings(codes)
	return strings.Join(codes, ", ")
}
