package transaction

import (
	"context"

	"github.com/mrz1836/coinvault/internal/chain"
)

// invalidateAfterPublish drops the cached details of the sender so the next
// read goes to the network. Token transfers also spend native gas, so the
// native account is invalidated as well. Invalidation is best-effort.
func (s *Service) invalidateAfterPublish(ctx context.Context, c chain.Candidate) {
	if s.balances == nil || c.From == "" {
		return
	}
	s.balances.Invalidate(ctx, c.Currency, c.From)
	if c.Currency.IsToken() {
		s.balances.Invalidate(ctx, c.Currency.Chain(), c.From)
	}
}
