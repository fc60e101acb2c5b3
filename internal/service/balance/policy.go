package balance

import (
	"strings"
	"time"

	"github.com/mrz1836/coinvault/internal/cache"
)

// RefreshPolicy decides whether a persisted snapshot may be served instead
// of a network fetch when a caller accepts cached data.
type RefreshPolicy struct {
	now func() time.Time
}

// RefreshDecision indicates whether an account requires a fresh fetch.
type RefreshDecision int

const (
	// RefreshRequired means the account must be fetched from the network.
	RefreshRequired RefreshDecision = iota
	// CacheOK means the snapshot is acceptable and no fetch is needed.
	CacheOK
)

// Policy constants define snapshot tolerance for different account types.
const (
	// mediumPriorityStaleness applies to used accounts that are now empty.
	mediumPriorityStaleness = 30 * time.Minute

	// lowPriorityStaleness applies to accounts that never held funds.
	lowPriorityStaleness = 2 * time.Hour
)

// NewRefreshPolicy creates a refresh policy. A nil clock uses time.Now.
func NewRefreshPolicy(now func() time.Time) *RefreshPolicy {
	if now == nil {
		now = time.Now
	}
	return &RefreshPolicy{now: now}
}

// ShouldRefresh applies a tiered strategy:
//   - accounts holding funds or with pending movements are always fetched
//   - used but empty accounts tolerate a 30 minute old snapshot
//   - never used accounts tolerate a 2 hour old snapshot
func (p *RefreshPolicy) ShouldRefresh(snap cache.Snapshot) RefreshDecision {
	hasBalance := isNonZeroBalance(snap.Balance) || isNonZeroBalance(snap.Pending)
	if hasBalance {
		return RefreshRequired
	}

	age := p.now().Sub(snap.UpdatedAt)
	hasActivity := snap.Nonce > 0 || len(snap.UTXOs) > 0
	if hasActivity {
		if age < mediumPriorityStaleness {
			return CacheOK
		}
		return RefreshRequired
	}

	if age < lowPriorityStaleness {
		return CacheOK
	}
	return RefreshRequired
}

// isNonZeroBalance checks if a minor-unit amount string is non-zero.
func isNonZeroBalance(balance string) bool {
	trimmed := strings.TrimLeft(strings.TrimPrefix(balance, "-"), "0")
	return trimmed != ""
}
