// Package balance provides per-account repositories over the refreshable
// cache, and a service that fans reads out across accounts with a persisted
// snapshot fallback.
package balance

import (
	"github.com/mrz1836/coinvault/internal/cache"
	"github.com/mrz1836/coinvault/internal/chain"
)

// detailsFromSnapshot restores details from a persisted snapshot. The result
// is always marked stale.
func detailsFromSnapshot(cur chain.Currency, snap cache.Snapshot) (AccountDetails, error) {
	state, err := snap.State(cur)
	if err != nil {
		return AccountDetails{}, err
	}
	d := DetailsFromState(state)
	d.Stale = true
	return d, nil
}

// snapshotFromDetails captures details for persistence.
func snapshotFromDetails(d AccountDetails) cache.Snapshot {
	return cache.FromState(d.State())
}
