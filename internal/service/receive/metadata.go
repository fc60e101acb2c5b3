package receive

import (
	"context"

	"github.com/mrz1836/coinvault/internal/cache"
	"github.com/mrz1836/coinvault/internal/chain"
)

// ActivityProvider reports whether an address was ever used.
type ActivityProvider interface {
	HasActivity(ctx context.Context, cur chain.Currency, address string) (bool, error)
}

// SnapshotActivity derives activity from persisted account snapshots: an
// address with a balance, a nonce or outputs has been used.
type SnapshotActivity struct {
	store cache.Store
}

// NewSnapshotActivity creates an activity provider over a snapshot store.
func NewSnapshotActivity(store cache.Store) *SnapshotActivity {
	return &SnapshotActivity{store: store}
}

// HasActivity implements ActivityProvider.
func (a *SnapshotActivity) HasActivity(ctx context.Context, cur chain.Currency, address string) (bool, error) {
	if a.store == nil {
		return false, nil
	}
	snap, ok, err := a.store.Get(ctx, cur, address)
	if err != nil || !ok {
		return false, err
	}
	used := snap.Nonce > 0 || len(snap.UTXOs) > 0 ||
		(snap.Balance != "" && snap.Balance != "0") || snap.Pending != ""
	return used, nil
}
