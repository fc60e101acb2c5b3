package eth

import (
	"strings"
	"sync"
)

// NonceManager tracks the highest assigned nonce per address so that
// candidates built in quick succession do not collide before the first one
// is visible in the node's pending pool.
type NonceManager struct {
	mu     sync.Mutex
	nonces map[string]uint64 // lower-case address -> next nonce (one past the highest assigned)
}

// NewNonceManager creates a new NonceManager.
func NewNonceManager() *NonceManager {
	return &NonceManager{
		nonces: make(map[string]uint64),
	}
}

// Next returns the next nonce to use for the given address.
// It takes the RPC-reported pending nonce and returns the higher of
// the RPC nonce and the locally tracked nonce. The local nonce is
// then incremented for the next call.
func (nm *NonceManager) Next(address string, rpcNonce uint64) uint64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := strings.ToLower(address)
	local, exists := nm.nonces[key]

	// If RPC nonce is higher, the network has caught up or advanced past
	// our local tracking (e.g., transaction sent from another client).
	nonce := rpcNonce
	if exists && local > rpcNonce {
		nonce = local
	}

	nm.nonces[key] = nonce + 1

	return nonce
}

// Release gives back nonce if it is the most recently assigned one for the
// address. Releasing an older nonce is a no-op since a later candidate
// already depends on it.
func (nm *NonceManager) Release(address string, nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := strings.ToLower(address)
	if local, ok := nm.nonces[key]; ok && local == nonce+1 {
		nm.nonces[key] = nonce
	}
}

// Pending returns the next locally tracked nonce, if any.
func (nm *NonceManager) Pending(address string) (uint64, bool) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	n, ok := nm.nonces[strings.ToLower(address)]
	return n, ok
}

// Reset clears the local nonce tracking for an address.
// Used after the node rejects a nonce, when local state is known to be stale.
func (nm *NonceManager) Reset(address string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.nonces, strings.ToLower(address))
}
