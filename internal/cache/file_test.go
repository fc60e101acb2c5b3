package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
)

func TestFileStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "details.json")
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())
	assert.Zero(t, store.Size())

	t.Run("put and reopen", func(t *testing.T) {
		require.NoError(t, store.Put(t.Context(), Snapshot{
			Currency: chain.ETH.Key(),
			Address:  "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
			Balance:  "1500000000000000000",
			Nonce:    7,
		}))
		require.NoError(t, store.Put(t.Context(), Snapshot{
			Currency: chain.BTC.Key(),
			Address:  "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
			Balance:  "50000000",
			UTXOs:    []chain.UTXO{{TxID: "aa", Vout: 1, Amount: 50_000_000}},
		}))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(cacheFilePermissions), info.Mode().Perm())

		reopened, err := OpenFileStore(path)
		require.NoError(t, err)
		assert.Equal(t, 2, reopened.Size())

		snap, ok, err := reopened.Get(t.Context(), chain.BTC, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "50000000", snap.Balance)
		require.Len(t, snap.UTXOs, 1)
		assert.Equal(t, "aa:1", snap.UTXOs[0].Key())
		assert.False(t, snap.UpdatedAt.IsZero())
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(t.Context(), chain.ETH, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"))

		reopened, err := OpenFileStore(path)
		require.NoError(t, err)
		_, ok, err := reopened.Get(t.Context(), chain.ETH, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestOpenFileStore_Corrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "details.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := OpenFileStore(path)
	require.ErrorIs(t, err, ErrCorruptCache)
	require.NotNil(t, store, "a corrupt file still yields a usable store")
	assert.Zero(t, store.Size())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt file is moved aside")

	matches, globErr := filepath.Glob(filepath.Join(dir, "details.json.corrupt.*"))
	require.NoError(t, globErr)
	assert.Len(t, matches, 1)

	require.NoError(t, store.Put(t.Context(), Snapshot{Currency: chain.XLM.Key(), Address: "G1", Balance: "1"}))
}

func TestFileStore_Prune(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "details.json")
	store, err := OpenFileStore(path)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Put(t.Context(), Snapshot{Currency: "btc", Address: "old", Balance: "1", UpdatedAt: old}))
	require.NoError(t, store.Put(t.Context(), Snapshot{Currency: "btc", Address: "new", Balance: "1"}))

	removed, err := store.Prune(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = store.Prune(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Size())
}
