package secretcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpath/foreman/pkg/types"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func envelope(counter int64, keyVersion int) types.Envelope {
	return types.Envelope{
		EncryptedPayload: "Y2lwaGVydGV4dA==",
		WrappedDEK:       "d3JhcHBlZA==",
		Nonce:            "bm9uY2UxMjM0NTY=",
		AAD: types.AAD{
			SchemaVersion: 1,
			KeyVersion:    keyVersion,
			CreatedAt:     "2025-01-01T00:00:00Z",
		},
		Counter:       counter,
		SchemaVersion: 1,
		KeyVersion:    keyVersion,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(1))

	require.NoError(t, c.Put("miner-1", envelope(3, 1)))

	entry, err := c.Get("miner-1")
	require.NoError(t, err)
	assert.Equal(t, "miner-1", entry.MinerID)
	assert.Equal(t, int64(3), entry.Counter)
	assert.Equal(t, 1, entry.KeyVersion)
	assert.False(t, entry.StoredAt.IsZero())
}

func TestCounterAntiRollback(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(1))
	require.NoError(t, c.Put("miner-1", envelope(3, 1)))

	// counter 2 after 3 is a rollback
	err := c.Put("miner-1", envelope(2, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCounterRegression)

	// equal counter is a replay
	err = c.Put("miner-1", envelope(3, 1))
	assert.ErrorIs(t, err, ErrCounterRegression)

	// counter 4 advances
	require.NoError(t, c.Put("miner-1", envelope(4, 1)))
	entry, err := c.Get("miner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), entry.Counter)
}

func TestCountersIndependentPerMiner(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(1))
	require.NoError(t, c.Put("miner-1", envelope(10, 1)))
	require.NoError(t, c.Put("miner-2", envelope(1, 1)))

	entry, err := c.Get("miner-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Counter)
}

func TestKeyVersionMismatchRejected(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(2))

	err := c.Put("miner-1", envelope(1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyVersionMismatch)

	require.NoError(t, c.Put("miner-1", envelope(1, 2)))
}

func TestKeyRotationDropsEntries(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(1))
	require.NoError(t, c.Put("miner-1", envelope(5, 1)))
	require.NoError(t, c.Put("miner-2", envelope(7, 1)))

	require.NoError(t, c.SetKeyVersion(2))

	_, err := c.Get("miner-1")
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// counter restarts clean after rotation
	require.NoError(t, c.Put("miner-1", envelope(1, 2)))
}

func TestKeyVersionCannotLower(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(3))
	err := c.SetKeyVersion(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyVersionMismatch)
}

func TestMaxCounterAndSinceCounter(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(1))

	max, err := c.MaxCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	require.NoError(t, c.Put("miner-1", envelope(3, 1)))
	require.NoError(t, c.Put("miner-2", envelope(8, 1)))
	require.NoError(t, c.Put("miner-3", envelope(5, 1)))

	max, err = c.MaxCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(8), max)

	newer, err := c.SinceCounter(4)
	require.NoError(t, err)
	require.Len(t, newer, 2)
	seen := map[string]bool{}
	for _, e := range newer {
		seen[e.MinerID] = true
	}
	assert.True(t, seen["miner-2"])
	assert.True(t, seen["miner-3"])
}

func TestDeleteAndMissing(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.SetKeyVersion(1))
	require.NoError(t, c.Put("miner-1", envelope(1, 1)))

	require.NoError(t, c.Delete("miner-1"))
	_, err := c.Get("miner-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting a missing entry is fine
	require.NoError(t, c.Delete("miner-9"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.SetKeyVersion(1))
	require.NoError(t, c.Put("miner-1", envelope(6, 1)))
	require.NoError(t, c.Close())

	c, err = Open(dir)
	require.NoError(t, err)
	defer c.Close()

	version, err := c.KeyVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	entry, err := c.Get("miner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.Counter)

	err = c.Put("miner-1", envelope(6, 1))
	assert.ErrorIs(t, err, ErrCounterRegression)
}
