package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"invisible/internal/crypto"
	"invisible/internal/metrics"
)

func memLevelDB(t *testing.T) *DocumentProvider {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	p := FromLevelDB(db)
	t.Cleanup(func() { p.Close() })
	return p
}

func providers(t *testing.T) map[string]Provider {
	return map[string]Provider{
		"memory":  NewMemory(),
		"leveldb": memLevelDB(t),
	}
}

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.FetchUserData(ctx, "alice")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, p.StoreUserData(ctx, "alice", map[uint32]uint32{55555: 3}, map[uint32]uint32{12345: 1}))
			require.NoError(t, p.StorePrivKey(ctx, "alice", crypto.Uint(7), false))
			require.NoError(t, p.StorePrivKey(ctx, "alice", crypto.Uint(7), false))
			require.NoError(t, p.StorePrivKey(ctx, "alice", crypto.Uint(8), false))
			require.NoError(t, p.StorePrivKey(ctx, "alice", crypto.Uint(9), true))
			pfr := crypto.Uint(99)
			require.NoError(t, p.StoreOrderID(ctx, "alice", 1, &pfr, false))
			require.NoError(t, p.StoreOrderID(ctx, "alice", 2, nil, true))

			d, err := p.FetchUserData(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint32(3), d.NoteCounts[55555])
			assert.Equal(t, uint32(1), d.PositionCounts[12345])
			assert.ElementsMatch(t, []string{"7", "8"}, d.NotePrivKeys)
			assert.Equal(t, []string{"9"}, d.PositionPrivKeys)

			keys, err := d.PrivKeys(false)
			require.NoError(t, err)
			assert.Len(t, keys, 2)

			pfrs, err := d.PfrKeys()
			require.NoError(t, err)
			require.Len(t, pfrs, 1)
			got := pfrs[1]
			assert.True(t, got.Equal(&pfr))
			assert.Contains(t, d.PerpOrderIDs, uint64(2))

			require.NoError(t, p.RemovePrivKey(ctx, "alice", crypto.Uint(7), false))
			require.NoError(t, p.RemoveOrderID(ctx, "alice", 1, false))
			d, err = p.FetchUserData(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"8"}, d.NotePrivKeys)
			assert.Empty(t, d.OrderIDs)

			assert.NoError(t, p.Ping(ctx))
		})
	}
}

func TestProviderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewMemory()
	assert.ErrorIs(t, p.StorePrivKey(ctx, "alice", crypto.Uint(1), false), context.Canceled)
}

// flaky fails the first n writes.
type flaky struct {
	Provider
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flaky) StorePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return errors.New("unavailable")
	}
	return f.Provider.StorePrivKey(ctx, userID, key, isPosition)
}

func TestDispatcherAppliesInOrder(t *testing.T) {
	p := NewMemory()
	d := NewDispatcher(p, DispatcherOptions{QueueSize: 4, MaxAttempts: 3, Backoff: time.Millisecond}, nil, nil)
	defer d.Close()

	for i := uint32(0); i < 20; i++ {
		d.StoreUserData("bob", map[uint32]uint32{1: i}, nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))

	data, err := p.FetchUserData(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, uint32(19), data.NoteCounts[1])
	assert.Empty(t, d.Failed())
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	f := &flaky{Provider: NewMemory(), fails: 2}
	m := metrics.NewCollector()
	d := NewDispatcher(f, DispatcherOptions{QueueSize: 4, MaxAttempts: 3, Backoff: time.Millisecond}, nil, m)
	defer d.Close()

	d.StorePrivKey("bob", crypto.Uint(5), false)
	require.NoError(t, d.Flush(context.Background()))

	data, err := f.FetchUserData(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, data.NotePrivKeys)
	assert.Empty(t, d.Failed())
	assert.Equal(t, float64(2), m.Metric(metrics.MetricPersistRetries, map[string]string{"task": "store_priv_key"}).Value)
}

func TestDispatcherDeadLetters(t *testing.T) {
	f := &flaky{Provider: NewMemory(), fails: 100}
	d := NewDispatcher(f, DispatcherOptions{QueueSize: 4, MaxAttempts: 2, Backoff: time.Millisecond}, nil, nil)
	defer d.Close()

	d.StorePrivKey("bob", crypto.Uint(5), false)
	require.NoError(t, d.Flush(context.Background()))

	failed := d.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "store_priv_key", failed[0].Name)
	assert.Equal(t, "bob", failed[0].UserID)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.NotEmpty(t, failed[0].ID)
}

func TestDispatcherAfterClose(t *testing.T) {
	d := NewDispatcher(NewMemory(), DispatcherOptions{}, nil, nil)
	d.Close()
	d.RemoveOrderID("bob", 1, false)
	require.NoError(t, d.Flush(context.Background()))
	assert.Len(t, d.Failed(), 1)
}
