package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipstore/internal/clock"
	"gossipstore/internal/reconcile"
)

func TestInMemoryStore_GetPut(t *testing.T) {
	store := NewInMemoryStore()

	e := store.Put("key1", "value1", "node1")
	assert.Equal(t, "value1", e.Value)
	assert.Equal(t, clock.VectorClock{"node1": 1}, e.Clock)

	got := store.Get("key1")
	require.Len(t, got, 1)
	assert.Equal(t, "value1", got[0].Value)
	assert.Equal(t, uint64(1), got[0].Clock.Get("node1"))
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := NewInMemoryStore()
	assert.Empty(t, store.Get("nonexistent"))
}

func TestInMemoryStore_PutIncrementsOwnCounter(t *testing.T) {
	store := NewInMemoryStore()

	store.Put("key1", "v1", "node1")
	e := store.Put("key1", "v2", "node1")

	assert.Equal(t, clock.VectorClock{"node1": 2}, e.Clock)
	assert.Equal(t, []reconcile.Entry{e}, store.Get("key1"))
}

func TestInMemoryStore_PutSupersedesSiblings(t *testing.T) {
	store := NewInMemoryStore()

	store.MergeIncoming("x", []reconcile.Entry{
		{Value: "a", Clock: clock.VectorClock{"N1": 1}},
		{Value: "b", Clock: clock.VectorClock{"N2": 1}},
	})
	require.Len(t, store.Get("x"), 2)

	e := store.Put("x", "c", "N1")

	assert.Equal(t, clock.VectorClock{"N1": 2, "N2": 1}, e.Clock)
	assert.Equal(t, []reconcile.Entry{e}, store.Get("x"))
}

func TestInMemoryStore_MergeIncoming(t *testing.T) {
	store := NewInMemoryStore()
	local := store.Put("k", "local", "n1")

	concurrent := reconcile.Entry{Value: "remote", Clock: clock.VectorClock{"n2": 1}}
	got := store.MergeIncoming("k", []reconcile.Entry{concurrent})
	assert.True(t, reconcile.Equal(got, []reconcile.Entry{local, concurrent}))

	newer := reconcile.Entry{Value: "newer", Clock: clock.VectorClock{"n1": 1, "n2": 2}}
	got = store.MergeIncoming("k", []reconcile.Entry{newer})
	assert.Equal(t, []reconcile.Entry{newer}, got)
	assert.Equal(t, []reconcile.Entry{newer}, store.Get("k"))
}

func TestInMemoryStore_MergeIncomingStaleIgnored(t *testing.T) {
	store := NewInMemoryStore()
	store.Put("k", "v1", "n1")
	current := store.Put("k", "v2", "n1")

	store.MergeIncoming("k", []reconcile.Entry{{Value: "v1", Clock: clock.VectorClock{"n1": 1}}})

	assert.Equal(t, []reconcile.Entry{current}, store.Get("k"))
}

func TestInMemoryStore_MergeIncomingEmptyLeavesKeyAbsent(t *testing.T) {
	store := NewInMemoryStore()
	assert.Nil(t, store.MergeIncoming("k", nil))
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryStore_SnapshotIsDeepCopy(t *testing.T) {
	store := NewInMemoryStore()
	store.Put("a", "1", "n1")
	store.Put("b", "2", "n1")

	snap := store.Snapshot()
	require.Len(t, snap, 2)

	snap["a"][0].Clock["n1"] = 100
	snap["a"][0].Value = "mutated"
	delete(snap, "b")

	got := store.Get("a")
	assert.Equal(t, "1", got[0].Value)
	assert.Equal(t, uint64(1), got[0].Clock.Get("n1"))
	assert.Equal(t, 2, store.Len())
}

func TestInMemoryStore_ReturnedEntriesAreCopies(t *testing.T) {
	store := NewInMemoryStore()
	e := store.Put("k", "v", "n1")
	e.Clock["n1"] = 50

	got := store.Get("k")
	got[0].Clock["n1"] = 60

	assert.Equal(t, uint64(1), store.Get("k")[0].Clock.Get("n1"))
}

func TestInMemoryStore_ConcurrentPutsSerialize(t *testing.T) {
	store := NewInMemoryStore()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Put("k", fmt.Sprintf("v%d", i), "n1")
			_ = store.Snapshot()
		}(i)
	}
	wg.Wait()

	got := store.Get("k")
	require.Len(t, got, 1)
	assert.Equal(t, uint64(writers), got[0].Clock.Get("n1"))
}
