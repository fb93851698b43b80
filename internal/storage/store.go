package storage

import (
	"sync"

	"gossipstore/internal/clock"
	"gossipstore/internal/reconcile"
)

// Store defines the interface for key-value storage.
type Store interface {
	// Put writes value under key on behalf of nodeID. The new clock is the
	// merge of every sibling's clock with nodeID's counter incremented, so
	// the write supersedes all siblings. Returns the stored entry.
	Put(key, value, nodeID string) reconcile.Entry
	// Get returns the sibling set for key, or an empty set if absent.
	Get(key string) []reconcile.Entry
	// Snapshot returns a deep copy of the whole mapping.
	Snapshot() map[string][]reconcile.Entry
	// MergeIncoming reconciles incoming entries for key with the local
	// siblings and returns the resulting set.
	MergeIncoming(key string, incoming []reconcile.Entry) []reconcile.Entry
	// Len returns the number of keys.
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
// A single mutex covers the whole mapping; every operation is bounded by the
// number of siblings at one key.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string][]reconcile.Entry
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string][]reconcile.Entry),
	}
}

// Put stores value under key, superseding any siblings.
func (s *InMemoryStore) Put(key, value, nodeID string) reconcile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := causalContext(s.data[key])
	e := reconcile.Entry{
		Value: value,
		Clock: merged.Increment(nodeID),
	}
	s.data[key] = []reconcile.Entry{e}

	return e.Copy()
}

// Get returns a copy of the sibling set for key.
func (s *InMemoryStore) Get(key string) []reconcile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return reconcile.CopyAll(s.data[key])
}

// Snapshot returns a deep copy of every key's sibling set, safe to read
// after the lock is released.
func (s *InMemoryStore) Snapshot() map[string][]reconcile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]reconcile.Entry, len(s.data))
	for key, entries := range s.data {
		out[key] = reconcile.CopyAll(entries)
	}
	return out
}

// MergeIncoming replaces key's siblings with their reconciliation against
// incoming.
func (s *InMemoryStore) MergeIncoming(key string, incoming []reconcile.Entry) []reconcile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := reconcile.Merge(s.data[key], incoming)
	if len(merged) == 0 {
		return nil
	}
	s.data[key] = merged

	return reconcile.CopyAll(merged)
}

// Len returns the number of keys held.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.data)
}

// causalContext returns the merge of every sibling's clock, which a local
// write must dominate.
func causalContext(siblings []reconcile.Entry) clock.VectorClock {
	merged := clock.New()
	for _, e := range siblings {
		merged = merged.Merge(e.Clock)
	}
	return merged
}
