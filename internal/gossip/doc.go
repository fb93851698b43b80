// Package gossip replicates the store between nodes by periodic push
// gossip. Every interval the engine snapshots the local store and pushes it
// to each configured peer concurrently; a peer merges what it receives key
// by key. Merging is commutative, associative and idempotent, so lost,
// duplicated or reordered messages only delay convergence.
//
// Limitations:
// - The whole store is pushed every round (no digests or Merkle trees)
// - A failed push is not retried; the next round carries the same or newer state
// - No deletes: keys can only be written, never removed
package gossip
