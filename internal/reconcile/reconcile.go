package reconcile

import (
	"errors"
	"fmt"
	"sort"

	"gossipstore/internal/clock"
)

// ErrInvalidEntry is returned by Validate for entries that could not have been
// produced by a put on any node.
var ErrInvalidEntry = errors.New("invalid entry")

// Entry is one version of a key: a value and the vector clock of the write
// that produced it.
type Entry struct {
	Value string            `json:"value"`
	Clock clock.VectorClock `json:"clock"`
}

// Copy returns a deep copy of the entry.
func (e Entry) Copy() Entry {
	return Entry{Value: e.Value, Clock: e.Clock.Copy()}
}

// Validate checks that the entry carries a clock that a put could have
// produced: at least one node, no empty node IDs and no zero counters.
func (e Entry) Validate() error {
	if len(e.Clock) == 0 {
		return fmt.Errorf("%w: empty clock", ErrInvalidEntry)
	}
	for nodeID, counter := range e.Clock {
		if nodeID == "" {
			return fmt.Errorf("%w: empty node id in clock", ErrInvalidEntry)
		}
		if counter == 0 {
			return fmt.Errorf("%w: zero counter for node %q", ErrInvalidEntry, nodeID)
		}
	}
	return nil
}

// Merge computes the sibling set for a key from the local and remote sets.
// Entries dominated by any other entry are discarded, exact duplicates
// (same value, equal clock) are collapsed, and the survivors are returned in
// canonical order. Merge is commutative, associative and idempotent.
func Merge(local, remote []Entry) []Entry {
	all := make([]Entry, 0, len(local)+len(remote))
	all = append(all, local...)
	all = append(all, remote...)
	return maximal(all)
}

// maximal returns the non-dominated, de-duplicated entries of values.
func maximal(values []Entry) []Entry {
	winners := make([]Entry, 0, len(values))

	for i, v1 := range values {
		isDominated := false

		// Check if v1 is dominated by any other version
		for j, v2 := range values {
			if i == j {
				continue
			}
			if v2.Clock.Dominates(v1.Clock) {
				isDominated = true
				break
			}
		}
		if isDominated {
			continue
		}

		isDuplicate := false
		for _, winner := range winners {
			if v1.Value == winner.Value && v1.Clock.Equal(winner.Clock) {
				isDuplicate = true
				break
			}
		}
		if !isDuplicate {
			winners = append(winners, v1.Copy())
		}
	}

	sortEntries(winners)
	return winners
}

// sortEntries orders entries by clock, then value, so equal sets have equal
// slices.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		ci, cj := entries[i].Clock.String(), entries[j].Clock.String()
		if ci != cj {
			return ci < cj
		}
		return entries[i].Value < entries[j].Value
	})
}

// HasConflict returns true if there are multiple siblings.
func HasConflict(entries []Entry) bool {
	return len(entries) > 1
}

// Equal reports whether two sibling sets hold the same entries, regardless
// of order.
func Equal(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		found := false
		for _, y := range b {
			if x.Value == y.Value && x.Clock.Equal(y.Clock) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CopyAll deep-copies a sibling set.
func CopyAll(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Copy()
	}
	return out
}
