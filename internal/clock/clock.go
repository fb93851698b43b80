package clock

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock maps a node ID to the number of writes that node has
// contributed to a value's history. A missing node ID reads as zero.
type VectorClock map[string]uint64

// New creates a new empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Increment returns a copy of the clock with nodeID's counter raised by one.
func (vc VectorClock) Increment(nodeID string) VectorClock {
	next := vc.Copy()
	next[nodeID]++
	return next
}

// Get returns the counter value for the given node ID, or 0 if not present.
func (vc VectorClock) Get(nodeID string) uint64 {
	return vc[nodeID]
}

// Merge returns a new clock holding, for every node ID in either clock, the
// larger of the two counters.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	merged := vc.Copy()
	for nodeID, counter := range other {
		if merged[nodeID] < counter {
			merged[nodeID] = counter
		}
	}
	return merged
}

// Copy creates a deep copy of the vector clock.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// CompareResult represents the result of comparing two vector clocks.
type CompareResult int

const (
	// Before indicates this clock happened before the other.
	Before CompareResult = iota
	// After indicates this clock happened after the other.
	After
	// Concurrent indicates the clocks are concurrent (no causal relationship).
	Concurrent
	// Equal indicates the clocks are equal.
	Equal
)

// String returns the name of the comparison result.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "Before"
	case After:
		return "After"
	case Concurrent:
		return "Concurrent"
	case Equal:
		return "Equal"
	default:
		return fmt.Sprintf("CompareResult(%d)", int(r))
	}
}

// Compare compares two vector clocks pointwise over the union of their node
// IDs and returns their relationship:
//   - Equal: all counters are equal
//   - Before: all counters <=, at least one <
//   - After: all counters >=, at least one >
//   - Concurrent: some counters are greater, some are less
func (vc VectorClock) Compare(other VectorClock) CompareResult {
	var thisLess, thisGreater bool
	for nodeID, thisVal := range vc {
		otherVal := other[nodeID]
		if thisVal < otherVal {
			thisLess = true
		} else if thisVal > otherVal {
			thisGreater = true
		}
	}
	for nodeID, otherVal := range other {
		if _, seen := vc[nodeID]; seen {
			continue
		}
		if otherVal > 0 {
			thisLess = true
		}
	}

	switch {
	case thisLess && thisGreater:
		return Concurrent
	case thisLess:
		return Before
	case thisGreater:
		return After
	default:
		return Equal
	}
}

// Equal reports whether both clocks hold the same counters, treating a
// missing node ID as zero.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.Compare(other) == Equal
}

// Dominates returns true if this clock dominates (happened after) the other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == After
}

// IsConcurrent returns true if this clock is concurrent with the other.
func (vc VectorClock) IsConcurrent(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Nodes returns the node IDs present in the clock in sorted order.
func (vc VectorClock) Nodes() []string {
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns a string representation of the vector clock.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}

	parts := make([]string, 0, len(vc))
	for _, k := range vc.Nodes() {
		parts = append(parts, fmt.Sprintf("%s:%d", k, vc[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
