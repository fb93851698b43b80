// Package storage provides the local key-value storage interface and
// in-memory implementation. Every key maps to a set of sibling entries, each
// versioned by a vector clock; the set has one element unless concurrent
// writes from different nodes have not yet been resolved.
package storage
