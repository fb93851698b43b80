// Package reconcile resolves the entries held for a single key. It keeps
// the maximal set of versions: an entry survives unless another entry's
// clock dominates it, so writes that are causally concurrent are kept side by
// side as siblings instead of one silently replacing the other.
package reconcile
