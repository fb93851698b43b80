// Package membership holds the static cluster membership of a node: its own
// identity and the ordered list of peers it gossips with. The list is fixed
// at startup; changing it requires a restart with new configuration.
//
// The table also records whether each peer answered the most recent push.
// That bookkeeping is informational only and never adds or removes peers.
package membership
