package membership

import (
	"sync"
	"time"
)

// Peer is a gossip target. ID is optional; when empty the address
// identifies the peer.
type Peer struct {
	ID   string `json:"id,omitempty"`
	Addr string `json:"addr"`
}

// Name returns the peer's ID, falling back to its address.
func (p Peer) Name() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Addr
}

// PeerStatus represents the last observed reachability of a peer.
type PeerStatus int

const (
	Unknown PeerStatus = iota
	Reachable
	Unreachable
)

// String returns the string representation of PeerStatus.
func (s PeerStatus) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Reachable:
		return "REACHABLE"
	case Unreachable:
		return "UNREACHABLE"
	default:
		return "INVALID"
	}
}

// MarshalText encodes the status by name.
func (s PeerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name produced by MarshalText.
func (s *PeerStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "REACHABLE":
		*s = Reachable
	case "UNREACHABLE":
		*s = Unreachable
	default:
		*s = Unknown
	}
	return nil
}

// PeerState is a point-in-time view of one peer's reachability.
type PeerState struct {
	Peer                Peer       `json:"peer"`
	Status              PeerStatus `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         time.Time  `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

type peerHealth struct {
	status      PeerStatus
	failures    int
	lastSuccess time.Time
	lastErr     string
}

// Table is a node's membership: its own identity plus an immutable, ordered
// peer list.
type Table struct {
	selfID   string
	selfAddr string
	peers    []Peer

	mu     sync.Mutex
	health map[string]*peerHealth // addr -> health
	now    func() time.Time
}

// NewTable builds a table. Peers with an empty address, this node's own
// address or ID, and repeated addresses are dropped; order is preserved.
func NewTable(selfID, selfAddr string, peers []Peer) *Table {
	filtered := filterPeers(selfID, selfAddr, peers)
	health := make(map[string]*peerHealth, len(filtered))
	for _, p := range filtered {
		health[p.Addr] = &peerHealth{}
	}
	return &Table{
		selfID:   selfID,
		selfAddr: selfAddr,
		peers:    filtered,
		health:   health,
		now:      time.Now,
	}
}

func filterPeers(selfID, selfAddr string, peers []Peer) []Peer {
	seen := make(map[string]struct{}, len(peers))
	out := make([]Peer, 0, len(peers))
	for _, peer := range peers {
		if peer.Addr == "" || peer.Addr == selfAddr {
			continue
		}
		if selfID != "" && peer.ID == selfID {
			continue
		}
		if _, ok := seen[peer.Addr]; ok {
			continue
		}
		seen[peer.Addr] = struct{}{}
		out = append(out, peer)
	}
	return out
}

// SelfID returns this node's identifier, the key it increments in clocks.
func (t *Table) SelfID() string {
	return t.selfID
}

// SelfAddr returns this node's listen address.
func (t *Table) SelfAddr() string {
	return t.selfAddr
}

// Peers returns a copy of the peer list in configured order.
func (t *Table) Peers() []Peer {
	return append([]Peer(nil), t.peers...)
}

// Len returns the number of peers.
func (t *Table) Len() int {
	return len(t.peers)
}

// MarkReachable records a successful exchange with addr. It reports whether
// the peer's status changed.
func (t *Table) MarkReachable(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.health[addr]
	if !ok {
		return false
	}
	changed := h.status != Reachable
	h.status = Reachable
	h.failures = 0
	h.lastSuccess = t.now()
	h.lastErr = ""
	return changed
}

// MarkUnreachable records a failed exchange with addr. It reports whether
// the peer's status changed.
func (t *Table) MarkUnreachable(addr string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.health[addr]
	if !ok {
		return false
	}
	changed := h.status != Unreachable
	h.status = Unreachable
	h.failures++
	if err != nil {
		h.lastErr = err.Error()
	}
	return changed
}

// Snapshot returns the reachability of every peer in configured order.
func (t *Table) Snapshot() []PeerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PeerState, 0, len(t.peers))
	for _, p := range t.peers {
		h := t.health[p.Addr]
		out = append(out, PeerState{
			Peer:                p,
			Status:              h.status,
			ConsecutiveFailures: h.failures,
			LastSuccess:         h.lastSuccess,
			LastError:           h.lastErr,
		})
	}
	return out
}
