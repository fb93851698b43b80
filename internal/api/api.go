// Package api defines the request and response types shared by the gRPC and
// HTTP front ends, and the Service both of them serve.
package api

import (
	"errors"
	"time"

	"gossipstore/internal/gossip"
	"gossipstore/internal/membership"
	"gossipstore/internal/reconcile"
)

// ErrEmptyKey is returned for operations that name no key.
var ErrEmptyKey = errors.New("key cannot be empty")

// Service is the node as seen by a transport.
type Service interface {
	NodeID() string
	// Put writes value under key on this node.
	Put(key, value string) (reconcile.Entry, error)
	// Get returns every sibling held for key; empty if the key is unknown.
	Get(key string) ([]reconcile.Entry, error)
	// Gossip merges a peer's pushed snapshot.
	Gossip(msg *gossip.Message) (gossip.MergeReport, error)
	Status() StatusResponse
}

// PutRequest writes a value.
type PutRequest struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	RequestID string `json:"request_id,omitempty"`
}

// PutResponse returns the stored entry and the node that stored it.
type PutResponse struct {
	NodeID string          `json:"node_id"`
	Entry  reconcile.Entry `json:"entry"`
}

// GetRequest reads a key.
type GetRequest struct {
	Key       string `json:"key"`
	RequestID string `json:"request_id,omitempty"`
}

// GetResponse carries every sibling for the key. More than one entry means
// concurrent writes the client should resolve with a new put.
type GetResponse struct {
	NodeID  string            `json:"node_id"`
	Key     string            `json:"key"`
	Entries []reconcile.Entry `json:"entries"`
}

// GossipResponse reports how a pushed message was applied.
type GossipResponse struct {
	Merged   int               `json:"merged"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// StatusRequest asks for node status.
type StatusRequest struct{}

// StatusResponse describes a node for operators.
type StatusResponse struct {
	NodeID    string                 `json:"node_id"`
	Addr      string                 `json:"addr"`
	Transport string                 `json:"transport"`
	Keys      int                    `json:"keys"`
	StartedAt time.Time              `json:"started_at"`
	Interval  string                 `json:"gossip_interval"`
	Peers     []membership.PeerState `json:"peers"`
	Gossip    gossip.Stats           `json:"gossip"`
}
