// Package it runs whole clusters in-process on loopback listeners.
package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gossipstore/internal/config"
	"gossipstore/internal/gossip"
	"gossipstore/internal/membership"
	"gossipstore/internal/node"
	"gossipstore/internal/rpc"
)

// Cluster represents a test cluster of nodes
type Cluster struct {
	t         testing.TB
	transport string
	interval  time.Duration
	clients   *rpc.ClientManager

	mu    sync.Mutex
	nodes []*Node
}

// Node represents a single node in the test cluster
type Node struct {
	ID       string
	GRPCAddr string
	HTTPAddr string

	cfg  config.Config
	node *node.Node
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithTransport selects the gossip transport.
func WithTransport(transport string) Option {
	return func(c *Cluster) { c.transport = transport }
}

// WithInterval turns on the background push loop. Without it rounds only
// run through GossipRound.
func WithInterval(d time.Duration) Option {
	return func(c *Cluster) { c.interval = d }
}

// NewCluster creates a new test cluster harness. Everything it starts is
// stopped when the test ends.
func NewCluster(t testing.TB, opts ...Option) *Cluster {
	c := &Cluster{
		t:         t,
		transport: config.TransportGRPC,
		interval:  time.Hour,
		clients:   rpc.NewClientManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	t.Cleanup(c.Stop)
	return c
}

// StartCluster starts size fully meshed nodes named n1..nN.
func (c *Cluster) StartCluster(ctx context.Context, size int) error {
	type listeners struct{ grpc, http net.Listener }

	lis := make([]listeners, size)
	for i := range lis {
		g, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		h, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			g.Close()
			return fmt.Errorf("failed to listen: %w", err)
		}
		lis[i] = listeners{grpc: g, http: h}
	}

	cfgs := make([]config.Config, size)
	for i := range cfgs {
		cfg := config.Default()
		cfg.NodeID = fmt.Sprintf("n%d", i+1)
		cfg.ListenAddr = lis[i].grpc.Addr().String()
		cfg.HTTPAddr = lis[i].http.Addr().String()
		cfg.Transport = c.transport
		cfg.GossipInterval = c.interval
		cfg.PushTimeout = time.Second
		if cfg.PushTimeout > c.interval {
			cfg.PushTimeout = c.interval
		}
		cfgs[i] = cfg
	}
	for i := range cfgs {
		for j, other := range cfgs {
			if i != j {
				cfgs[i].Peers = append(cfgs[i].Peers, membership.Peer{ID: other.NodeID, Addr: other.GossipAddr()})
			}
		}
	}

	for i, cfg := range cfgs {
		n := &Node{ID: cfg.NodeID, GRPCAddr: cfg.ListenAddr, HTTPAddr: cfg.HTTPAddr, cfg: cfg}
		if err := c.serve(ctx, n, lis[i].grpc, lis[i].http); err != nil {
			for _, l := range lis[i:] {
				l.grpc.Close()
				l.http.Close()
			}
			return fmt.Errorf("failed to start node %s: %w", cfg.NodeID, err)
		}
		c.mu.Lock()
		c.nodes = append(c.nodes, n)
		c.mu.Unlock()
	}

	for _, n := range c.Nodes() {
		if err := c.waitForReady(ctx, n, 5*time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cluster) serve(ctx context.Context, n *Node, grpcLis, httpLis net.Listener) error {
	nd, err := node.New(n.cfg, zaptest.NewLogger(c.t).Named(n.ID))
	if err != nil {
		return err
	}
	if err := nd.Serve(ctx, grpcLis, httpLis); err != nil {
		return err
	}
	n.node = nd
	return nil
}

// waitForReady waits for a node to be ready by checking the health service
func (c *Cluster) waitForReady(ctx context.Context, n *Node, timeout time.Duration) error {
	conn, err := c.clients.Conn(n.GRPCAddr)
	if err != nil {
		return err
	}
	client := healthpb.NewHealthClient(conn)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		healthCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := client.Check(healthCtx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready: %v", n.ID, err)
			}
		}
	}
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()

	for _, n := range nodes {
		if n.node != nil {
			n.node.Stop()
		}
	}
	_ = c.clients.Close()
}

// Nodes returns the cluster's nodes in start order.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.nodes...)
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// Client returns a gRPC client manager for talking to any node.
func (c *Cluster) Client() *rpc.ClientManager {
	return c.clients
}

// KillNode stops a node. Its addresses stay in every peer list, so pushes to
// it fail until it is restarted.
func (c *Cluster) KillNode(nodeID string) error {
	n := c.GetNode(nodeID)
	if n == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if n.node == nil {
		return fmt.Errorf("node %s is not running", nodeID)
	}
	n.node.Stop()
	n.node = nil
	return nil
}

// RestartNode starts a killed node again on the same addresses with an empty
// store.
func (c *Cluster) RestartNode(ctx context.Context, nodeID string) error {
	n := c.GetNode(nodeID)
	if n == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if n.node != nil {
		return fmt.Errorf("node %s is already running", nodeID)
	}

	grpcLis, err := net.Listen("tcp", n.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", n.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", n.HTTPAddr, err)
	}
	if err := c.serve(ctx, n, grpcLis, httpLis); err != nil {
		grpcLis.Close()
		httpLis.Close()
		return fmt.Errorf("failed to restart node %s: %w", nodeID, err)
	}
	return c.waitForReady(ctx, n, 5*time.Second)
}

// GossipRound runs one push round on every live node, in start order, and
// returns the results keyed by node id.
func (c *Cluster) GossipRound(ctx context.Context) map[string]gossip.RoundResult {
	results := make(map[string]gossip.RoundResult)
	for _, n := range c.Nodes() {
		if n.node != nil {
			results[n.ID] = n.node.GossipNow(ctx)
		}
	}
	return results
}

// Running reports whether the node is serving.
func (n *Node) Running() bool {
	return n.node != nil
}

// Node returns the underlying node, or nil if it was killed.
func (n *Node) Node() *node.Node {
	return n.node
}
