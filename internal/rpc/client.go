package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"gossipstore/internal/api"
	"gossipstore/internal/gossip"
)

// ClientManager manages gRPC connections to peer nodes. It implements
// gossip.Transport.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

var _ gossip.Transport = (*ClientManager)(nil)

// NewClientManager creates a new client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// GetClient returns a KV client for the given node address.
// Creates a new connection if one doesn't exist. Connections are
// established lazily, so an unreachable peer fails the first call rather
// than this one.
func (cm *ClientManager) GetClient(addr string) (*KVClient, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return NewKVClient(conn), nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return NewKVClient(conn), nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	cm.conns[addr] = conn
	return NewKVClient(conn), nil
}

// Conn returns the cached connection for addr, creating it if needed.
func (cm *ClientManager) Conn(addr string) (*grpc.ClientConn, error) {
	if _, err := cm.GetClient(addr); err != nil {
		return nil, err
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conns[addr], nil
}

// Push sends a gossip message to the node at addr.
func (cm *ClientManager) Push(ctx context.Context, addr string, msg *gossip.Message) error {
	client, err := cm.GetClient(addr)
	if err != nil {
		return err
	}
	if _, err := client.Gossip(ctx, msg); err != nil {
		return fmt.Errorf("gossip to %s: %w", addr, err)
	}
	return nil
}

// Put writes key on the node at addr.
func (cm *ClientManager) Put(ctx context.Context, addr, key, value string) (*api.PutResponse, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return nil, err
	}
	return client.Put(ctx, &api.PutRequest{Key: key, Value: value})
}

// Get reads key from the node at addr.
func (cm *ClientManager) Get(ctx context.Context, addr, key string) (*api.GetResponse, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, &api.GetRequest{Key: key})
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}
