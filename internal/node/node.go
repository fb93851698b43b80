// Package node wires a store, a membership table and a gossip engine
// behind the gRPC and HTTP front ends.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"gossipstore/internal/api"
	"gossipstore/internal/config"
	"gossipstore/internal/gossip"
	"gossipstore/internal/httpapi"
	"gossipstore/internal/membership"
	"gossipstore/internal/reconcile"
	"gossipstore/internal/rpc"
	"gossipstore/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// gossipTransport is a gossip.Transport that holds connections.
type gossipTransport interface {
	gossip.Transport
	io.Closer
}

// Node represents a single node in the cluster.
type Node struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.InMemoryStore
	table     *membership.Table
	engine    *gossip.Engine
	transport gossipTransport
	startedAt time.Time

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server

	mu       sync.Mutex
	running  bool
	stopped  bool
	grpcAddr string
	httpAddr string
	serveWG  sync.WaitGroup
}

var _ api.Service = (*Node)(nil)

// New builds a node from a validated configuration. Nothing listens until
// Start or Serve is called.
func New(cfg config.Config, logger *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var transport gossipTransport
	switch cfg.Transport {
	case config.TransportHTTP:
		transport = httpapi.NewClient(cfg.GossipInterval)
	default:
		transport = rpc.NewClientManager()
	}

	store := storage.NewInMemoryStore()
	table := membership.NewTable(cfg.NodeID, cfg.GossipAddr(), cfg.Peers)
	engine := gossip.NewEngine(store, table, transport, gossip.Options{
		Interval:    cfg.GossipInterval,
		PushTimeout: cfg.PushTimeout,
		Logger:      logger,
	})

	n := &Node{
		cfg:       cfg,
		logger:    logger.Named("node").With(zap.String("node", cfg.NodeID)),
		store:     store,
		table:     table,
		engine:    engine,
		transport: transport,
		health:    health.NewServer(),
	}

	n.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor(logger)))
	rpc.RegisterKVServer(n.grpcServer, rpc.NewServer(n, logger))
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	if cfg.HTTPAddr != "" {
		n.httpServer = &http.Server{
			Handler:           httpapi.Handler(n, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return n, nil
}

// Start listens on the configured addresses and begins serving and
// gossiping. It returns once the listeners are open.
func (n *Node) Start(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}

	var httpLis net.Listener
	if n.httpServer != nil {
		httpLis, err = net.Listen("tcp", n.cfg.HTTPAddr)
		if err != nil {
			grpcLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", n.cfg.HTTPAddr, err)
		}
	}

	if err := n.Serve(ctx, grpcLis, httpLis); err != nil {
		grpcLis.Close()
		if httpLis != nil {
			httpLis.Close()
		}
		return err
	}
	return nil
}

// Serve runs the node on already open listeners. httpLis may be nil when
// HTTP is disabled. The gossip loop stops when ctx is cancelled or Stop is
// called.
func (n *Node) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running || n.stopped {
		return errors.New("node already started or stopped")
	}
	if n.httpServer != nil && httpLis == nil {
		return errors.New("http address configured but no listener given")
	}
	n.running = true
	n.startedAt = time.Now().UTC()
	n.grpcAddr = grpcLis.Addr().String()

	n.serveWG.Add(1)
	go func() {
		defer n.serveWG.Done()
		if err := n.grpcServer.Serve(grpcLis); err != nil {
			n.logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	if n.httpServer != nil {
		n.httpAddr = httpLis.Addr().String()
		n.serveWG.Add(1)
		go func() {
			defer n.serveWG.Done()
			if err := n.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	n.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	n.engine.Start(ctx)

	n.logger.Info("node started",
		zap.String("grpc", n.grpcAddr),
		zap.String("http", n.httpAddr),
		zap.String("transport", n.cfg.Transport),
		zap.Int("peers", n.table.Len()),
		zap.Duration("interval", n.engine.Interval()))
	return nil
}

// Stop stops gossiping, drains both servers and closes peer connections.
// It is safe to call more than once.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	running := n.running
	n.mu.Unlock()

	n.logger.Info("stopping node")
	n.engine.Stop()
	n.health.Shutdown()

	if running {
		if n.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := n.httpServer.Shutdown(ctx); err != nil {
				n.logger.Warn("http shutdown", zap.Error(err))
			}
			cancel()
		}
		n.grpcServer.GracefulStop()
		n.serveWG.Wait()
	}

	if err := n.transport.Close(); err != nil {
		n.logger.Warn("close peer connections", zap.Error(err))
	}
}

// GossipNow runs one push round immediately, outside the ticker.
func (n *Node) GossipNow(ctx context.Context) gossip.RoundResult {
	return n.engine.PushRound(ctx)
}

// GRPCAddr returns the bound gRPC address, or "" before Serve.
func (n *Node) GRPCAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.grpcAddr
}

// HTTPAddr returns the bound HTTP address, or "" if HTTP is not served.
func (n *Node) HTTPAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.httpAddr
}

// NodeID returns the node's id.
func (n *Node) NodeID() string {
	return n.cfg.NodeID
}

// Put writes value under key, superseding every sibling this node holds.
func (n *Node) Put(key, value string) (reconcile.Entry, error) {
	if key == "" {
		return reconcile.Entry{}, api.ErrEmptyKey
	}
	entry := n.store.Put(key, value, n.cfg.NodeID)
	n.logger.Debug("put", zap.String("key", key), zap.Stringer("clock", entry.Clock))
	return entry, nil
}

// Get returns the siblings for key.
func (n *Node) Get(key string) ([]reconcile.Entry, error) {
	if key == "" {
		return nil, api.ErrEmptyKey
	}
	return n.store.Get(key), nil
}

// Gossip merges a message pushed by a peer.
func (n *Node) Gossip(msg *gossip.Message) (gossip.MergeReport, error) {
	return n.engine.Receive(msg)
}

// Status reports the node's identity, key count and peer reachability.
func (n *Node) Status() api.StatusResponse {
	n.mu.Lock()
	startedAt := n.startedAt
	n.mu.Unlock()

	return api.StatusResponse{
		NodeID:    n.cfg.NodeID,
		Addr:      n.table.SelfAddr(),
		Transport: n.cfg.Transport,
		Keys:      n.store.Len(),
		StartedAt: startedAt,
		Interval:  n.engine.Interval().String(),
		Peers:     n.table.Snapshot(),
		Gossip:    n.engine.Stats(),
	}
}
