package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"gossipstore/internal/api"
	"gossipstore/internal/clock"
	"gossipstore/internal/gossip"
	"gossipstore/internal/membership"
	"gossipstore/internal/reconcile"
	"gossipstore/internal/storage"
)

// fakeService backs the server with a bare store and a peerless engine.
type fakeService struct {
	store  *storage.InMemoryStore
	engine *gossip.Engine

	mu       sync.Mutex
	received []*gossip.Message
	reports  []gossip.MergeReport
}

func (f *fakeService) NodeID() string { return "n1" }

func (f *fakeService) Put(key, value string) (reconcile.Entry, error) {
	if key == "" {
		return reconcile.Entry{}, api.ErrEmptyKey
	}
	return f.store.Put(key, value, "n1"), nil
}

func (f *fakeService) Get(key string) ([]reconcile.Entry, error) {
	if key == "" {
		return nil, api.ErrEmptyKey
	}
	return f.store.Get(key), nil
}

func (f *fakeService) Gossip(msg *gossip.Message) (gossip.MergeReport, error) {
	report, err := f.engine.Receive(msg)
	if err != nil {
		return report, err
	}
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.reports = append(f.reports, report)
	f.mu.Unlock()
	return report, nil
}

func (f *fakeService) Status() api.StatusResponse {
	return api.StatusResponse{NodeID: "n1", Keys: f.store.Len()}
}

func startServer(t *testing.T) (*fakeService, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	store := storage.NewInMemoryStore()
	table := membership.NewTable("n1", lis.Addr().String(), nil)
	svc := &fakeService{
		store:  store,
		engine: gossip.NewEngine(store, table, nil, gossip.Options{Logger: logger}),
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	RegisterKVServer(srv, NewServer(svc, logger))
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return svc, lis.Addr().String()
}

func TestServer_PutGet(t *testing.T) {
	_, addr := startServer(t)
	cm := NewClientManager()
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	putResp, err := cm.Put(ctx, addr, "x", "a")
	require.NoError(t, err)
	assert.Equal(t, "n1", putResp.NodeID)
	assert.Equal(t, "a", putResp.Entry.Value)
	assert.Equal(t, clock.VectorClock{"n1": 1}, putResp.Entry.Clock)

	getResp, err := cm.Get(ctx, addr, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", getResp.Key)
	assert.Equal(t, []reconcile.Entry{putResp.Entry}, getResp.Entries)

	missing, err := cm.Get(ctx, addr, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing.Entries)
}

func TestServer_EmptyKeyIsInvalidArgument(t *testing.T) {
	_, addr := startServer(t)
	cm := NewClientManager()
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cm.Put(ctx, addr, "", "a")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClientManager_Push(t *testing.T) {
	svc, addr := startServer(t)
	cm := NewClientManager()
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent := &gossip.Message{
		ID:     "m1",
		From:   "n2",
		SentAt: time.Now().UTC(),
		Entries: map[string][]reconcile.Entry{
			"x": {
				{Value: "a", Clock: clock.VectorClock{"n2": 1}},
				{Value: "b", Clock: clock.VectorClock{"n3": 1}},
			},
		},
	}
	require.NoError(t, cm.Push(ctx, addr, sent))

	svc.mu.Lock()
	require.Len(t, svc.received, 1)
	got := svc.received[0]
	svc.mu.Unlock()

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "n2", got.From)
	assert.True(t, sent.SentAt.Equal(got.SentAt))
	assert.True(t, reconcile.Equal(sent.Entries["x"], got.Entries["x"]))
	assert.Len(t, svc.store.Get("x"), 2)
}

func TestServer_GossipSkipsKeysOfWrongShape(t *testing.T) {
	svc, addr := startServer(t)
	cm := NewClientManager()
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := cm.Conn(addr)
	require.NoError(t, err)

	payload := json.RawMessage(`{"id":"m1","from":"n2","entries":{` +
		`"good":[{"value":"v","clock":{"n2":1}}],` +
		`"bad":[{"value":5,"clock":{"n2":-1}}]}}`)
	err = conn.Invoke(ctx, gossipMethod, payload, new(emptypb.Empty))
	require.NoError(t, err, "a malformed key must not fail the push")

	svc.mu.Lock()
	require.Len(t, svc.reports, 1)
	report := svc.reports[0]
	svc.mu.Unlock()

	assert.Equal(t, 1, report.Merged)
	assert.Contains(t, report.RejectedKeys(), "bad")
	assert.Equal(t, []reconcile.Entry{{Value: "v", Clock: clock.VectorClock{"n2": 1}}}, svc.store.Get("good"))
	assert.Empty(t, svc.store.Get("bad"))
}

func TestClientManager_PushUnreachable(t *testing.T) {
	// Reserve a port and release it so nothing is listening there.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	cm := NewClientManager()
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = cm.Push(ctx, addr, &gossip.Message{ID: "m"})
	require.Error(t, err)
}

func TestClientManager_ReusesConnection(t *testing.T) {
	_, addr := startServer(t)
	cm := NewClientManager()

	c1, err := cm.Conn(addr)
	require.NoError(t, err)
	c2, err := cm.Conn(addr)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	require.NoError(t, cm.Close())
}

func TestServer_StatusAndHealthOverJSONCodec(t *testing.T) {
	_, addr := startServer(t)
	cm := NewClientManager()
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := cm.GetClient(addr)
	require.NoError(t, err)
	_, err = cm.Put(ctx, addr, "k", "v")
	require.NoError(t, err)

	st, err := client.Status(ctx, &api.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "n1", st.NodeID)
	assert.Equal(t, 1, st.Keys)

	// The health service is protobuf; on this connection it rides the
	// json content-subtype and is encoded with protojson.
	conn, err := cm.Conn(addr)
	require.NoError(t, err)
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
