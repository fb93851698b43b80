package it

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipstore/internal/api"
	"gossipstore/internal/clock"
	"gossipstore/internal/config"
	"gossipstore/internal/membership"
	"gossipstore/internal/reconcile"
)

func startCluster(t *testing.T, size int, opts ...Option) (*Cluster, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	cluster := NewCluster(t, opts...)
	require.NoError(t, cluster.StartCluster(ctx, size), "Failed to start cluster")
	return cluster, ctx
}

// requireEverywhere asserts that every running node holds exactly want for
// key.
func requireEverywhere(t *testing.T, cluster *Cluster, key string, want []reconcile.Entry) {
	t.Helper()
	for _, n := range cluster.Nodes() {
		if !n.Running() {
			continue
		}
		got, err := n.Node().Get(key)
		require.NoError(t, err)
		assert.Equal(t, want, got, "node %s", n.ID)
	}
}

func TestSmoke_PutGet_OverGRPC(t *testing.T) {
	cluster, ctx := startCluster(t, 3)
	client := cluster.Client()
	n1, n3 := cluster.GetNode("n1"), cluster.GetNode("n3")

	putResp, err := client.Put(ctx, n1.GRPCAddr, "test-key", "test-value")
	require.NoError(t, err)
	assert.Equal(t, "n1", putResp.NodeID)
	assert.Equal(t, clock.VectorClock{"n1": 1}, putResp.Entry.Clock)

	// Not yet gossiped.
	getResp, err := client.Get(ctx, n3.GRPCAddr, "test-key")
	require.NoError(t, err)
	assert.Empty(t, getResp.Entries)

	cluster.GossipRound(ctx)

	getResp, err = client.Get(ctx, n3.GRPCAddr, "test-key")
	require.NoError(t, err)
	require.Len(t, getResp.Entries, 1)
	assert.Equal(t, "test-value", getResp.Entries[0].Value)
	assert.Equal(t, "n3", getResp.NodeID)
}

func TestConvergence_ConcurrentWritesThenResolve(t *testing.T) {
	cluster, ctx := startCluster(t, 3)
	n1 := cluster.GetNode("n1").Node()
	n2 := cluster.GetNode("n2").Node()

	_, err := n1.Put("k", "a")
	require.NoError(t, err)
	_, err = n2.Put("k", "b")
	require.NoError(t, err)

	cluster.GossipRound(ctx)

	requireEverywhere(t, cluster, "k", []reconcile.Entry{
		{Value: "a", Clock: clock.VectorClock{"n1": 1}},
		{Value: "b", Clock: clock.VectorClock{"n2": 1}},
	})

	resolved, err := n1.Put("k", "c")
	require.NoError(t, err)
	assert.Equal(t, clock.VectorClock{"n1": 2, "n2": 1}, resolved.Clock)

	cluster.GossipRound(ctx)

	requireEverywhere(t, cluster, "k", []reconcile.Entry{
		{Value: "c", Clock: clock.VectorClock{"n1": 2, "n2": 1}},
	})
}

func TestConvergence_RoundsAreIdempotent(t *testing.T) {
	cluster, ctx := startCluster(t, 3)
	_, err := cluster.GetNode("n2").Node().Put("k", "v")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		cluster.GossipRound(ctx)
	}
	requireEverywhere(t, cluster, "k", []reconcile.Entry{
		{Value: "v", Clock: clock.VectorClock{"n2": 1}},
	})
}

func TestPartition_IsolatedNodeCatchesUp(t *testing.T) {
	cluster, ctx := startCluster(t, 3)
	n1 := cluster.GetNode("n1")
	n3 := cluster.GetNode("n3")

	require.NoError(t, cluster.KillNode("n3"))

	_, err := n1.Node().Put("k", "during-partition")
	require.NoError(t, err)

	start := time.Now()
	results := cluster.GossipRound(ctx)
	// A dead peer costs at most one push timeout per round.
	assert.Less(t, time.Since(start), 5*time.Second)

	r1 := results["n1"]
	assert.Contains(t, r1.Acked, cluster.GetNode("n2").GRPCAddr)
	assert.Contains(t, r1.Failed, n3.GRPCAddr)

	requireEverywhere(t, cluster, "k", []reconcile.Entry{
		{Value: "during-partition", Clock: clock.VectorClock{"n1": 1}},
	})

	var n3State membership.PeerState
	for _, p := range n1.Node().Status().Peers {
		if p.Peer.ID == "n3" {
			n3State = p
		}
	}
	assert.Equal(t, membership.Unreachable, n3State.Status)
	assert.Positive(t, n3State.ConsecutiveFailures)

	require.NoError(t, cluster.RestartNode(ctx, "n3"))

	// The old connection to n3 may still be backing off.
	require.Eventually(t, func() bool {
		cluster.GossipRound(ctx)
		got, err := n3.Node().Get("k")
		return err == nil && len(got) == 1 && got[0].Value == "during-partition"
	}, 15*time.Second, 200*time.Millisecond)
}

func TestHTTPTransport_Converges(t *testing.T) {
	cluster, ctx := startCluster(t, 3, WithTransport(config.TransportHTTP))
	n1, n2 := cluster.GetNode("n1"), cluster.GetNode("n2")

	_, err := n1.Node().Put("k", "a")
	require.NoError(t, err)
	_, err = n2.Node().Put("k", "b")
	require.NoError(t, err)

	results := cluster.GossipRound(ctx)
	for id, r := range results {
		assert.Empty(t, r.Failed, "node %s", id)
	}

	resp, err := http.Get("http://" + cluster.GetNode("n3").HTTPAddr + "/kv/k")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got api.GetResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "n3", got.NodeID)
	assert.Equal(t, []reconcile.Entry{
		{Value: "a", Clock: clock.VectorClock{"n1": 1}},
		{Value: "b", Clock: clock.VectorClock{"n2": 1}},
	}, got.Entries)
}

func TestBackgroundGossip_Converges(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cluster, _ := startCluster(t, 3, WithInterval(100*time.Millisecond))

	_, err := cluster.GetNode("n1").Node().Put("k", "v")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, n := range cluster.Nodes() {
			got, err := n.Node().Get("k")
			if err != nil || len(got) != 1 || got[0].Value != "v" {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond)
}
