package gossip

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gossipstore/internal/membership"
	"gossipstore/internal/storage"
)

const (
	// DefaultInterval is the push period used when none is configured.
	DefaultInterval = 2 * time.Second
)

// Transport delivers a message to the peer listening on addr.
type Transport interface {
	Push(ctx context.Context, addr string, msg *Message) error
}

// Options configures an Engine.
type Options struct {
	// Interval between push rounds. Defaults to DefaultInterval.
	Interval time.Duration
	// PushTimeout bounds each peer send. Defaults to, and is capped at,
	// Interval.
	PushTimeout time.Duration
	Logger      *zap.Logger
}

// RoundResult summarises one push round.
type RoundResult struct {
	MessageID string
	Keys      int
	Acked     []string
	Failed    map[string]error
}

// Stats are cumulative engine counters.
type Stats struct {
	Rounds       uint64 `json:"rounds"`
	PushFailures uint64 `json:"push_failures"`
	Received     uint64 `json:"received"`
	RejectedKeys uint64 `json:"rejected_keys"`
}

// Engine runs the push loop and applies incoming messages.
type Engine struct {
	store       storage.Store
	table       *membership.Table
	transport   Transport
	interval    time.Duration
	pushTimeout time.Duration
	logger      *zap.Logger

	rounds       atomic.Uint64
	pushFailures atomic.Uint64
	received     atomic.Uint64
	rejectedKeys atomic.Uint64

	// Control
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a gossip engine for store, pushing to the peers in table.
func NewEngine(store storage.Store, table *membership.Table, transport Transport, opts Options) *Engine {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.PushTimeout
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:       store,
		table:       table,
		transport:   transport,
		interval:    interval,
		pushTimeout: timeout,
		logger:      logger.Named("gossip").With(zap.String("node", table.SelfID())),
	}
}

// Start launches the push loop. It returns immediately; the loop runs until
// ctx is cancelled or Stop is called. Calling Start on a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				e.PushRound(loopCtx)
			}
		}
	}()

	e.logger.Info("gossip started",
		zap.Duration("interval", e.interval),
		zap.Duration("push_timeout", e.pushTimeout),
		zap.Int("peers", e.table.Len()))
}

// Stop stops the push loop and waits for it to return. In-flight sends are
// abandoned through context cancellation.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.logger.Info("gossip stopped")
}

// PushRound snapshots the store and sends it to every peer concurrently,
// each send with its own timeout. A failing peer never delays or aborts the
// others, and is not retried until the next round.
func (e *Engine) PushRound(ctx context.Context) RoundResult {
	e.rounds.Add(1)

	// The snapshot is a deep copy taken under the store lock; the lock is
	// released before any send starts.
	msg := &Message{
		ID:      uuid.NewString(),
		From:    e.table.SelfID(),
		SentAt:  time.Now().UTC(),
		Entries: e.store.Snapshot(),
	}
	result := RoundResult{
		MessageID: msg.ID,
		Keys:      len(msg.Entries),
		Acked:     []string{},
		Failed:    make(map[string]error),
	}

	peers := e.table.Peers()
	if len(peers) == 0 {
		return result
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, e.pushTimeout)
			defer cancel()

			err := e.transport.Push(sendCtx, peer.Addr, msg)
			e.observe(peer, msg.ID, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[peer.Addr] = err
			} else {
				result.Acked = append(result.Acked, peer.Addr)
			}
			// Errors are recorded, never propagated: the round is best effort.
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Acked)
	return result
}

// observe records the outcome of one send. Status transitions are logged at
// info/warn, repeats at debug.
func (e *Engine) observe(peer membership.Peer, msgID string, err error) {
	fields := []zap.Field{
		zap.String("peer", peer.Name()),
		zap.String("addr", peer.Addr),
		zap.String("msg_id", msgID),
	}

	if err == nil {
		if e.table.MarkReachable(peer.Addr) {
			e.logger.Info("peer reachable", fields...)
		} else {
			e.logger.Debug("push delivered", fields...)
		}
		return
	}

	e.pushFailures.Add(1)
	fields = append(fields, zap.Error(err))
	if e.table.MarkUnreachable(peer.Addr, err) {
		e.logger.Warn("peer unreachable", fields...)
	} else {
		e.logger.Debug("push failed", fields...)
	}
}

// Receive merges every key of msg into the store. Keys that fail validation
// are skipped and reported; the rest of the message is still applied.
func (e *Engine) Receive(msg *Message) (MergeReport, error) {
	if msg == nil {
		return MergeReport{}, ErrEmptyMessage
	}
	e.received.Add(1)

	report := MergeReport{Rejected: make(map[string]error)}
	reject := func(key string, err error) {
		report.Rejected[key] = err
		e.rejectedKeys.Add(1)
		e.logger.Warn("rejected gossip key",
			zap.String("from", msg.From),
			zap.String("msg_id", msg.ID),
			zap.String("key", key),
			zap.Error(err))
	}

	for key, err := range msg.malformed {
		reject(key, err)
	}
	for key, entries := range msg.Entries {
		if err := validateKey(key, entries); err != nil {
			reject(key, err)
			continue
		}
		e.store.MergeIncoming(key, entries)
		report.Merged++
	}

	e.logger.Debug("gossip received",
		zap.String("from", msg.From),
		zap.String("msg_id", msg.ID),
		zap.Int("merged", report.Merged),
		zap.Int("rejected", len(report.Rejected)))
	return report, nil
}

// Stats returns the engine's cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Rounds:       e.rounds.Load(),
		PushFailures: e.pushFailures.Load(),
		Received:     e.received.Load(),
		RejectedKeys: e.rejectedKeys.Load(),
	}
}

// Interval returns the configured push interval.
func (e *Engine) Interval() time.Duration {
	return e.interval
}
