package depthcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/market"
	"github.com/dcompoze/binance-api-client/pkg/websocket"
)

// State is the synchronization state of a Manager.
type State int32

const (
	// StateInitializing means the manager is buffering diffs and fetching
	// a snapshot.
	StateInitializing State = iota
	// StateSynced means the local book chains cleanly from its snapshot.
	StateSynced
	// StateOutOfSync means a sequence gap was detected and a
	// resynchronization is about to begin.
	StateOutOfSync
	// StateStopped is terminal, reached by Stop or by the underlying
	// stream exhausting its reconnect budget. A stopped manager cannot be
	// restarted.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSynced:
		return "synced"
	case StateOutOfSync:
		return "out_of_sync"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SnapshotProvider fetches a full order book snapshot. rest.MarketService
// satisfies it.
type SnapshotProvider interface {
	Depth(ctx context.Context, symbol string, limit int) (*market.OrderBook, error)
}

// Config holds Manager settings.
type Config struct {
	// Endpoint is the stream endpoint, for example
	// websocket.DefaultEndpoint.
	Endpoint string

	// DepthLimit is the number of levels requested per snapshot.
	DepthLimit int

	// FastUpdates subscribes to the 100ms diff feed instead of 1s.
	FastUpdates bool

	// BufferWindow is how long diffs are buffered before the snapshot is
	// fetched during reconciliation.
	BufferWindow time.Duration

	// RefreshInterval, when positive, forces a full resynchronization on
	// that cadence even without a detected gap.
	RefreshInterval time.Duration

	// SnapshotRetries and SnapshotRetryDelay control retries of a failed
	// snapshot fetch within one reconciliation round.
	SnapshotRetries    uint
	SnapshotRetryDelay time.Duration

	// UpdateBuffer is the capacity of the consumer-facing book channel.
	// When it fills, ingestion blocks until the consumer catches up.
	UpdateBuffer int

	Reconnect websocket.ReconnectConfig
	Logger    logging.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:           websocket.DefaultEndpoint,
		DepthLimit:         1000,
		BufferWindow:       2 * time.Second,
		SnapshotRetries:    3,
		SnapshotRetryDelay: time.Second,
		UpdateBuffer:       100,
		Reconnect:          websocket.DefaultReconnectConfig(),
	}
}

// Manager keeps a DepthCache for one symbol synchronized against the diff
// stream using the snapshot-plus-buffered-replay protocol: buffer diffs for
// a warm-up window, fetch a snapshot, replay the buffer, then apply diffs
// as they arrive. A detected sequence gap triggers a full
// resynchronization; only an explicit Stop or exhaustion of the stream's
// reconnect budget is terminal.
type Manager struct {
	symbol   string
	provider SnapshotProvider
	cfg      Config
	logger   logging.Logger

	cacheMu sync.RWMutex
	cache   *DepthCache

	state atomic.Int32

	url      string
	streamMu sync.Mutex
	stream   *websocket.ReconnectingConn

	updates chan *market.OrderBook

	syncedOnce sync.Once
	syncedCh   chan struct{}

	ctx      context.Context
	cancelFn context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a manager for symbol. Call Start to begin
// synchronization.
func NewManager(symbol string, provider SnapshotProvider, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = def.DepthLimit
	}
	if cfg.BufferWindow <= 0 {
		cfg.BufferWindow = def.BufferWindow
	}
	if cfg.SnapshotRetries == 0 {
		cfg.SnapshotRetries = def.SnapshotRetries
	}
	if cfg.SnapshotRetryDelay <= 0 {
		cfg.SnapshotRetryDelay = def.SnapshotRetryDelay
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = def.UpdateBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	if cfg.Reconnect.Logger == nil {
		cfg.Reconnect.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		symbol:   symbol,
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger.WithFields(logging.String("symbol", symbol)),
		cache:    NewDepthCache(symbol),
		updates:  make(chan *market.OrderBook, cfg.UpdateBuffer),
		syncedCh: make(chan struct{}),
		ctx:      ctx,
		cancelFn: cancel,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.state.Store(int32(StateInitializing))
	return m
}

// Start opens the diff subscription and launches the synchronization loop.
// The context applies to the initial connection only.
func (m *Manager) Start(ctx context.Context) error {
	streamName := websocket.DepthStream(m.symbol, m.cfg.FastUpdates)
	m.url = websocket.SingleStreamURL(m.cfg.Endpoint, streamName)

	stream, err := websocket.DialReconnecting(ctx, m.url, m.cfg.Reconnect)
	if err != nil {
		m.state.Store(int32(StateStopped))
		return err
	}
	m.streamMu.Lock()
	m.stream = stream
	m.streamMu.Unlock()

	go m.syncLoop()
	return nil
}

// Symbol returns the symbol this manager tracks.
func (m *Manager) Symbol() string {
	return m.symbol
}

// State returns the current synchronization state without blocking.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Updates returns the consumer-facing channel. It yields the reconciled
// book after every successfully applied diff and is closed when the
// manager stops. A slow consumer throttles ingestion once the buffer
// fills.
func (m *Manager) Updates() <-chan *market.OrderBook {
	return m.updates
}

// Cache returns an independent copy of the current book.
func (m *Manager) Cache() *DepthCache {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return m.cache.Clone()
}

// WaitForSync blocks until the first successful reconciliation, the
// manager stops, or the context ends.
func (m *Manager) WaitForSync(ctx context.Context) error {
	select {
	case <-m.syncedCh:
		return nil
	default:
	}
	select {
	case <-m.syncedCh:
		return nil
	case <-m.done:
		return market.ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates synchronization. It is idempotent; the manager cannot be
// restarted afterwards.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.cancelFn()
		m.streamMu.Lock()
		if m.stream != nil {
			_ = m.stream.Close()
		}
		m.streamMu.Unlock()
	})
}

// Done returns a channel closed once the synchronization loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) currentStream() *websocket.ReconnectingConn {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	return m.stream
}

// steadyResult says why steadyState returned.
type steadyResult int

const (
	// steadyStop means the loop should terminate.
	steadyStop steadyResult = iota
	// steadyGap means a sequence gap was detected; the subscription is
	// abandoned and a fresh one opened before the next round.
	steadyGap
	// steadyRefresh means the refresh timer fired; the subscription is
	// retained.
	steadyRefresh
)

func (m *Manager) syncLoop() {
	defer close(m.done)
	defer close(m.updates)
	defer m.state.Store(int32(StateStopped))

	for {
		if m.stopped() {
			return
		}

		m.state.Store(int32(StateInitializing))
		ok, alive := m.reconcile()
		if !alive {
			return
		}
		if !ok {
			continue
		}

		m.state.Store(int32(StateSynced))
		m.syncedOnce.Do(func() { close(m.syncedCh) })
		m.logger.Info("depth cache synced",
			logging.Uint64("last_update_id", m.cache.LastUpdateID()),
		)
		if !m.publish() {
			return
		}

		switch m.steadyState() {
		case steadyStop:
			return
		case steadyGap:
			if !m.resubscribe() {
				return
			}
		case steadyRefresh:
		}
	}
}

// resubscribe abandons the current diff subscription and opens a fresh
// one against the same stream URL. It returns false when the manager
// stopped or the dial failed permanently.
func (m *Manager) resubscribe() bool {
	m.streamMu.Lock()
	old := m.stream
	m.streamMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	var stream *websocket.ReconnectingConn
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
			defer cancel()
			s, err := websocket.DialReconnecting(ctx, m.url, m.cfg.Reconnect)
			if err != nil {
				return err
			}
			stream = s
			return nil
		},
		retry.Attempts(m.cfg.SnapshotRetries),
		retry.Delay(m.cfg.SnapshotRetryDelay),
		retry.Context(m.ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if !m.stopped() {
			m.logger.Error("resubscribe failed", logging.Error(err))
		}
		return false
	}

	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	select {
	case <-m.stopCh:
		// Stop already closed the previous stream; do not leak this one.
		_ = stream.Close()
		return false
	default:
	}
	m.stream = stream
	return true
}

// reconcile runs one round of the snapshot-plus-buffered-replay protocol.
// It reports (ok, alive): ok false with alive true means the round failed
// transiently and should be retried; alive false means the loop should
// terminate.
func (m *Manager) reconcile() (bool, bool) {
	buffered, ok := m.bufferDiffs()
	if !ok {
		return false, false
	}

	snapshot, err := m.fetchSnapshot()
	if err != nil {
		if m.stopped() {
			return false, false
		}
		m.logger.Error("snapshot fetch failed, retrying reconciliation",
			logging.Error(err),
		)
		return false, true
	}

	m.cacheMu.Lock()
	m.cache.InitFromSnapshot(snapshot)
	applied := 0
	for _, u := range buffered {
		if m.cache.Apply(u) {
			applied++
		}
	}
	m.cacheMu.Unlock()

	m.logger.Debug("snapshot applied",
		logging.Uint64("snapshot_id", snapshot.LastUpdateID),
		logging.Int("buffered", len(buffered)),
		logging.Int("replayed", applied),
	)
	return true, true
}

// bufferDiffs collects diffs for the warm-up window without applying them.
func (m *Manager) bufferDiffs() ([]*market.DepthUpdate, bool) {
	stream := m.currentStream()
	var buffered []*market.DepthUpdate
	deadline := time.After(m.cfg.BufferWindow)
	for {
		select {
		case ev, open := <-stream.Events():
			if !open {
				if err := stream.Err(); err != nil {
					m.logger.Error("diff stream closed permanently", logging.Error(err))
				}
				return nil, false
			}
			if ev.Kind == websocket.EventDepthUpdate && ev.DepthUpdate != nil {
				buffered = append(buffered, ev.DepthUpdate)
			}
		case <-deadline:
			return buffered, true
		case <-m.stopCh:
			return nil, false
		}
	}
}

func (m *Manager) fetchSnapshot() (*market.OrderBook, error) {
	var book *market.OrderBook
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
			defer cancel()
			b, err := m.provider.Depth(ctx, m.symbol, m.cfg.DepthLimit)
			if err != nil {
				return err
			}
			book = b
			return nil
		},
		retry.Attempts(m.cfg.SnapshotRetries),
		retry.Delay(m.cfg.SnapshotRetryDelay),
		retry.Context(m.ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn("snapshot fetch retry",
				logging.Uint64("attempt", uint64(n+1)),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrSnapshotUnavailable, err)
	}
	return book, nil
}

// steadyState applies live diffs until a gap is detected, the refresh timer
// fires, the stream closes, or the manager stops.
func (m *Manager) steadyState() steadyResult {
	stream := m.currentStream()
	var refresh <-chan time.Time
	if m.cfg.RefreshInterval > 0 {
		t := time.NewTimer(m.cfg.RefreshInterval)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case ev, open := <-stream.Events():
			if !open {
				if err := stream.Err(); err != nil {
					m.logger.Error("diff stream closed permanently", logging.Error(err))
				}
				return steadyStop
			}
			if ev.Kind != websocket.EventDepthUpdate || ev.DepthUpdate == nil {
				continue
			}
			u := ev.DepthUpdate

			m.cacheMu.Lock()
			cursor := m.cache.LastUpdateID()
			applied := m.cache.Apply(u)
			m.cacheMu.Unlock()

			if applied {
				if !m.publish() {
					return steadyStop
				}
				continue
			}
			if u.FinalUpdateID <= cursor {
				// Already incorporated, typically a duplicate after a
				// reconnect.
				continue
			}
			m.state.Store(int32(StateOutOfSync))
			m.logger.Warn("sequence gap detected, resynchronizing",
				logging.Uint64("cursor", cursor),
				logging.Uint64("diff_start", u.FirstUpdateID),
			)
			return steadyGap
		case <-refresh:
			m.logger.Debug("scheduled snapshot refresh")
			return steadyRefresh
		case <-m.stopCh:
			return steadyStop
		}
	}
}

// publish pushes the current book to the consumer channel, blocking when
// the buffer is full. It returns false when the manager stopped while
// blocked.
func (m *Manager) publish() bool {
	m.cacheMu.RLock()
	book := m.cache.Snapshot()
	m.cacheMu.RUnlock()

	select {
	case m.updates <- book:
		return true
	case <-m.stopCh:
		return false
	}
}
