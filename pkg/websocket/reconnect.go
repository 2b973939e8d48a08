package websocket

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/market"
)

// ConnState is the lifecycle state of a ReconnectingConn.
type ConnState int32

const (
	// StateConnecting means the initial connection is being established.
	StateConnecting ConnState = iota
	// StateConnected means the connection is active and streaming.
	StateConnected
	// StateReconnecting means a failed connection is being re-established.
	StateReconnecting
	// StateClosed is terminal, reached by an explicit close or by
	// exhausting the reconnect attempt budget.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReconnectConfig controls the reconnection behavior of a ReconnectingConn.
type ReconnectConfig struct {
	// MaxReconnectAttempts is the number of consecutive failed reconnect
	// attempts tolerated before the stream closes permanently. The counter
	// resets to zero whenever a connection is re-established.
	MaxReconnectAttempts int

	// BaseDelay and MaxDelay bound the exponential backoff between
	// reconnect attempts: min(BaseDelay * 2^attempt, MaxDelay), jittered
	// by up to ±25%.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// ReadTimeout bounds each inbound read so silently-dead connections
	// are detected; a timeout is treated like a transport error.
	ReadTimeout time.Duration

	// HealthCheckEnabled turns on periodic protocol pings on the live
	// connection.
	HealthCheckEnabled  bool
	HealthCheckInterval time.Duration

	// EventBuffer is the capacity of the consumer-facing event channel.
	// When it fills, the read loop blocks rather than dropping events.
	EventBuffer int

	// Jitter returns a value in [0,1) used to randomize backoff delays.
	// Injectable so tests can make backoff deterministic; nil uses a
	// seeded PRNG.
	Jitter func() float64

	Logger logging.Logger
}

// DefaultReconnectConfig returns the production defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxReconnectAttempts: 5,
		BaseDelay:            100 * time.Millisecond,
		MaxDelay:             60 * time.Second,
		ReadTimeout:          30 * time.Second,
		HealthCheckEnabled:   true,
		HealthCheckInterval:  30 * time.Second,
		EventBuffer:          1000,
	}
}

// ReconnectingConn is a stream connection that automatically re-establishes
// itself after transient failures, exposing a single ordered event channel
// regardless of how many physical reconnects occurred underneath.
//
// Within one physical connection events are delivered in arrival order; no
// ordering guarantee holds across a reconnect boundary.
type ReconnectingConn struct {
	url    string
	cfg    ReconnectConfig
	logger logging.Logger
	jitter func() float64

	connMu sync.Mutex
	conn   *Conn

	state     atomic.Int32
	attempts  atomic.Uint64
	closed    atomic.Bool
	exhausted atomic.Bool

	closeOnce sync.Once
	closeCh   chan struct{}
	events    chan Event
	done      chan struct{}
}

// DialReconnecting opens url and starts the background read loop. The
// context applies to the initial connection attempt only; the lifetime of
// the stream is controlled through Close.
func DialReconnecting(ctx context.Context, url string, cfg ReconnectConfig) (*ReconnectingConn, error) {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultReconnectConfig().MaxReconnectAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultReconnectConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultReconnectConfig().MaxDelay
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReconnectConfig().ReadTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultReconnectConfig().HealthCheckInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultReconnectConfig().EventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}

	jitter := cfg.Jitter
	if jitter == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		var mu sync.Mutex
		jitter = func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return rng.Float64()
		}
	}

	r := &ReconnectingConn{
		url:     url,
		cfg:     cfg,
		logger:  cfg.Logger.WithFields(logging.String("url", url)),
		jitter:  jitter,
		closeCh: make(chan struct{}),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
	r.state.Store(int32(StateConnecting))

	conn, err := Dial(ctx, url, r.logger)
	if err != nil {
		r.state.Store(int32(StateClosed))
		return nil, err
	}
	r.installConn(conn)

	go r.readLoop()
	return r, nil
}

// Events returns the consumer-facing event channel. It is closed once the
// stream reaches its terminal state; check State to distinguish an explicit
// close from reconnect budget exhaustion.
func (r *ReconnectingConn) Events() <-chan Event {
	return r.events
}

// State returns the current connection state without blocking.
func (r *ReconnectingConn) State() ConnState {
	return ConnState(r.state.Load())
}

// ReconnectCount returns the number of consecutive failed reconnect
// attempts. It resets to zero each time a connection is re-established.
func (r *ReconnectingConn) ReconnectCount() uint64 {
	return r.attempts.Load()
}

// Err reports why the stream reached its terminal state:
// market.ErrStreamClosed after the reconnect attempt budget was exhausted,
// nil while running or after an explicit Close.
func (r *ReconnectingConn) Err() error {
	if r.exhausted.Load() {
		return market.ErrStreamClosed
	}
	return nil
}

// Close terminates the stream. It is idempotent and interrupts any backoff
// delay in progress.
func (r *ReconnectingConn) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.closeCh)

		r.connMu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
			r.conn = nil
		}
		r.connMu.Unlock()

		r.state.Store(int32(StateClosed))
	})
	return nil
}

// Done returns a channel closed when the background read loop has exited.
func (r *ReconnectingConn) Done() <-chan struct{} {
	return r.done
}

func (r *ReconnectingConn) installConn(conn *Conn) {
	connID := uuid.NewString()

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()

	r.state.Store(int32(StateConnected))
	r.attempts.Store(0)
	r.logger.Info("stream connected", logging.String("conn_id", connID))

	if r.cfg.HealthCheckEnabled {
		go r.healthLoop(conn)
	}
}

func (r *ReconnectingConn) currentConn() *Conn {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

func (r *ReconnectingConn) readLoop() {
	defer close(r.done)
	defer close(r.events)
	defer r.state.Store(int32(StateClosed))

	for {
		if r.closed.Load() {
			return
		}

		conn := r.currentConn()
		if conn == nil {
			if !r.reconnect() {
				return
			}
			continue
		}

		ev, err := conn.ReadEvent(r.cfg.ReadTimeout)
		if err != nil {
			if r.closed.Load() {
				return
			}
			r.logger.Warn("stream read failed", logging.Error(err))
			if !r.reconnect() {
				return
			}
			continue
		}

		select {
		case r.events <- ev:
		case <-r.closeCh:
			return
		}
	}
}

// reconnect re-establishes the connection with jittered exponential
// backoff. It returns false when the stream was closed or the attempt
// budget is exhausted.
func (r *ReconnectingConn) reconnect() bool {
	r.state.Store(int32(StateReconnecting))

	r.connMu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.connMu.Unlock()

	for {
		if r.closed.Load() {
			return false
		}

		attempt := r.attempts.Add(1)
		if attempt > uint64(r.cfg.MaxReconnectAttempts) {
			r.logger.Error("reconnect attempt budget exhausted, closing stream",
				logging.Int("max_attempts", r.cfg.MaxReconnectAttempts),
			)
			r.exhausted.Store(true)
			r.closed.Store(true)
			return false
		}

		delay := r.backoffDelay(attempt)
		r.logger.Info("reconnecting",
			logging.Uint64("attempt", attempt),
			logging.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-r.closeCh:
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, err := Dial(ctx, r.url, r.logger)
		cancel()
		if err != nil {
			r.logger.Warn("reconnect attempt failed",
				logging.Uint64("attempt", attempt),
				logging.Error(err),
			)
			continue
		}

		r.installConn(conn)
		return true
	}
}

// backoffDelay computes min(BaseDelay * 2^attempt, MaxDelay) jittered by up
// to ±25%.
func (r *ReconnectingConn) backoffDelay(attempt uint64) time.Duration {
	base := float64(r.cfg.BaseDelay)
	delay := base * math.Pow(2, float64(attempt))
	if max := float64(r.cfg.MaxDelay); delay > max {
		delay = max
	}

	jitter := delay * 0.25 * (r.jitter()*2 - 1)
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// healthLoop pings the given physical connection until it is replaced, the
// ping fails, or the stream closes.
func (r *ReconnectingConn) healthLoop(conn *Conn) {
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.currentConn() != conn {
				return
			}
			if err := conn.Ping(); err != nil {
				r.logger.Warn("health check ping failed", logging.Error(err))
				return
			}
		case <-r.closeCh:
			return
		}
	}
}
