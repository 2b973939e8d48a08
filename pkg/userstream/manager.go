// Package userstream manages an authenticated user data stream: it keeps
// the exchange-issued listen key alive on a timer and forwards every stream
// event verbatim to a single consumer channel across reconnects and key
// rotations.
package userstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/websocket"
)

// TokenSource issues and maintains listen keys. rest.UserStreamService
// satisfies it.
type TokenSource interface {
	Start(ctx context.Context) (string, error)
	Keepalive(ctx context.Context, listenKey string) error
	Close(ctx context.Context, listenKey string) error
}

// Config holds Manager settings.
type Config struct {
	// Endpoint is the stream endpoint, for example
	// websocket.DefaultEndpoint.
	Endpoint string

	// KeepaliveInterval is the cadence of listen key refreshes. The
	// exchange expires keys after roughly sixty minutes of silence, so
	// the default refreshes at half that.
	KeepaliveInterval time.Duration

	// ReconnectDelay is the pause before re-opening the stream after it
	// ends permanently.
	ReconnectDelay time.Duration

	// EventBuffer is the capacity of the consumer-facing event channel.
	EventBuffer int

	Reconnect websocket.ReconnectConfig
	Logger    logging.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:          websocket.DefaultEndpoint,
		KeepaliveInterval: 30 * time.Minute,
		ReconnectDelay:    time.Second,
		EventBuffer:       1000,
		Reconnect:         websocket.DefaultReconnectConfig(),
	}
}

// Manager runs two loops sharing the listen key: a refresh loop that keeps
// the key alive and replaces it when a refresh fails, and a forwarding loop
// that streams events to the consumer, re-opening with whatever key is
// current at that moment. Stop revokes the key best-effort and is
// terminal.
type Manager struct {
	source TokenSource
	cfg    Config
	logger logging.Logger

	keyMu     sync.RWMutex
	listenKey string

	streamMu sync.Mutex
	stream   *websocket.ReconnectingConn

	events chan websocket.Event

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a manager over the given token source. Call Start to
// obtain a key and begin streaming.
func NewManager(source TokenSource, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	if cfg.Reconnect.Logger == nil {
		cfg.Reconnect.Logger = cfg.Logger
	}

	return &Manager{
		source: source,
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan websocket.Event, cfg.EventBuffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start obtains a listen key, opens the stream and launches the refresh
// and forwarding loops. The context applies to the initial key request and
// connection only.
func (m *Manager) Start(ctx context.Context) error {
	key, err := m.source.Start(ctx)
	if err != nil {
		return err
	}
	m.setListenKey(key)

	stream, err := m.dial(ctx, key)
	if err != nil {
		return err
	}
	m.setStream(stream)

	go m.run()
	return nil
}

// Events returns the consumer-facing event channel. It is closed once the
// manager stops.
func (m *Manager) Events() <-chan websocket.Event {
	return m.events
}

// ListenKey returns the currently active listen key.
func (m *Manager) ListenKey() string {
	m.keyMu.RLock()
	defer m.keyMu.RUnlock()
	return m.listenKey
}

// Stop terminates both loops and revokes the current listen key
// best-effort. It is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.streamMu.Lock()
		if m.stream != nil {
			_ = m.stream.Close()
		}
		m.streamMu.Unlock()
	})
}

// Done returns a channel closed once both loops have exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) setListenKey(key string) {
	m.keyMu.Lock()
	m.listenKey = key
	m.keyMu.Unlock()
}

func (m *Manager) setStream(s *websocket.ReconnectingConn) {
	m.streamMu.Lock()
	m.stream = s
	m.streamMu.Unlock()
}

func (m *Manager) currentStream() *websocket.ReconnectingConn {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	return m.stream
}

func (m *Manager) dial(ctx context.Context, key string) (*websocket.ReconnectingConn, error) {
	url := websocket.UserStreamURL(m.cfg.Endpoint, key)
	return websocket.DialReconnecting(ctx, url, m.cfg.Reconnect)
}

func (m *Manager) run() {
	var g errgroup.Group
	g.Go(m.refreshLoop)
	g.Go(m.forwardLoop)
	_ = g.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if key := m.ListenKey(); key != "" {
		if err := m.source.Close(ctx, key); err != nil {
			m.logger.Warn("listen key revoke failed", logging.Error(err))
		}
	}

	close(m.events)
	close(m.done)
}

// refreshLoop keeps the listen key alive. A failed refresh requests a
// brand-new key and swaps it in; the forwarding loop picks it up on its
// next reconnect.
func (m *Manager) refreshLoop() error {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			key := m.ListenKey()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := m.source.Keepalive(ctx, key)
			cancel()
			if err == nil {
				m.logger.Debug("listen key refreshed")
				continue
			}
			m.logger.Warn("listen key refresh failed, requesting new key",
				logging.Error(err),
			)
			m.rotateListenKey()
		case <-m.stopCh:
			return nil
		}
	}
}

// rotateListenKey requests a replacement key and forces the stream to
// re-open with it.
func (m *Manager) rotateListenKey() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := m.source.Start(ctx)
	if err != nil {
		m.logger.Error("listen key replacement failed", logging.Error(err))
		return
	}
	m.setListenKey(key)
	m.logger.Info("listen key rotated")

	if s := m.currentStream(); s != nil {
		_ = s.Close()
	}
}

// forwardLoop forwards stream events verbatim to the consumer channel,
// re-opening the stream with the current listen key whenever it ends.
func (m *Manager) forwardLoop() error {
	for {
		stream := m.currentStream()
		if stream == nil {
			return nil
		}

		for ev := range stream.Events() {
			select {
			case m.events <- ev:
			case <-m.stopCh:
				return nil
			}
		}

		select {
		case <-time.After(m.cfg.ReconnectDelay):
		case <-m.stopCh:
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		next, err := m.dial(ctx, m.ListenKey())
		cancel()
		if err != nil {
			m.logger.Error("user data stream reopen failed", logging.Error(err))
			select {
			case <-time.After(m.cfg.ReconnectDelay):
				continue
			case <-m.stopCh:
				return nil
			}
		}
		m.streamMu.Lock()
		select {
		case <-m.stopCh:
			m.streamMu.Unlock()
			_ = next.Close()
			return nil
		default:
			m.stream = next
		}
		m.streamMu.Unlock()
		m.logger.Info("user data stream reopened")
	}
}
