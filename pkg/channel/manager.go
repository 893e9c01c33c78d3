// Package channel owns the single push-channel connection of a client: lazy
// connect, single-flight connection attempts, the read loop and lifecycle events.
// It never reconnects on its own; the next EnsureConnected call does.
package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/types"
)

const DefaultConnectTimeout = 30 * time.Second

// FrameHandler consumes raw inbound frames. It is called from a single goroutine
// per connection, in arrival order.
type FrameHandler func(data []byte)

type Config struct {
	URL            URLOptions
	Header         http.Header
	ConnectTimeout time.Duration
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithEmitter(emitter observer.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// Manager owns the push connection.
type Manager struct {
	fetcher SettingsFetcher
	dialer  Dialer
	handler FrameHandler
	emitter observer.Emitter
	cfg     Config
	logger  zerolog.Logger

	mu         sync.Mutex
	current    connState
	generation uint64
	closed     bool
	readers    sync.WaitGroup
}

func NewManager(fetcher SettingsFetcher, dialer Dialer, handler FrameHandler, cfg Config, opts ...Option) (*Manager, error) {
	if fetcher == nil {
		return nil, errors.New("channel manager: settings fetcher is nil")
	}
	if dialer == nil {
		return nil, errors.New("channel manager: dialer is nil")
	}
	if handler == nil {
		return nil, errors.New("channel manager: frame handler is nil")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	m := &Manager{
		fetcher: fetcher,
		dialer:  dialer,
		handler: handler,
		emitter: observer.Nop{},
		cfg:     cfg,
		current: disconnectedState{},
		logger:  log.With().Str("component", "channel").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.state()
}

// URL returns the URL of the open connection, or "" when not connected.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.current.(connectedState); ok {
		return st.url
	}
	return ""
}

// EnsureConnected returns once the channel is connected. Concurrent callers share
// one connection attempt. A caller whose ctx ends stops waiting; the attempt
// itself runs to completion under ConnectTimeout.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return types.ErrClientClosed
	}
	var a *attempt
	switch st := m.current.(type) {
	case connectedState:
		m.mu.Unlock()
		return nil
	case connectingState:
		a = st.attempt
	default:
		a = newAttempt()
		m.current = connectingState{attempt: a}
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ConnectTimeout)
		go func() {
			defer cancel()
			m.connect(connectCtx, a)
		}()
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) connect(ctx context.Context, a *attempt) {
	settings, err := m.fetcher.ChannelSettings(ctx)
	if err != nil {
		m.fail(a, errors.Wrapf(types.ErrConnectionFailed, "fetch channel settings: %v", err))
		return
	}
	url, err := settings.URL(m.cfg.URL)
	if err != nil {
		m.fail(a, errors.Wrapf(types.ErrConnectionFailed, "build channel url: %v", err))
		return
	}
	m.logger.Debug().Str("url", url).Msg("dialing push channel")
	conn, err := m.dialer.Dial(ctx, url, m.cfg.Header.Clone())
	if err != nil {
		m.fail(a, errors.Wrapf(types.ErrConnectionFailed, "open push channel: %v", err))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.current = disconnectedState{}
		m.mu.Unlock()
		_ = conn.Close()
		a.finish(types.ErrClientClosed)
		return
	}
	m.generation++
	gen := m.generation
	m.current = connectedState{conn: conn, url: url, generation: gen}
	m.readers.Add(1)
	m.mu.Unlock()

	m.logger.Info().Str("url", url).Uint64("generation", gen).Msg("push channel connected")
	m.emitter.Emit(observer.Event{Kind: observer.KindConnect, URL: url})
	go m.readLoop(conn, url, gen)
	a.finish(nil)
}

func (m *Manager) fail(a *attempt, err error) {
	m.mu.Lock()
	m.current = disconnectedState{}
	m.mu.Unlock()
	m.logger.Error().Err(err).Msg("push channel connect failed")
	a.finish(err)
}

func (m *Manager) readLoop(conn Conn, url string, gen uint64) {
	defer m.readers.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(conn, url, gen, err)
			return
		}
		m.handler(data)
	}
}

func (m *Manager) handleReadError(conn Conn, url string, gen uint64, err error) {
	m.mu.Lock()
	st, ok := m.current.(connectedState)
	current := ok && st.generation == gen
	if current {
		m.current = disconnectedState{}
	}
	m.mu.Unlock()
	if !current {
		// Close already tore this connection down and reported it.
		return
	}
	_ = conn.Close()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warn().Err(err).Str("url", url).Msg("push channel read failed")
		m.emitter.Emit(observer.Event{Kind: observer.KindError, URL: url, Err: err})
	}
	m.logger.Info().Str("url", url).Uint64("generation", gen).Msg("push channel closed")
	m.emitter.Emit(observer.Event{Kind: observer.KindClose, URL: url})
}

// Close tears down the connection and rejects further EnsureConnected calls.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	st, wasConnected := m.current.(connectedState)
	if wasConnected {
		m.current = disconnectedState{}
	}
	m.mu.Unlock()

	var err error
	if wasConnected {
		err = st.conn.Close()
		m.emitter.Emit(observer.Event{Kind: observer.KindClose, URL: st.url})
	}
	m.readers.Wait()
	return err
}
