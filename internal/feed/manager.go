// Package feed maintains the live outcome connection: it dials, normalises
// inbound frames into a bounded history, reconnects with exponential backoff
// and falls back to demo data when nothing live arrives.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pilot-tracker/internal/demo"
	"pilot-tracker/internal/flight"
)

var (
	// ErrConnection wraps transport failures reported to subscribers.
	ErrConnection = errors.New("feed: connection error")
	// ErrMaxReconnect is the terminal error once the retry budget is spent.
	ErrMaxReconnect = errors.New("feed: max reconnection attempts reached")
	// ErrNotConnected is returned by Send while no socket is open.
	ErrNotConnected = errors.New("feed: not connected")
	// ErrClosed is returned after Teardown.
	ErrClosed = errors.New("feed: manager torn down")
)

// Options configure the manager.
type Options struct {
	URL                  string
	MaxHistory           int
	BaseDelay            time.Duration
	BackoffFactor        float64
	MaxReconnectAttempts int
	DemoGrace            time.Duration
	DemoCount            int
	DisableDemo          bool
	Clock                Clock
	Now                  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxHistory <= 0 {
		o.MaxHistory = flight.DefaultHistoryCapacity
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 3 * time.Second
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 1.5
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.DemoGrace <= 0 {
		o.DemoGrace = 5 * time.Second
	}
	if o.DemoCount <= 0 {
		o.DemoCount = 50
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Manager owns one logical live connection and the history it feeds.
// All state sits behind mu; transport and timer callbacks carry the epoch
// they were started under and become no-ops once it moves on.
type Manager struct {
	opts   Options
	dialer Dialer
	demo   *demo.Generator
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	source         Source
	attempts       int
	history        *flight.History
	conn           Conn
	epoch          uint64
	reconnectTimer Timer
	demoTimer      Timer
	demoArmed      bool
	closed         bool
	lastErr        error
	updatedAt      time.Time
	subs           map[int]chan Event
	nextSub        int
}

// New builds a manager in the disconnected state. gen may be nil when demo
// fallback is disabled.
func New(opts Options, dialer Dialer, gen *demo.Generator, logger zerolog.Logger) *Manager {
	opts = opts.withDefaults()
	if gen == nil && !opts.DisableDemo {
		gen = demo.New(demo.Options{Now: opts.Now})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		demo:    gen,
		logger:  logger.With().Str("component", "feed").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   Disconnected,
		history: flight.NewHistory(opts.MaxHistory),
		subs:    make(map[int]chan Event),
	}
}

// Connect starts a connection attempt unless one is open or in flight.
// Calling it from the failed state restarts the retry budget.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state == Connecting || m.state == Connected {
		return nil
	}
	if m.state == Failed {
		m.attempts = 0
	}
	if !m.demoArmed && !m.opts.DisableDemo {
		m.demoArmed = true
		m.demoTimer = m.opts.Clock.AfterFunc(m.opts.DemoGrace, m.demoFallback)
	}
	m.startAttemptLocked()
	return nil
}

// Teardown cancels timers, closes the socket with a normal-closure code and
// closes subscriber channels. It is idempotent; the manager cannot be reused.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.epoch++
	m.cancel()
	stopTimer(&m.reconnectTimer)
	stopTimer(&m.demoTimer)
	if m.conn != nil {
		if err := m.conn.Close(websocket.CloseNormalClosure, "client teardown"); err != nil {
			m.logger.Debug().Err(err).Msg("关闭连接失败")
		}
		m.conn = nil
	}
	m.setStateLocked(Disconnected)
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.logger.Info().Msg("feed torn down")
}

// Send writes v as JSON while connected.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state != Connected || m.conn == nil {
		return ErrNotConnected
	}
	if err := m.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: send: %v", ErrConnection, err)
	}
	return nil
}

// Subscribe registers a listener. Events are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes; channels are closed on
// unsubscribe and on Teardown.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			close(sub)
			delete(m.subs, id)
		}
	}
}

// Snapshot returns a copy of the current state and history.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:     m.state,
		Source:    m.source,
		Attempts:  m.attempts,
		History:   m.history.Snapshot(),
		UpdatedAt: m.updatedAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if latest, ok := m.history.Latest(); ok {
		st.Latest = &latest
	}
	return st
}

func (m *Manager) startAttemptLocked() {
	stopTimer(&m.reconnectTimer)
	m.epoch++
	epoch := m.epoch
	m.setStateLocked(Connecting)
	m.logger.Info().
		Str("url", m.opts.URL).
		Int("attempt", m.attempts+1).
		Int("max_attempts", m.opts.MaxReconnectAttempts).
		Msg("connecting to live feed")
	go m.dial(epoch)
}

func (m *Manager) dial(epoch uint64) {
	conn, err := m.dialer.Dial(m.ctx, m.opts.URL)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || epoch != m.epoch {
		if conn != nil {
			_ = conn.Close(websocket.CloseNormalClosure, "stale connection")
		}
		return
	}
	if err != nil {
		m.disconnectedLocked(fmt.Errorf("%w: %v", ErrConnection, err))
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	m.setStateLocked(Connected)
	m.logger.Info().Str("url", m.opts.URL).Msg("live feed connected")

	if err := conn.WriteJSON(historyRequest(m.opts.MaxHistory)); err != nil {
		m.logger.Warn().Err(err).Msg("请求历史记录失败")
	}
	go m.readLoop(epoch, conn)
}

func (m *Manager) readLoop(epoch uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(epoch, conn, err)
			return
		}
		if !m.handleFrame(epoch, conn, data) {
			return
		}
	}
}

func (m *Manager) connectionLost(epoch uint64, conn Conn, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || epoch != m.epoch {
		return
	}
	_ = conn.Close(websocket.CloseNormalClosure, "")
	m.conn = nil
	m.disconnectedLocked(fmt.Errorf("%w: %v", ErrConnection, cause))
}

// disconnectedLocked counts a failed cycle and either schedules the next
// attempt or gives up.
func (m *Manager) disconnectedLocked(cause error) {
	m.attempts++
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.lastErr = ErrMaxReconnect
		m.setStateLocked(Failed)
		m.emitLocked(Event{Kind: EventError, Err: ErrMaxReconnect, Terminal: true})
		m.logger.Error().
			Err(cause).
			Int("attempts", m.attempts).
			Msg("live feed failed, giving up")
		return
	}

	delay := Backoff(m.opts.BaseDelay, m.opts.BackoffFactor, m.attempts-1)
	m.lastErr = cause
	m.setStateLocked(Reconnecting)
	m.emitLocked(Event{Kind: EventError, Err: cause})
	m.logger.Warn().
		Err(cause).
		Int("attempt", m.attempts).
		Dur("retry_in", delay).
		Msg("live feed disconnected, scheduling reconnect")

	epoch := m.epoch
	m.reconnectTimer = m.opts.Clock.AfterFunc(delay, func() { m.reconnect(epoch) })
}

func (m *Manager) reconnect(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || epoch != m.epoch || m.state != Reconnecting {
		return
	}
	m.reconnectTimer = nil
	m.startAttemptLocked()
}

func (m *Manager) demoFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.demoTimer = nil
	if m.closed || m.history.Len() > 0 || m.demo == nil {
		return
	}
	batch := m.demo.Batch(m.opts.DemoCount)
	m.history.Replace(batch)
	m.source = SourceDemo
	m.touchLocked()
	m.emitLocked(Event{Kind: EventHistory, Source: SourceDemo, History: m.history.Snapshot()})
	m.logger.Info().Int("count", len(batch)).Msg("no live data yet, showing demo flights")
}

// handleFrame processes one inbound frame. It returns false once the
// connection it came from is no longer current.
func (m *Manager) handleFrame(epoch uint64, conn Conn, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || epoch != m.epoch {
		return false
	}

	msg, err := decodeMessage(data, m.opts.Now())
	if err != nil {
		m.logger.Debug().Err(err).Msg("丢弃无法解析的消息")
		return true
	}
	if msg.dropped > 0 {
		m.logger.Debug().Int("dropped", msg.dropped).Msg("discarded invalid outcomes")
	}

	switch msg.kind {
	case kindResult:
		if m.source != SourceLive {
			m.history.Reset()
			m.source = SourceLive
		}
		m.history.Push(msg.outcome)
		m.touchLocked()
		m.emitLocked(Event{Kind: EventOutcome, Source: SourceLive, Outcome: msg.outcome})
	case kindHistory:
		m.history.Replace(msg.history)
		m.source = SourceLive
		m.touchLocked()
		m.emitLocked(Event{Kind: EventHistory, Source: SourceLive, History: m.history.Snapshot()})
	case kindPing:
		if err := conn.WriteJSON(pong); err != nil {
			m.logger.Warn().Err(err).Msg("pong failed")
		}
	}
	return true
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.touchLocked()
	m.emitLocked(Event{Kind: EventState, State: s})
}

func (m *Manager) touchLocked() {
	m.updatedAt = m.opts.Now()
}

func (m *Manager) emitLocked(ev Event) {
	ev.At = m.opts.Now()
	if ev.Kind != EventState {
		ev.State = m.state
	}
	if ev.Source == SourceNone {
		ev.Source = m.source
	}
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug().Int("subscriber", id).Str("event", ev.Kind.String()).Msg("subscriber buffer full, dropping event")
		}
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
