package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"teamsync/internal/models"
	"teamsync/internal/observability"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ManagerConfig tunes the connection lifecycle.
type ManagerConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxReconnects  int
	BackoffBase    time.Duration
}

// transport abstracts the websocket for tests.
type transport interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// dialFunc produces a transport; replaced in tests.
type dialFunc func(ctx context.Context, url string, header http.Header) (transport, error)

// Manager owns the single bidirectional event-stream connection. It is
// constructed once per session with an explicit lifecycle; nothing about the
// connection lives in package state.
type Manager struct {
	cfg   ManagerConfig
	creds *Supplier
	dial  dialFunc

	mu        sync.Mutex
	state     State
	conn      transport
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	pumpGen   int
	stateSubs []func(State)
	eventSubs []func(models.Event)

	// onReconnected runs after an automatic reconnect so the owner can
	// rejoin the active channel and re-request the directory; the server
	// does not remember either across a drop.
	onReconnected func()
}

// NewManager constructs a Manager bound to the given credential supplier.
func NewManager(cfg ManagerConfig, creds *Supplier) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Manager{
		cfg:   cfg,
		creds: creds,
		state: StateDisconnected,
		dial:  gorillaDial,
	}
}

func gorillaDial(ctx context.Context, url string, header http.Header) (transport, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// OnStateChange subscribes to state transitions.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateSubs = append(m.stateSubs, fn)
}

// OnEvent subscribes to inbound events. Events are delivered one at a time,
// in arrival order, from a single goroutine.
func (m *Manager) OnEvent(fn func(models.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventSubs = append(m.eventSubs, fn)
}

// OnReconnected registers the post-reconnect hook.
func (m *Manager) OnReconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnected = fn
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect validates credentials and establishes the connection. An invalid
// credential refuses the attempt locally; the supplier is asked to refresh
// before any network traffic happens.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.establish(runCtx); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	m.setState(StateConnected)
	return nil
}

// Disconnect tears the connection down and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.conn = nil
	m.pumpGen++
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.setState(StateDisconnected)
}

// Reconnect is the explicit user-triggered retry after the automatic
// sequence has been exhausted.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateFailed && m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()
	return m.Connect(ctx)
}

// Emit sends a named event. Fire and forget: no round-trip is awaited; the
// only state-mutation path is the broadcast-receipt path.
func (m *Manager) Emit(name string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()
	if state == StateFailed {
		return ErrReconnectExhausted
	}
	if conn == nil {
		return ErrConnectionClosed
	}

	event, err := models.NewEvent(name, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}
	observability.IncWSEvent(name, "out")
	return nil
}

// establish performs one credentialed dial and starts the read pump.
func (m *Manager) establish(ctx context.Context) error {
	token, err := m.creds.ValidToken(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, err := m.dial(dialCtx, m.cfg.URL, header)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.pumpGen++
	gen := m.pumpGen
	m.mu.Unlock()

	go m.readPump(ctx, conn, gen)
	return nil
}

// readPump delivers inbound events sequentially until the transport fails,
// then hands off to the reconnect sequence.
func (m *Manager) readPump(ctx context.Context, conn transport, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := gen != m.pumpGen || m.conn != conn
			m.mu.Unlock()
			if stale || ctx.Err() != nil {
				return
			}
			log.Printf("connection lost: %v", err)
			m.runReconnect(ctx)
			return
		}

		var event models.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("malformed inbound event dropped: %v", err)
			continue
		}
		observability.IncWSEvent(event.Name, "in")

		m.mu.Lock()
		subs := make([]func(models.Event), len(m.eventSubs))
		copy(subs, m.eventSubs)
		m.mu.Unlock()
		for _, fn := range subs {
			fn(event)
		}
	}
}

// runReconnect retries with bounded exponential backoff. Exhaustion lands in
// StateFailed, which only an explicit Reconnect leaves.
func (m *Manager) runReconnect(ctx context.Context) {
	m.setState(StateReconnecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffBase
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.MaxReconnects)), ctx)

	attempt := func() error {
		observability.IncReconnect()
		err := m.establish(ctx)
		// A credential failure has already wiped the session; retrying would
		// only re-fire the auth-required path.
		if errors.Is(err, ErrCredential) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(attempt, policy); err != nil {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		log.Printf("reconnect failed: %v", err)
		m.setState(StateFailed)
		return
	}

	m.setState(StateConnected)
	m.mu.Lock()
	hook := m.onReconnected
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	subs := make([]func(State), len(m.stateSubs))
	copy(subs, m.stateSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
