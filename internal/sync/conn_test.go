package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"teamsync/internal/models"
)

type fakeTransport struct {
	mu      sync.Mutex
	inbound chan []byte
	writes  [][]byte
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16)}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	raw, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("transport closed")
	}
	return websocket.TextMessage, raw, nil
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeTransport) push(t *testing.T, name string, payload any) {
	t.Helper()
	event, err := models.NewEvent(name, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	f.inbound <- raw
}

func (f *fakeTransport) sentEvents(t *testing.T) []models.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]models.Event, 0, len(f.writes))
	for _, raw := range f.writes {
		var event models.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		events = append(events, event)
	}
	return events
}

func testSupplier(t *testing.T) *Supplier {
	t.Helper()
	supplier := NewSupplier("http://unused", time.Minute, nil)
	supplier.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r1")
	return supplier
}

func newTestManager(t *testing.T, dial dialFunc) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{
		URL:            "ws://test",
		ConnectTimeout: time.Second,
		MaxReconnects:  2,
		BackoffBase:    time.Millisecond,
	}, testSupplier(t))
	m.dial = dial
	return m
}

func TestConnectAndEmit(t *testing.T) {
	ft := newFakeTransport()
	var gotAuth string
	m := newTestManager(t, func(_ context.Context, _ string, header http.Header) (transport, error) {
		gotAuth = header.Get("Authorization")
		return ft, nil
	})

	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, StateConnected, m.State())
	require.Contains(t, gotAuth, "Bearer ")

	require.NoError(t, m.Emit(models.EventJoinChannel, models.JoinChannelPayload{ChannelID: "ch1"}))
	sent := ft.sentEvents(t)
	require.Len(t, sent, 1)
	require.Equal(t, models.EventJoinChannel, sent[0].Name)

	m.Disconnect()
	require.Equal(t, StateDisconnected, m.State())
	require.ErrorIs(t, m.Emit(models.EventJoinChannel, nil), ErrConnectionClosed)
}

func TestInboundEventsDelivered(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, func(context.Context, string, http.Header) (transport, error) {
		return ft, nil
	})

	received := make(chan models.Event, 1)
	m.OnEvent(func(event models.Event) { received <- event })

	require.NoError(t, m.Connect(context.Background()))
	ft.push(t, models.EventReceiveMessage, models.ReceiveMessagePayload{
		ChannelID: "ch1",
		Message:   models.Message{ID: "m1", Text: "hi"},
	})

	select {
	case event := <-received:
		require.Equal(t, models.EventReceiveMessage, event.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	m.Disconnect()
}

func TestAutomaticReconnectAfterDrop(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	var mu sync.Mutex
	dials := 0
	m := newTestManager(t, func(context.Context, string, http.Header) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	reconnected := make(chan struct{}, 1)
	m.OnReconnected(func() { reconnected <- struct{}{} })

	require.NoError(t, m.Connect(context.Background()))
	first.Close()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook never fired")
	}
	require.Equal(t, StateConnected, m.State())

	// Writes now land on the replacement transport.
	require.NoError(t, m.Emit(models.EventGetChannels, nil))
	require.Len(t, second.sentEvents(t), 1)

	m.Disconnect()
}

func TestReconnectExhaustionLandsInFailed(t *testing.T) {
	ft := newFakeTransport()
	var mu sync.Mutex
	dials := 0
	m := newTestManager(t, func(context.Context, string, http.Header) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return ft, nil
		}
		return nil, errors.New("dial refused")
	})

	require.NoError(t, m.Connect(context.Background()))
	ft.Close()

	require.Eventually(t, func() bool {
		return m.State() == StateFailed
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, m.Emit(models.EventGetChannels, nil), ErrReconnectExhausted)

	// Only the explicit retry leaves the failed state.
	recovery := newFakeTransport()
	m.dial = func(context.Context, string, http.Header) (transport, error) {
		return recovery, nil
	}
	require.NoError(t, m.Reconnect(context.Background()))
	require.Equal(t, StateConnected, m.State())

	m.Disconnect()
}

func TestReconnectAbortsOnCredentialFailure(t *testing.T) {
	ft := newFakeTransport()
	var mu sync.Mutex
	dials := 0
	authRequired := 0
	supplier := NewSupplier("http://unused", time.Minute, func() {
		mu.Lock()
		authRequired++
		mu.Unlock()
	})
	supplier.SetTokens(mintToken(t, time.Now().Add(time.Hour)), "r1")
	m := NewManager(ManagerConfig{
		URL:           "ws://test",
		MaxReconnects: 3,
		BackoffBase:   time.Millisecond,
	}, supplier)
	m.dial = func(context.Context, string, http.Header) (transport, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return ft, nil
	}

	require.NoError(t, m.Connect(context.Background()))

	// The session dies before the drop: the reconnect's token check fails
	// fatally, and the backoff sequence must not wipe the session again.
	supplier.SetTokens(mintToken(t, time.Now().Add(-time.Minute)), "")
	ft.Close()

	require.Eventually(t, func() bool {
		return m.State() == StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, dials)
	require.Equal(t, 1, authRequired)
}

func TestConnectRefusedWithoutCredentials(t *testing.T) {
	dialed := false
	m := NewManager(ManagerConfig{URL: "ws://test"}, NewSupplier("http://unused", time.Minute, nil))
	m.dial = func(context.Context, string, http.Header) (transport, error) {
		dialed = true
		return newFakeTransport(), nil
	}

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrCredential)
	require.False(t, dialed)
	require.Equal(t, StateDisconnected, m.State())
}
