package ws

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"

	"teamsync/internal/mocks"
)

func TestHubJoinAndLeaveKeepsEmptyRoom(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1", Username: "alice"})
	hub.Join("ch1", conn)
	if hub.MemberCount("ch1") != 1 {
		t.Fatalf("expected one member in room")
	}

	hub.Leave("ch1", conn)
	if hub.MemberCount("ch1") != 0 {
		t.Fatalf("expected empty room after leave")
	}
	if _, ok := hub.rooms["ch1"]; !ok {
		t.Fatalf("expected empty room to survive for cleanup")
	}
}

func TestHubJoinRequiresRegistration(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Join("ch1", conn)
	if hub.MemberCount("ch1") != 0 {
		t.Fatalf("unregistered socket must not join a room")
	}
}

func TestHubUnregisterLeavesAllRooms(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1"})
	hub.Join("ch1", conn)
	hub.Join("ch2", conn)

	hub.Unregister(conn)
	if hub.MemberCount("ch1") != 0 || hub.MemberCount("ch2") != 0 {
		t.Fatalf("expected socket removed from every room")
	}
	if len(hub.members) != 0 {
		t.Fatalf("expected socket forgotten")
	}
}

func TestHubSetTyping(t *testing.T) {
	hub := NewHub()

	users := hub.SetTyping("ch1", "u1", true)
	if len(users) != 1 || users[0] != "u1" {
		t.Fatalf("expected typing set [u1], got %v", users)
	}

	users = hub.SetTyping("ch1", "u2", true)
	if len(users) != 2 {
		t.Fatalf("expected two typing users, got %v", users)
	}

	users = hub.SetTyping("ch1", "u1", false)
	if len(users) != 1 || users[0] != "u2" {
		t.Fatalf("expected typing set [u2], got %v", users)
	}
}

func TestHubConnectedUsersDeduplicatesDevices(t *testing.T) {
	hub := NewHub()
	first := &websocket.Conn{}
	second := &websocket.Conn{}

	hub.Register(first, ConnInfo{ConnID: "c1", UserID: "u1", Username: "alice"})
	hub.Register(second, ConnInfo{ConnID: "c2", UserID: "u1", Username: "alice"})

	users := hub.ConnectedUsers()
	if len(users) != 1 {
		t.Fatalf("expected one user for two devices, got %d", len(users))
	}
	if users[0].Presence != "online" {
		t.Fatalf("expected online presence")
	}
}

func TestSweepStaleSkipsOccupiedAndRecentRooms(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1"})

	hub.Join("occupied", conn)

	hub.Join("recent", conn)
	hub.Leave("recent", conn)

	hub.Join("stale", conn)
	hub.Leave("stale", conn)
	hub.mu.Lock()
	hub.lastActivity["stale"] = time.Now().Add(-48 * time.Hour)
	hub.mu.Unlock()

	swept := hub.SweepStale(context.Background(), 24*time.Hour, nil)
	if len(swept) != 1 || swept[0] != "stale" {
		t.Fatalf("expected only the stale room swept, got %v", swept)
	}
	if _, ok := hub.rooms["occupied"]; !ok {
		t.Fatalf("occupied room must survive the sweep")
	}
	if _, ok := hub.rooms["recent"]; !ok {
		t.Fatalf("recently active room must survive the sweep")
	}
}

func TestSweepStaleIsIdempotent(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1"})
	hub.Join("stale", conn)
	hub.Leave("stale", conn)
	hub.mu.Lock()
	hub.lastActivity["stale"] = time.Now().Add(-48 * time.Hour)
	hub.mu.Unlock()

	if swept := hub.SweepStale(context.Background(), 24*time.Hour, nil); len(swept) != 1 {
		t.Fatalf("expected one room swept, got %v", swept)
	}
	if swept := hub.SweepStale(context.Background(), 24*time.Hour, nil); len(swept) != 0 {
		t.Fatalf("second sweep must be a no-op, got %v", swept)
	}
}

func TestSweepStaleConsultsRepository(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1"})

	for _, id := range []string{"busy-db", "quiet-db"} {
		hub.Join(id, conn)
		hub.Leave(id, conn)
		hub.mu.Lock()
		hub.lastActivity[id] = time.Now().Add(-48 * time.Hour)
		hub.mu.Unlock()
	}

	channels := new(mocks.ChannelRepositoryMock)
	channels.On("TouchedSince", mock.Anything, "busy-db", mock.Anything).Return(true, nil).Once()
	channels.On("TouchedSince", mock.Anything, "quiet-db", mock.Anything).Return(false, nil).Once()

	swept := hub.SweepStale(context.Background(), 24*time.Hour, channels)
	if len(swept) != 1 || swept[0] != "quiet-db" {
		t.Fatalf("expected only quiet-db swept, got %v", swept)
	}
	channels.AssertExpectations(t)
}

func TestSweepStaleKeepsRoomRelayedToMidSweep(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1"})
	hub.Join("stale", conn)
	hub.Leave("stale", conn)
	hub.mu.Lock()
	hub.lastActivity["stale"] = time.Now().Add(-48 * time.Hour)
	hub.mu.Unlock()

	// A relay lands while the sweep is off in the repository; the refreshed
	// activity stamp must save the room.
	channels := new(mocks.ChannelRepositoryMock)
	channels.On("TouchedSince", mock.Anything, "stale", mock.Anything).
		Run(func(mock.Arguments) {
			hub.Relay("receive_message", "stale", nil, true, nil)
		}).
		Return(false, nil).Once()

	swept := hub.SweepStale(context.Background(), 24*time.Hour, channels)
	if len(swept) != 0 {
		t.Fatalf("expected no rooms swept, got %v", swept)
	}
	if _, ok := hub.rooms["stale"]; !ok {
		t.Fatalf("room active again mid-sweep must survive")
	}
	channels.AssertExpectations(t)
}

func TestDropRoom(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "u1"})
	hub.Join("ch1", conn)
	hub.SetTyping("ch1", "u1", true)

	hub.DropRoom("ch1")

	if _, ok := hub.rooms["ch1"]; ok {
		t.Fatalf("expected room dropped")
	}
	if _, ok := hub.typing["ch1"]; ok {
		t.Fatalf("expected typing set dropped")
	}
}
