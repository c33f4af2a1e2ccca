package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teamsync/internal/models"
	"teamsync/internal/observability"
	"teamsync/internal/repositories"
)

// Hub maintains the room-based fanout: one room per channel, each holding the
// sockets currently joined to it. A room survives its last member leaving so
// the cleanup job can tear it down once it has also gone idle.
type Hub struct {
	mu           sync.RWMutex
	rooms        map[string]map[*websocket.Conn]bool
	members      map[*websocket.Conn]*member
	typing       map[string]map[string]bool
	lastActivity map[string]time.Time
}

type member struct {
	info    ConnInfo
	writeMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:        make(map[string]map[*websocket.Conn]bool),
		members:      make(map[*websocket.Conn]*member),
		typing:       make(map[string]map[string]bool),
		lastActivity: make(map[string]time.Time),
	}
}

// Register tracks a socket before it joins any room.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[conn] = &member{info: info}
}

// Join adds the socket to the channel room.
func (h *Hub) Join(channelID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[conn]; !ok {
		return
	}
	room := h.rooms[channelID]
	if room == nil {
		room = make(map[*websocket.Conn]bool)
		h.rooms[channelID] = room
	}
	room[conn] = true
	h.lastActivity[channelID] = time.Now()
}

// Leave removes the socket from one room. The room entry is kept, empty, for
// the cleanup job to reap once idle.
func (h *Hub) Leave(channelID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[channelID]; ok {
		delete(room, conn)
	}
	h.clearTypingLocked(channelID, conn)
}

// Unregister removes the socket from every room and forgets it.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channelID, room := range h.rooms {
		if room[conn] {
			delete(room, conn)
			h.clearTypingLocked(channelID, conn)
		}
	}
	delete(h.members, conn)
}

// Relay fans the event out to every socket joined to the channel room.
// Message, reaction, deletion and typing events all include the sender, so a
// sender's own UI updates through the same path as everyone else's.
func (h *Hub) Relay(eventName, channelID string, payload any, includeSender bool, sender *websocket.Conn) int {
	event, err := models.NewEvent(eventName, payload)
	if err != nil {
		log.Printf("relay marshal failed event=%s: %v", eventName, err)
		return 0
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("relay marshal failed event=%s: %v", eventName, err)
		return 0
	}

	h.mu.Lock()
	h.lastActivity[channelID] = time.Now()
	room := h.rooms[channelID]
	targets := make([]*websocket.Conn, 0, len(room))
	for conn := range room {
		if !includeSender && conn == sender {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if err := h.writeTo(conn, raw); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.Unregister(conn)
			continue
		}
		delivered++
	}
	observability.AddRelayFanout(eventName, delivered)
	return delivered
}

// BroadcastAll delivers a directory-level event to every connected socket,
// joined to a room or not.
func (h *Hub) BroadcastAll(eventName string, payload any) int {
	event, err := models.NewEvent(eventName, payload)
	if err != nil {
		log.Printf("broadcast marshal failed event=%s: %v", eventName, err)
		return 0
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast marshal failed event=%s: %v", eventName, err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.members))
	for conn := range h.members {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := h.writeTo(conn, raw); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.Unregister(conn)
			continue
		}
		delivered++
	}
	observability.AddRelayFanout(eventName, delivered)
	return delivered
}

// SendTo delivers an event to a single socket (join snapshots, list replies).
func (h *Hub) SendTo(conn *websocket.Conn, eventName string, payload any) error {
	event, err := models.NewEvent(eventName, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.writeTo(conn, raw)
}

// SetTyping updates the channel's typing set and returns the current users.
func (h *Hub) SetTyping(channelID, userID string, isTyping bool) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.typing[channelID]
	if set == nil {
		set = make(map[string]bool)
		h.typing[channelID] = set
	}
	if isTyping {
		set[userID] = true
	} else {
		delete(set, userID)
	}
	users := make([]string, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	return users
}

// DropRoom tears a room down immediately (channel deletion).
func (h *Hub) DropRoom(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, channelID)
	delete(h.typing, channelID)
	delete(h.lastActivity, channelID)
}

// MemberCount reports the sockets currently joined to the room.
func (h *Hub) MemberCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelID])
}

// ConnectedUsers lists the identities behind the currently open sockets.
func (h *Hub) ConnectedUsers() []models.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool, len(h.members))
	users := make([]models.User, 0, len(h.members))
	for _, m := range h.members {
		if seen[m.info.UserID] {
			continue
		}
		seen[m.info.UserID] = true
		users = append(users, models.User{ID: m.info.UserID, Name: m.info.Username, Presence: "online"})
	}
	return users
}

// SweepStale removes rooms with no members and no activity since the cutoff.
// Safe to run repeatedly; a room with a joined socket is never removed. When a
// channel repository is supplied, a room whose channel has persisted messages
// newer than the cutoff is also kept, so a restart does not forget activity.
func (h *Hub) SweepStale(ctx context.Context, idleAge time.Duration, channels repositories.ChannelRepository) []string {
	cutoff := time.Now().Add(-idleAge)

	h.mu.Lock()
	var candidates []string
	for channelID, room := range h.rooms {
		if len(room) > 0 {
			continue
		}
		if last, ok := h.lastActivity[channelID]; ok && last.After(cutoff) {
			continue
		}
		candidates = append(candidates, channelID)
	}
	h.mu.Unlock()

	var swept []string
	for _, channelID := range candidates {
		if channels != nil {
			touched, err := channels.TouchedSince(ctx, channelID, cutoff)
			if err != nil {
				log.Printf("cleanup skipping %s: %v", channelID, err)
				continue
			}
			if touched {
				continue
			}
		}

		h.mu.Lock()
		// Re-check membership and the activity stamp; a join or relay may
		// have landed since the scan.
		room, ok := h.rooms[channelID]
		last, stamped := h.lastActivity[channelID]
		if ok && len(room) == 0 && !(stamped && last.After(cutoff)) {
			delete(h.rooms, channelID)
			delete(h.typing, channelID)
			delete(h.lastActivity, channelID)
			swept = append(swept, channelID)
			observability.IncStaleChannelCleaned()
		}
		h.mu.Unlock()
	}
	return swept
}

// StartCleanup runs the periodic stale-room sweep until ctx is cancelled.
func (h *Hub) StartCleanup(ctx context.Context, interval, idleAge time.Duration, channels repositories.ChannelRepository) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept := h.SweepStale(ctx, idleAge, channels); len(swept) > 0 {
					log.Printf("cleanup swept %d stale channel rooms", len(swept))
				}
			}
		}
	}()
}

func (h *Hub) writeTo(conn *websocket.Conn, raw []byte) error {
	h.mu.RLock()
	m := h.members[conn]
	h.mu.RUnlock()
	if m == nil {
		return websocket.ErrCloseSent
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (h *Hub) clearTypingLocked(channelID string, conn *websocket.Conn) {
	m := h.members[conn]
	if m == nil {
		return
	}
	if set, ok := h.typing[channelID]; ok {
		delete(set, m.info.UserID)
	}
}
