package sync

import (
	"log"
	"time"

	"teamsync/internal/models"
)

// Store is the client-local mapping from channel id to message list, unread
// count and typing set. It is the single mutation point for channel state and
// is only ever called from the Router's event loop, one mutation at a time;
// there is no locking because there is no parallelism within a client.
//
// All mutations are best-effort against an eventually consistent feed: an
// unknown channel or message is logged and dropped, never an error. Reaction
// lists are replaced wholesale per event (last writer wins); concurrent
// reactions during a partition may lose an update, which is a known
// limitation of the replace model.
type Store struct {
	channels    map[string]*channelState
	active      string
	localUserID string

	// onBackgroundMessage fires when a message lands in a non-active
	// channel, for presentation-layer notification.
	onBackgroundMessage func(channelID string, msg models.Message)
}

type channelState struct {
	channel  models.Channel
	messages []models.Message
	unread   int
	typing   map[string]struct{}
}

// NewStore creates an empty store for the given local user.
func NewStore(localUserID string) *Store {
	return &Store{
		channels:    make(map[string]*channelState),
		localUserID: localUserID,
	}
}

// OnBackgroundMessage registers the non-active-channel notification hook.
func (s *Store) OnBackgroundMessage(fn func(channelID string, msg models.Message)) {
	s.onBackgroundMessage = fn
}

// SetActive marks the channel as the one on screen and zeroes its unread
// count. The active channel's unread count is always 0.
func (s *Store) SetActive(channelID string) {
	s.active = channelID
	if st, ok := s.channels[channelID]; ok {
		st.unread = 0
	}
}

// Active returns the currently active channel id.
func (s *Store) Active() string {
	return s.active
}

// ApplyJoinSnapshot replaces the channel's message list wholesale, resets its
// unread count and empties its typing set. A join snapshot is authoritative;
// it never merges with prior local state.
func (s *Store) ApplyJoinSnapshot(channel models.Channel, messages []models.Message) {
	st := s.ensure(channel.ID)
	st.channel = channel
	st.messages = append([]models.Message(nil), messages...)
	st.unread = 0
	st.typing = make(map[string]struct{})
}

// ApplyIncomingMessage appends a broadcast message. Dedup gating is the
// Router's job; by the time this runs the message is known to be new. A
// message for a non-active channel bumps its unread count and triggers the
// background notification.
func (s *Store) ApplyIncomingMessage(channelID string, msg models.Message) {
	st, ok := s.channels[channelID]
	if !ok {
		// History not loaded yet; the join snapshot will carry it.
		log.Printf("incoming message for unloaded channel %s dropped", channelID)
		return
	}
	st.messages = append(st.messages, msg)
	if channelID != s.active {
		st.unread++
		if s.onBackgroundMessage != nil {
			s.onBackgroundMessage(channelID, msg)
		}
	}
}

// ApplyEdit updates a message body in place. Missing message means the
// channel history is not loaded; logged, not an error.
func (s *Store) ApplyEdit(channelID, messageID, newText string, editedAt time.Time) {
	msg := s.find(channelID, messageID)
	if msg == nil {
		log.Printf("edit for unknown message %s/%s dropped", channelID, messageID)
		return
	}
	msg.Text = newText
	msg.Edited = true
	at := editedAt
	msg.EditedAt = &at
}

// ApplySoftDelete replaces the body with the deletion marker, preserving the
// message's identifier and position.
func (s *Store) ApplySoftDelete(channelID, messageID, deletedBy string) {
	msg := s.find(channelID, messageID)
	if msg == nil {
		log.Printf("soft delete for unknown message %s/%s dropped", channelID, messageID)
		return
	}
	msg.Text = models.DeletedMarker
	msg.Attachments = nil
	msg.Voice = nil
	msg.Deleted = true
	msg.DeletedBy = deletedBy
}

// ApplyHardDelete removes the message from the list entirely.
func (s *Store) ApplyHardDelete(channelID, messageID string) {
	st, ok := s.channels[channelID]
	if !ok {
		log.Printf("hard delete for unloaded channel %s dropped", channelID)
		return
	}
	for i := range st.messages {
		if st.messages[i].ID == messageID {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			return
		}
	}
	log.Printf("hard delete for unknown message %s/%s dropped", channelID, messageID)
}

// ApplyReactionReplace replaces the message's reaction list with the
// server's full list. Replace, never merge.
func (s *Store) ApplyReactionReplace(channelID, messageID string, reactions []models.Reaction) {
	msg := s.find(channelID, messageID)
	if msg == nil {
		log.Printf("reactions for unknown message %s/%s dropped", channelID, messageID)
		return
	}
	msg.Reactions = append([]models.Reaction(nil), reactions...)
}

// SetTyping adds or removes one user from the channel's typing set. The set
// never includes the local user.
func (s *Store) SetTyping(channelID, userID string, isTyping bool) {
	if userID == s.localUserID {
		return
	}
	st, ok := s.channels[channelID]
	if !ok {
		return
	}
	if st.typing == nil {
		st.typing = make(map[string]struct{})
	}
	if isTyping {
		st.typing[userID] = struct{}{}
	} else {
		delete(st.typing, userID)
	}
}

// ReplaceTyping swaps the channel's typing set for the given users, still
// excluding the local user.
func (s *Store) ReplaceTyping(channelID string, users []string) {
	st, ok := s.channels[channelID]
	if !ok {
		return
	}
	st.typing = make(map[string]struct{}, len(users))
	for _, id := range users {
		if id == s.localUserID {
			continue
		}
		st.typing[id] = struct{}{}
	}
}

// ClearChannel empties the message list without removing the channel.
func (s *Store) ClearChannel(channelID string) {
	st, ok := s.channels[channelID]
	if !ok {
		return
	}
	st.messages = nil
}

// RemoveChannel removes the channel entirely and reports whether it was the
// active one, so the caller can select the fallback channel.
func (s *Store) RemoveChannel(channelID string) (wasActive bool) {
	if _, ok := s.channels[channelID]; !ok {
		return false
	}
	delete(s.channels, channelID)
	if s.active == channelID {
		s.active = ""
		return true
	}
	return false
}

// Messages returns a copy of the channel's message list.
func (s *Store) Messages(channelID string) []models.Message {
	st, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	return append([]models.Message(nil), st.messages...)
}

// Unread returns the channel's unread count.
func (s *Store) Unread(channelID string) int {
	st, ok := s.channels[channelID]
	if !ok {
		return 0
	}
	return st.unread
}

// TypingUsers returns the channel's currently typing users.
func (s *Store) TypingUsers(channelID string) []string {
	st, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(st.typing))
	for id := range st.typing {
		users = append(users, id)
	}
	return users
}

// Loaded reports whether the channel has state in the store.
func (s *Store) Loaded(channelID string) bool {
	_, ok := s.channels[channelID]
	return ok
}

func (s *Store) ensure(channelID string) *channelState {
	st, ok := s.channels[channelID]
	if !ok {
		st = &channelState{typing: make(map[string]struct{})}
		s.channels[channelID] = st
	}
	return st
}

func (s *Store) find(channelID, messageID string) *models.Message {
	st, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	for i := range st.messages {
		if st.messages[i].ID == messageID {
			return &st.messages[i]
		}
	}
	return nil
}
