package sync

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"teamsync/internal/models"
	"teamsync/internal/observability"
)

// RouterConfig tunes router behavior.
type RouterConfig struct {
	LocalUserID    string
	LocalUserName  string
	DefaultChannel string
	TypingIdle     time.Duration
	RejoinGrace    time.Duration
}

// Draft is an outbound message as composed by the user. Exactly one payload
// shape is picked per send: a non-empty attachment set makes a file message,
// else a voice note makes a voice message, else non-blank text makes a text
// message. Anything else is rejected locally.
type Draft struct {
	Text        string
	Attachments []models.Attachment
	Voice       *models.VoiceNote
	Reply       *models.ReplyRef
}

// Router binds every inbound named event to exactly one Store mutation and
// every outbound user action to exactly one emitted event. It is the only
// caller of the Manager's Emit and of the Store's mutators; everything else
// goes through it. Sends are fire and forget: the only state-mutation path
// is the broadcast-receipt path, so the sender's UI updates from its own
// echo like every other client. That costs perceived latency but removes
// the optimistic/confirmed split entirely.
type Router struct {
	mu     sync.Mutex
	conn   *Manager
	store  *Store
	ledger *Ledger
	cfg    RouterConfig

	handlers map[string]func(json.RawMessage)

	rawChannels []models.Channel
	knownUsers  map[string]string
	directory   Directory
	onDirectory func(Directory)

	typingTimer   *time.Timer
	typingChannel string

	// suppressedUntil blocks rejoin attempts for a just-deleted channel, so
	// an in-flight rejoin cannot resurrect stale state.
	suppressedUntil map[string]time.Time
	pendingCreate   string
	now             func() time.Time
}

// NewRouter wires the dispatch table and subscribes to the manager.
func NewRouter(conn *Manager, store *Store, ledger *Ledger, cfg RouterConfig) *Router {
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = 3 * time.Second
	}
	if cfg.RejoinGrace <= 0 {
		cfg.RejoinGrace = 5 * time.Second
	}
	r := &Router{
		conn:            conn,
		store:           store,
		ledger:          ledger,
		cfg:             cfg,
		knownUsers:      make(map[string]string),
		suppressedUntil: make(map[string]time.Time),
		now:             time.Now,
	}
	r.handlers = map[string]func(json.RawMessage){
		models.EventChannelJoined:      r.onChannelJoined,
		models.EventReceiveMessage:     r.onReceiveMessage,
		models.EventMessageUpdated:     r.onMessageUpdated,
		models.EventMessageDeleted:     r.onMessageDeleted,
		models.EventReceiveReaction:    r.onReceiveReaction,
		models.EventUserTyping:         r.onUserTyping,
		models.EventUserStoppedTyping:  r.onUserStoppedTyping,
		models.EventChannelCreated:     r.onChannelCreated,
		models.EventChannelDeleted:     r.onChannelDeleted,
		models.EventDirectDeleted:      r.onChannelDeleted,
		models.EventChatHistoryCleared: r.onHistoryCleared,
		models.EventChannelsList:       r.onChannelsList,
		models.EventDirectUsersList:    r.onDirectUsersList,
	}

	conn.OnEvent(r.Process)
	conn.OnReconnected(r.resync)
	return r
}

// OnDirectoryChange registers the presentation hook for directory updates.
func (r *Router) OnDirectoryChange(fn func(Directory)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDirectory = fn
}

// Directory returns the last derived directory.
func (r *Router) Directory() Directory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.directory
}

// Process applies one inbound event. Events are handled strictly one at a
// time; a malformed or stale event is logged and dropped, never fatal — a
// single bad event must not interrupt the session.
func (r *Router) Process(event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handler, ok := r.handlers[event.Name]
	if !ok {
		log.Printf("unhandled event %q dropped", event.Name)
		return
	}
	handler(event.Payload)
}

// JoinChannel requests a room join plus history and makes the channel
// active. A join targeting a channel deleted within the grace window is
// suppressed.
func (r *Router) JoinChannel(channelID string) error {
	r.mu.Lock()
	if until, ok := r.suppressedUntil[channelID]; ok {
		if r.now().Before(until) {
			r.mu.Unlock()
			log.Printf("join of recently deleted channel %s suppressed", channelID)
			return nil
		}
		delete(r.suppressedUntil, channelID)
	}
	r.store.SetActive(channelID)
	r.mu.Unlock()

	return r.conn.Emit(models.EventJoinChannel, models.JoinChannelPayload{ChannelID: channelID})
}

// SendMessage validates the draft, picks its payload shape and emits it.
// Nothing is applied locally; the state mutation arrives as the broadcast.
func (r *Router) SendMessage(channelID string, draft Draft) error {
	msg := models.Message{Reply: draft.Reply}
	switch {
	case len(draft.Attachments) > 0:
		msg.Attachments = draft.Attachments
		msg.Text = draft.Text
	case draft.Voice != nil:
		msg.Voice = draft.Voice
	case strings.TrimSpace(draft.Text) != "":
		msg.Text = draft.Text
	default:
		return ErrInvalidOutbound
	}

	return r.conn.Emit(models.EventSendMessage, models.SendMessagePayload{ChannelID: channelID, Message: msg})
}

// EditMessage requests an in-place edit.
func (r *Router) EditMessage(channelID, messageID, newText string) error {
	return r.conn.Emit(models.EventEditMessage, models.EditMessagePayload{
		ChannelID: channelID, MessageID: messageID, NewText: newText,
	})
}

// DeleteMessage requests a soft or delete-for-everyone removal.
func (r *Router) DeleteMessage(channelID, messageID string, deleteForEveryone bool) error {
	return r.conn.Emit(models.EventDeleteMessage, models.DeleteMessagePayload{
		ChannelID: channelID, MessageID: messageID, DeleteForEveryone: deleteForEveryone,
	})
}

// ToggleReaction requests a reaction toggle; the full list comes back.
func (r *Router) ToggleReaction(channelID, messageID, emoji string) error {
	return r.conn.Emit(models.EventSendReaction, models.SendReactionPayload{
		ChannelID: channelID, MessageID: messageID, Emoji: emoji,
	})
}

// Typing signals a keystroke. The first call emits typing_start; every call
// resets the idle timer, which emits typing_stop after the idle interval.
// Switching channels mid-indicator closes out the previous channel first, so
// its typing_start is always paired with a typing_stop.
func (r *Router) Typing(channelID string) error {
	r.mu.Lock()
	previous := r.typingChannel
	if r.typingTimer != nil {
		r.typingTimer.Stop()
	}
	r.typingChannel = channelID
	r.typingTimer = time.AfterFunc(r.cfg.TypingIdle, func() { r.stopTyping(channelID) })
	r.mu.Unlock()

	if previous == channelID {
		return nil
	}
	if previous != "" {
		if err := r.conn.Emit(models.EventTypingStop, models.TypingPayload{ChannelID: previous}); err != nil {
			log.Printf("typing_stop emit failed: %v", err)
		}
	}
	return r.conn.Emit(models.EventTypingStart, models.TypingPayload{ChannelID: channelID})
}

// StopTyping emits typing_stop immediately (send or input cleared).
func (r *Router) StopTyping(channelID string) {
	r.mu.Lock()
	if r.typingTimer != nil {
		r.typingTimer.Stop()
		r.typingTimer = nil
	}
	r.typingChannel = ""
	r.mu.Unlock()
	if err := r.conn.Emit(models.EventTypingStop, models.TypingPayload{ChannelID: channelID}); err != nil {
		log.Printf("typing_stop emit failed: %v", err)
	}
}

// CreateChannel requests creation; the created record comes back as
// channel_created and the creator auto-switches to it.
func (r *Router) CreateChannel(descriptor models.Channel) error {
	r.mu.Lock()
	r.pendingCreate = descriptor.Name
	r.mu.Unlock()
	return r.conn.Emit(models.EventCreateChannel, descriptor)
}

// DeleteChannel requests deletion of a channel or direct conversation.
func (r *Router) DeleteChannel(channelID string, direct bool) error {
	name := models.EventDeleteChannel
	if direct {
		name = models.EventDeleteDirectMessage
	}
	return r.conn.Emit(name, models.DeleteChannelPayload{ChannelID: channelID})
}

// ClearHistory requests a history wipe for the channel.
func (r *Router) ClearHistory(channelID string) error {
	return r.conn.Emit(models.EventClearChatHistory, models.ClearHistoryPayload{ChannelID: channelID})
}

// RefreshDirectory re-requests the channel and direct-user lists.
func (r *Router) RefreshDirectory() {
	if err := r.conn.Emit(models.EventGetChannels, nil); err != nil {
		log.Printf("get_channels emit failed: %v", err)
	}
	if err := r.conn.Emit(models.EventGetDirectUsers, nil); err != nil {
		log.Printf("get_direct_users emit failed: %v", err)
	}
}

// resync runs after an automatic reconnect: the server remembers neither the
// directory nor the active channel across a drop, so both are re-requested.
// The rejoin's snapshot path clears and repopulates the ledger.
func (r *Router) resync() {
	r.mu.Lock()
	active := r.store.Active()
	r.mu.Unlock()

	r.RefreshDirectory()
	if active != "" {
		if err := r.conn.Emit(models.EventJoinChannel, models.JoinChannelPayload{ChannelID: active}); err != nil {
			log.Printf("rejoin emit failed: %v", err)
		}
	}
}

func (r *Router) stopTyping(channelID string) {
	r.mu.Lock()
	r.typingTimer = nil
	r.typingChannel = ""
	r.mu.Unlock()
	if err := r.conn.Emit(models.EventTypingStop, models.TypingPayload{ChannelID: channelID}); err != nil {
		log.Printf("typing_stop emit failed: %v", err)
	}
}

func (r *Router) onChannelJoined(raw json.RawMessage) {
	var payload models.ChannelJoinedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Channel.ID == "" {
		log.Printf("channel_joined: bad payload: %v", err)
		return
	}

	// Snapshot replaces: clear the ledger first, then repopulate it from the
	// snapshot so re-sent history is not treated as duplicates of itself.
	r.ledger.Clear(payload.Channel.ID)
	r.store.ApplyJoinSnapshot(payload.Channel, payload.History)
	for _, msg := range payload.History {
		r.ledger.MarkSeen(payload.Channel.ID, msg.ID)
	}
	r.mergeRawChannel(payload.Channel)
	r.rederive()
}

func (r *Router) onReceiveMessage(raw json.RawMessage) {
	var payload models.ReceiveMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message.ID == "" {
		log.Printf("receive_message: bad payload: %v", err)
		return
	}

	if r.ledger.Seen(payload.ChannelID, payload.Message.ID) {
		observability.IncDuplicateDropped()
		return
	}
	r.ledger.MarkSeen(payload.ChannelID, payload.Message.ID)
	r.store.ApplyIncomingMessage(payload.ChannelID, payload.Message)
}

func (r *Router) onMessageUpdated(raw json.RawMessage) {
	var payload models.MessageUpdatedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" {
		log.Printf("message_updated: bad payload: %v", err)
		return
	}
	r.store.ApplyEdit(payload.ChannelID, payload.MessageID, payload.NewText, payload.EditedAt)
}

func (r *Router) onMessageDeleted(raw json.RawMessage) {
	var payload models.MessageDeletedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" {
		log.Printf("message_deleted: bad payload: %v", err)
		return
	}
	if payload.DeleteForEveryone {
		r.store.ApplyHardDelete(payload.ChannelID, payload.MessageID)
		return
	}
	r.store.ApplySoftDelete(payload.ChannelID, payload.MessageID, payload.DeletedBy)
}

func (r *Router) onReceiveReaction(raw json.RawMessage) {
	var payload models.ReceiveReactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" {
		log.Printf("receive_reaction: bad payload: %v", err)
		return
	}
	r.store.ApplyReactionReplace(payload.ChannelID, payload.MessageID, payload.Reactions)
}

func (r *Router) onUserTyping(raw json.RawMessage) {
	var payload models.UserTypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("user_typing: bad payload: %v", err)
		return
	}
	r.store.ReplaceTyping(payload.ChannelID, payload.TypingUsers)
}

func (r *Router) onUserStoppedTyping(raw json.RawMessage) {
	r.onUserTyping(raw)
}

func (r *Router) onChannelCreated(raw json.RawMessage) {
	var channel models.Channel
	if err := json.Unmarshal(raw, &channel); err != nil || channel.ID == "" {
		log.Printf("channel_created: bad payload: %v", err)
		return
	}
	r.mergeRawChannel(channel)
	r.rederive()

	if r.pendingCreate != "" && r.pendingCreate == channel.Name {
		r.pendingCreate = ""
		r.store.SetActive(channel.ID)
		if err := r.conn.Emit(models.EventJoinChannel, models.JoinChannelPayload{ChannelID: channel.ID}); err != nil {
			log.Printf("auto-join of created channel failed: %v", err)
		}
	}
}

func (r *Router) onChannelDeleted(raw json.RawMessage) {
	var payload models.ChannelDeletedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("channel_deleted: bad payload: %v", err)
		return
	}

	r.suppressedUntil[payload.ChannelID] = r.now().Add(r.cfg.RejoinGrace)
	r.ledger.Clear(payload.ChannelID)
	wasActive := r.store.RemoveChannel(payload.ChannelID)
	r.dropRawChannel(payload.ChannelID)
	r.rederive()

	if wasActive && r.cfg.DefaultChannel != "" && r.cfg.DefaultChannel != payload.ChannelID {
		r.store.SetActive(r.cfg.DefaultChannel)
		if err := r.conn.Emit(models.EventJoinChannel, models.JoinChannelPayload{ChannelID: r.cfg.DefaultChannel}); err != nil {
			log.Printf("fallback join failed: %v", err)
		}
	}
}

func (r *Router) onHistoryCleared(raw json.RawMessage) {
	var payload models.HistoryClearedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		log.Printf("chat_history_cleared: bad payload: %v", err)
		return
	}
	r.ledger.Clear(payload.ChannelID)
	r.store.ClearChannel(payload.ChannelID)
}

func (r *Router) onChannelsList(raw json.RawMessage) {
	var payload models.ChannelsListPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("channels_list: bad payload: %v", err)
		return
	}
	for _, ch := range payload.Channels {
		r.mergeRawChannel(ch)
	}
	r.rederive()
}

func (r *Router) onDirectUsersList(raw json.RawMessage) {
	var payload models.DirectUsersListPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("direct_users_list: bad payload: %v", err)
		return
	}
	for _, user := range payload.Users {
		if user.Name != "" {
			r.knownUsers[user.ID] = user.Name
		}
	}
	r.rederive()
}

// mergeRawChannel updates or appends a raw record; duplicates of the same id
// merge last-non-empty so partial updates never erase known fields.
func (r *Router) mergeRawChannel(ch models.Channel) {
	for i := range r.rawChannels {
		if r.rawChannels[i].ID == ch.ID {
			r.rawChannels[i] = mergeChannels(r.rawChannels[i], ch)
			return
		}
	}
	r.rawChannels = append(r.rawChannels, ch)
}

func (r *Router) dropRawChannel(channelID string) {
	for i := range r.rawChannels {
		if r.rawChannels[i].ID == channelID {
			r.rawChannels = append(r.rawChannels[:i], r.rawChannels[i+1:]...)
			return
		}
	}
}

func (r *Router) rederive() {
	r.directory = DeriveDirectory(r.rawChannels, r.cfg.LocalUserID, r.knownUsers)
	if r.onDirectory != nil {
		r.onDirectory(r.directory)
	}
}
