package models

import (
	"encoding/json"
	"time"
)

// Event names carried over the websocket, in both directions.
const (
	EventJoinChannel          = "join_channel"
	EventChannelJoined        = "channel_joined"
	EventSendMessage          = "send_message"
	EventReceiveMessage       = "receive_message"
	EventEditMessage          = "edit_message"
	EventMessageUpdated       = "message_updated"
	EventDeleteMessage        = "delete_message"
	EventMessageDeleted       = "message_deleted"
	EventSendReaction         = "send_reaction"
	EventReceiveReaction      = "receive_reaction"
	EventTypingStart          = "typing_start"
	EventTypingStop           = "typing_stop"
	EventUserTyping           = "user_typing"
	EventUserStoppedTyping    = "user_stopped_typing"
	EventCreateChannel        = "create_channel"
	EventChannelCreated       = "channel_created"
	EventDeleteChannel        = "delete_channel"
	EventDeleteDirectMessage  = "delete_direct_message"
	EventChannelDeleted       = "channel_deleted_immediate"
	EventDirectDeleted        = "direct_message_deleted_immediate"
	EventClearChatHistory     = "clear_chat_history"
	EventChatHistoryCleared   = "chat_history_cleared_immediate"
	EventGetChannels          = "get_channels"
	EventGetDirectUsers       = "get_direct_users"
	EventChannelsList         = "channels_list"
	EventDirectUsersList      = "direct_users_list"
)

// Event is the wire envelope: a named event and its raw payload.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Payload: raw}, nil
}

// JoinChannelPayload requests a room join plus history.
type JoinChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// ChannelJoinedPayload is the join snapshot: it replaces, never merges.
type ChannelJoinedPayload struct {
	Channel Channel   `json:"channel"`
	History []Message `json:"history"`
}

// SendMessagePayload requests persist + broadcast of a message.
type SendMessagePayload struct {
	ChannelID string  `json:"channel_id"`
	Message   Message `json:"message"`
}

// ReceiveMessagePayload is the broadcast echo of a persisted message.
type ReceiveMessagePayload struct {
	ChannelID string  `json:"channel_id"`
	Message   Message `json:"message"`
}

type EditMessagePayload struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

type MessageUpdatedPayload struct {
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	NewText   string    `json:"new_text"`
	EditedAt  time.Time `json:"edited_at"`
}

type DeleteMessagePayload struct {
	ChannelID         string `json:"channel_id"`
	MessageID         string `json:"message_id"`
	DeleteForEveryone bool   `json:"delete_for_everyone"`
}

type MessageDeletedPayload struct {
	ChannelID         string `json:"channel_id"`
	MessageID         string `json:"message_id"`
	DeleteForEveryone bool   `json:"delete_for_everyone"`
	DeletedBy         string `json:"deleted_by"`
}

type SendReactionPayload struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// ReceiveReactionPayload carries the full authoritative reaction list.
type ReceiveReactionPayload struct {
	ChannelID string     `json:"channel_id"`
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

type TypingPayload struct {
	ChannelID string `json:"channel_id"`
}

type UserTypingPayload struct {
	ChannelID   string   `json:"channel_id"`
	TypingUsers []string `json:"typing_users"`
}

type DeleteChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

type ChannelDeletedPayload struct {
	ChannelID string `json:"channel_id"`
	DeletedBy string `json:"deleted_by,omitempty"`
}

type ClearHistoryPayload struct {
	ChannelID string `json:"channel_id"`
}

type HistoryClearedPayload struct {
	ChannelID    string `json:"channel_id"`
	DeletedCount int    `json:"deleted_count"`
}

type ChannelsListPayload struct {
	Channels []Channel `json:"channels"`
}

type DirectUsersListPayload struct {
	Users []User `json:"users"`
}
