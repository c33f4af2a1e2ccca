package models

import "time"

// Attachment describes one uploaded file carried by a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// VoiceNote describes a single voice recording carried by a message.
type VoiceNote struct {
	URL        string `json:"url"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// ReplyRef is a denormalized snapshot of the replied-to message. The original
// may be edited or deleted after the reply is sent, so the reply stays
// renderable from its own copy instead of a live reference.
type ReplyRef struct {
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// Reaction is one (emoji, user) pair attached to a message. The server is
// authoritative for the full list per message; clients replace, never merge.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// DeletedMarker replaces the body of a soft-deleted message.
const DeletedMarker = "This message was deleted"

// Message is a chat message. The identifier is stable across redelivery.
type Message struct {
	ID          string       `db:"id" json:"id"`
	ChannelID   string       `db:"channel_id" json:"channel_id"`
	SenderID    string       `db:"sender_id" json:"sender_id"`
	SenderName  string       `db:"sender_name" json:"sender_name"`
	Text        string       `db:"text" json:"text"`
	Attachments []Attachment `db:"-" json:"attachments,omitempty"`
	Voice       *VoiceNote   `db:"-" json:"voice,omitempty"`
	Reply       *ReplyRef    `db:"-" json:"reply,omitempty"`
	Edited      bool         `db:"edited" json:"edited,omitempty"`
	EditedAt    *time.Time   `db:"edited_at" json:"edited_at,omitempty"`
	Deleted     bool         `db:"deleted" json:"deleted,omitempty"`
	DeletedBy   string       `db:"deleted_by" json:"deleted_by,omitempty"`
	Reactions   []Reaction   `db:"-" json:"reactions,omitempty"`
	ReadBy      []string     `db:"-" json:"read_by,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}
