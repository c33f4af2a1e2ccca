package models

import "time"

// ChannelKind classifies a channel for directory grouping.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelTeam    ChannelKind = "team"
	ChannelPrivate ChannelKind = "private"
	ChannelDirect  ChannelKind = "direct"
)

// Channel is a named room-like scope with an ordered history and membership.
// For direct channels Participants carries the pair of user ids the canonical
// identity and display name are derived from.
type Channel struct {
	ID           string      `db:"id" json:"id"`
	Kind         ChannelKind `db:"kind" json:"kind"`
	Name         string      `db:"name" json:"name"`
	Description  string      `db:"description" json:"description,omitempty"`
	Members      []string    `db:"-" json:"members,omitempty"`
	Participants []string    `db:"-" json:"participants,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// User is the directory view of a user, with simple presence tagging.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Presence string `json:"presence,omitempty"` // online, away, offline
}
