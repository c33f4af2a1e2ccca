package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"teamsync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for channel messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	History(ctx context.Context, channelID string) ([]models.Message, error)
	EditMessage(ctx context.Context, channelID, messageID, newText string, editedAt time.Time) error
	SoftDelete(ctx context.Context, channelID, messageID, deletedBy string) error
	HardDelete(ctx context.Context, channelID, messageID string) error
	ToggleReaction(ctx context.Context, channelID, messageID, userID, emoji string) ([]models.Reaction, error)
	ClearHistory(ctx context.Context, channelID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID          string       `db:"id"`
	ChannelID   string       `db:"channel_id"`
	SenderID    string       `db:"sender_id"`
	SenderName  string       `db:"sender_name"`
	Text        string       `db:"text"`
	Attachments []byte       `db:"attachments"`
	Voice       []byte       `db:"voice"`
	Reply       []byte       `db:"reply"`
	Edited      bool         `db:"edited"`
	EditedAt    sql.NullTime `db:"edited_at"`
	Deleted     bool         `db:"deleted"`
	DeletedBy   string       `db:"deleted_by"`
	Reactions   []byte       `db:"reactions"`
	ReadBy      []byte       `db:"read_by"`
	CreatedAt   time.Time    `db:"created_at"`
}

const messageColumns = `id, channel_id, sender_id, sender_name, text, attachments, voice, reply,
    edited, edited_at, deleted, deleted_by, reactions, read_by, created_at`

func (r messageRow) toModel() (models.Message, error) {
	msg := models.Message{
		ID:         r.ID,
		ChannelID:  r.ChannelID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Text:       r.Text,
		Edited:     r.Edited,
		Deleted:    r.Deleted,
		DeletedBy:  r.DeletedBy,
		CreatedAt:  r.CreatedAt,
	}
	if r.EditedAt.Valid {
		at := r.EditedAt.Time
		msg.EditedAt = &at
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &msg.Attachments); err != nil {
			return msg, err
		}
	}
	if len(r.Voice) > 0 {
		if err := json.Unmarshal(r.Voice, &msg.Voice); err != nil {
			return msg, err
		}
	}
	if len(r.Reply) > 0 {
		if err := json.Unmarshal(r.Reply, &msg.Reply); err != nil {
			return msg, err
		}
	}
	if len(r.Reactions) > 0 {
		if err := json.Unmarshal(r.Reactions, &msg.Reactions); err != nil {
			return msg, err
		}
	}
	if len(r.ReadBy) > 0 {
		if err := json.Unmarshal(r.ReadBy, &msg.ReadBy); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// CreateMessage persists a message, minting its stable id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Attachments == nil {
		attachments = []byte(`[]`)
	}
	var voice, reply []byte
	if msg.Voice != nil {
		if voice, err = json.Marshal(msg.Voice); err != nil {
			return models.Message{}, err
		}
	}
	if msg.Reply != nil {
		if reply, err = json.Marshal(msg.Reply); err != nil {
			return models.Message{}, err
		}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, sender_id, sender_name, text, attachments, voice, reply, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ChannelID, msg.SenderID, msg.SenderName, msg.Text, attachments, voice, reply, msg.CreatedAt)
	return msg, err
}

// History returns the channel's messages in creation order, excluding
// hard-deleted rows. Soft-deleted messages keep their position with the
// marker body already applied.
func (r *MessageRepo) History(ctx context.Context, channelID string) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages WHERE channel_id=$1 ORDER BY created_at ASC`, channelID)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		if msg.Deleted {
			msg.Text = models.DeletedMarker
			msg.Attachments = nil
			msg.Voice = nil
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// EditMessage updates a message body in place.
func (r *MessageRepo) EditMessage(ctx context.Context, channelID, messageID, newText string, editedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET text=$1, edited=TRUE, edited_at=$2 WHERE id=$3 AND channel_id=$4 AND deleted=FALSE`,
		newText, editedAt, messageID, channelID)
	return checkAffected(res, err)
}

// SoftDelete marks the message deleted, preserving its row and position.
func (r *MessageRepo) SoftDelete(ctx context.Context, channelID, messageID, deletedBy string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted=TRUE, deleted_by=$1 WHERE id=$2 AND channel_id=$3`,
		deletedBy, messageID, channelID)
	return checkAffected(res, err)
}

// HardDelete removes the message row entirely (delete for everyone).
func (r *MessageRepo) HardDelete(ctx context.Context, channelID, messageID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id=$1 AND channel_id=$2`, messageID, channelID)
	return checkAffected(res, err)
}

// ToggleReaction adds the user's (emoji, user) pair or removes it when already
// present, and returns the full resulting list. The stored list is replaced
// wholesale so the broadcast payload is authoritative.
func (r *MessageRepo) ToggleReaction(ctx context.Context, channelID, messageID, userID, emoji string) ([]models.Reaction, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw,
		`SELECT reactions FROM messages WHERE id=$1 AND channel_id=$2`, messageID, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	var reactions []models.Reaction
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return nil, err
		}
	}

	next := make([]models.Reaction, 0, len(reactions)+1)
	removed := false
	for _, reaction := range reactions {
		if reaction.UserID == userID && reaction.Emoji == emoji {
			removed = true
			continue
		}
		next = append(next, reaction)
	}
	if !removed {
		next = append(next, models.Reaction{Emoji: emoji, UserID: userID})
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE messages SET reactions=$1 WHERE id=$2 AND channel_id=$3`, encoded, messageID, channelID)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ClearHistory deletes every message in the channel and reports the count.
func (r *MessageRepo) ClearHistory(ctx context.Context, channelID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id=$1`, channelID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
