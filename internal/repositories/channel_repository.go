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

var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepository defines interactions for channel records.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error)
	GetChannel(ctx context.Context, channelID string) (models.Channel, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	TouchedSince(ctx context.Context, channelID string, since time.Time) (bool, error)
}

// ChannelRepo is a sqlx-backed repository.
type ChannelRepo struct {
	db *sqlx.DB
}

// NewChannelRepo constructs ChannelRepo.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

type channelRow struct {
	ID           string    `db:"id"`
	Kind         string    `db:"kind"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	Members      []byte    `db:"members"`
	Participants []byte    `db:"participants"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r channelRow) toModel() (models.Channel, error) {
	ch := models.Channel{
		ID:          r.ID,
		Kind:        models.ChannelKind(r.Kind),
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Members) > 0 {
		if err := json.Unmarshal(r.Members, &ch.Members); err != nil {
			return ch, err
		}
	}
	if len(r.Participants) > 0 {
		if err := json.Unmarshal(r.Participants, &ch.Participants); err != nil {
			return ch, err
		}
	}
	return ch, nil
}

// CreateChannel stores a channel, minting an id when the caller supplied none.
func (r *ChannelRepo) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	members, err := json.Marshal(emptyIfNil(ch.Members))
	if err != nil {
		return models.Channel{}, err
	}
	participants, err := json.Marshal(emptyIfNil(ch.Participants))
	if err != nil {
		return models.Channel{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO channels (id, kind, name, description, members, participants, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (id) DO NOTHING`,
		ch.ID, string(ch.Kind), ch.Name, ch.Description, members, participants, ch.CreatedAt)
	return ch, err
}

// GetChannel retrieves a single channel.
func (r *ChannelRepo) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	var row channelRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, kind, name, description, members, participants, created_at FROM channels WHERE id=$1`,
		channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return models.Channel{}, err
	}
	return row.toModel()
}

// ListChannels returns every channel record ordered by creation time.
func (r *ChannelRepo) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var rows []channelRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, kind, name, description, members, participants, created_at FROM channels ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	channels := make([]models.Channel, 0, len(rows))
	for _, row := range rows {
		ch, err := row.toModel()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// DeleteChannel removes a channel; its messages cascade.
func (r *ChannelRepo) DeleteChannel(ctx context.Context, channelID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, channelID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// TouchedSince reports whether the channel has any message newer than since.
// Used by the hub cleanup job to spare recently active channels.
func (r *ChannelRepo) TouchedSince(ctx context.Context, channelID string, since time.Time) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM messages WHERE channel_id=$1 AND created_at > $2`, channelID, since)
	return count > 0, err
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
