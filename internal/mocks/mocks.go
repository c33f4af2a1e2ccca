package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"teamsync/internal/models"
)

type ChannelRepositoryMock struct {
	mock.Mock
}

func (m *ChannelRepositoryMock) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	args := m.Called(ctx, ch)
	var created models.Channel
	if val := args.Get(0); val != nil {
		created = val.(models.Channel)
	}
	return created, args.Error(1)
}

func (m *ChannelRepositoryMock) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	args := m.Called(ctx, channelID)
	var ch models.Channel
	if val := args.Get(0); val != nil {
		ch = val.(models.Channel)
	}
	return ch, args.Error(1)
}

func (m *ChannelRepositoryMock) ListChannels(ctx context.Context) ([]models.Channel, error) {
	args := m.Called(ctx)
	var list []models.Channel
	if val := args.Get(0); val != nil {
		list = val.([]models.Channel)
	}
	return list, args.Error(1)
}

func (m *ChannelRepositoryMock) DeleteChannel(ctx context.Context, channelID string) error {
	args := m.Called(ctx, channelID)
	return args.Error(0)
}

func (m *ChannelRepositoryMock) TouchedSince(ctx context.Context, channelID string, since time.Time) (bool, error) {
	args := m.Called(ctx, channelID, since)
	return args.Bool(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Error(1)
}

func (m *MessageRepositoryMock) History(ctx context.Context, channelID string) ([]models.Message, error) {
	args := m.Called(ctx, channelID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, channelID, messageID, newText string, editedAt time.Time) error {
	args := m.Called(ctx, channelID, messageID, newText, editedAt)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, channelID, messageID, deletedBy string) error {
	args := m.Called(ctx, channelID, messageID, deletedBy)
	return args.Error(0)
}

func (m *MessageRepositoryMock) HardDelete(ctx context.Context, channelID, messageID string) error {
	args := m.Called(ctx, channelID, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ToggleReaction(ctx context.Context, channelID, messageID, userID, emoji string) ([]models.Reaction, error) {
	args := m.Called(ctx, channelID, messageID, userID, emoji)
	var reactions []models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.([]models.Reaction)
	}
	return reactions, args.Error(1)
}

func (m *MessageRepositoryMock) ClearHistory(ctx context.Context, channelID string) (int, error) {
	args := m.Called(ctx, channelID)
	return args.Int(0), args.Error(1)
}
