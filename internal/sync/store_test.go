package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"teamsync/internal/models"
)

func testMessage(id, text string) models.Message {
	return models.Message{ID: id, ChannelID: "ch1", SenderID: "u2", Text: text, CreatedAt: time.Now()}
}

func TestJoinSnapshotReplacesWholesale(t *testing.T) {
	store := NewStore("u1")
	channel := models.Channel{ID: "ch1", Kind: models.ChannelPublic, Name: "general"}

	store.ApplyJoinSnapshot(channel, []models.Message{testMessage("m1", "old"), testMessage("m2", "older")})
	store.ApplyIncomingMessage("ch1", testMessage("m3", "live"))
	require.Len(t, store.Messages("ch1"), 3)

	// A rejoin snapshot is authoritative; local additions do not survive it.
	store.ApplyJoinSnapshot(channel, []models.Message{testMessage("m4", "fresh")})
	msgs := store.Messages("ch1")
	require.Len(t, msgs, 1)
	require.Equal(t, "m4", msgs[0].ID)
	require.Zero(t, store.Unread("ch1"))
	require.Empty(t, store.TypingUsers("ch1"))
}

func TestIncomingMessageUnreadTracking(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, nil)
	store.ApplyJoinSnapshot(models.Channel{ID: "ch2"}, nil)
	store.SetActive("ch1")

	var notified []string
	store.OnBackgroundMessage(func(channelID string, _ models.Message) {
		notified = append(notified, channelID)
	})

	store.ApplyIncomingMessage("ch1", testMessage("m1", "hi"))
	store.ApplyIncomingMessage("ch2", testMessage("m2", "psst"))
	store.ApplyIncomingMessage("ch2", testMessage("m3", "psst again"))

	require.Zero(t, store.Unread("ch1"))
	require.Equal(t, 2, store.Unread("ch2"))
	require.Equal(t, []string{"ch2", "ch2"}, notified)

	// Switching to the channel zeroes its count.
	store.SetActive("ch2")
	require.Zero(t, store.Unread("ch2"))
}

func TestIncomingMessageUnloadedChannelDropped(t *testing.T) {
	store := NewStore("u1")
	store.ApplyIncomingMessage("nope", testMessage("m1", "hi"))
	require.False(t, store.Loaded("nope"))
	require.Nil(t, store.Messages("nope"))
}

func TestApplyEdit(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, []models.Message{testMessage("m1", "typo")})

	at := time.Now()
	store.ApplyEdit("ch1", "m1", "fixed", at)

	msg := store.Messages("ch1")[0]
	require.Equal(t, "fixed", msg.Text)
	require.True(t, msg.Edited)
	require.NotNil(t, msg.EditedAt)
}

func TestSoftDeleteKeepsPosition(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, []models.Message{
		testMessage("m1", "first"),
		testMessage("m2", "second"),
		testMessage("m3", "third"),
	})

	store.ApplySoftDelete("ch1", "m2", "u2")

	msgs := store.Messages("ch1")
	require.Len(t, msgs, 3)
	require.Equal(t, "m2", msgs[1].ID)
	require.Equal(t, models.DeletedMarker, msgs[1].Text)
	require.True(t, msgs[1].Deleted)
	require.Equal(t, "u2", msgs[1].DeletedBy)
}

func TestHardDeleteRemovesEntirely(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, []models.Message{
		testMessage("m1", "first"),
		testMessage("m2", "second"),
	})

	store.ApplyHardDelete("ch1", "m1")

	msgs := store.Messages("ch1")
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)
}

func TestReactionReplaceIsTotal(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, []models.Message{testMessage("m1", "hi")})

	store.ApplyReactionReplace("ch1", "m1", []models.Reaction{
		{Emoji: "👍", UserID: "u2"},
		{Emoji: "🎉", UserID: "u3"},
	})
	require.Len(t, store.Messages("ch1")[0].Reactions, 2)

	// Replace, never merge: a shorter list is the new truth.
	store.ApplyReactionReplace("ch1", "m1", []models.Reaction{{Emoji: "👍", UserID: "u2"}})
	reactions := store.Messages("ch1")[0].Reactions
	require.Len(t, reactions, 1)
	require.Equal(t, "👍", reactions[0].Emoji)
}

func TestTypingExcludesLocalUser(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, nil)

	store.SetTyping("ch1", "u1", true)
	store.SetTyping("ch1", "u2", true)
	require.Equal(t, []string{"u2"}, store.TypingUsers("ch1"))

	store.ReplaceTyping("ch1", []string{"u1", "u3"})
	require.Equal(t, []string{"u3"}, store.TypingUsers("ch1"))

	store.SetTyping("ch1", "u3", false)
	store.ReplaceTyping("ch1", nil)
	require.Empty(t, store.TypingUsers("ch1"))
}

func TestRemoveChannelReportsActive(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, nil)
	store.ApplyJoinSnapshot(models.Channel{ID: "ch2"}, nil)
	store.SetActive("ch1")

	require.False(t, store.RemoveChannel("ch2"))
	require.True(t, store.RemoveChannel("ch1"))
	require.Empty(t, store.Active())
	require.False(t, store.RemoveChannel("ch1"))
}

func TestClearChannelKeepsChannel(t *testing.T) {
	store := NewStore("u1")
	store.ApplyJoinSnapshot(models.Channel{ID: "ch1"}, []models.Message{testMessage("m1", "hi")})

	store.ClearChannel("ch1")

	require.True(t, store.Loaded("ch1"))
	require.Empty(t, store.Messages("ch1"))
}
