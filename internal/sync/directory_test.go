package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"teamsync/internal/models"
)

func TestDeriveDirectoryGroupsByKind(t *testing.T) {
	raw := []models.Channel{
		{ID: "c1", Kind: models.ChannelPublic, Name: "general"},
		{ID: "c2", Kind: models.ChannelTeam, Name: "backend"},
		{ID: "c3", Kind: models.ChannelPrivate, Name: "leads"},
		{ID: "c4", Kind: models.ChannelDirect, Participants: []string{"u1", "u2"}},
	}

	dir := DeriveDirectory(raw, "u1", nil)

	require.Len(t, dir.Public, 1)
	require.Len(t, dir.Team, 2)
	require.Len(t, dir.Direct, 1)
}

func TestDirectChannelsCollapseByParticipantSet(t *testing.T) {
	raw := []models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1", "u2"}},
		{ID: "d2", Kind: models.ChannelDirect, Participants: []string{"u2", "u1"}},
		{ID: "d3", Kind: models.ChannelDirect, Participants: []string{"u2", "u1", "u2"}},
	}

	dir := DeriveDirectory(raw, "u1", map[string]string{"u2": "Bob"})

	require.Len(t, dir.Direct, 1)
	require.Equal(t, "Bob", dir.Direct[0].Name)
}

func TestDirectDuplicateMergeLastNonEmptyWins(t *testing.T) {
	raw := []models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1", "u2"}, Name: "Bob"},
		{ID: "d2", Kind: models.ChannelDirect, Participants: []string{"u2", "u1"}, Description: "catchup"},
	}

	dir := DeriveDirectory(raw, "u1", nil)

	require.Len(t, dir.Direct, 1)
	// The later record's empty name does not erase the earlier one.
	require.Equal(t, "Bob", dir.Direct[0].Name)
	require.Equal(t, "catchup", dir.Direct[0].Description)
}

func TestResolveDirectNameChain(t *testing.T) {
	// Explicit non-placeholder name wins.
	dir := DeriveDirectory([]models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1", "u2"}, Name: "Bobby"},
	}, "u1", map[string]string{"u2": "Bob"})
	require.Equal(t, "Bobby", dir.Direct[0].Name)

	// A placeholder name falls through to the known user name.
	dir = DeriveDirectory([]models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1", "u2"}, Name: "dm-u1-u2"},
	}, "u1", map[string]string{"u2": "Bob"})
	require.Equal(t, "Bob", dir.Direct[0].Name)

	// Unknown user falls back to the raw id.
	dir = DeriveDirectory([]models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1", "u2"}},
	}, "u1", nil)
	require.Equal(t, "u2", dir.Direct[0].Name)
}

func TestSyntheticDMIDParsedForParticipants(t *testing.T) {
	dir := DeriveDirectory([]models.Channel{
		{ID: "dm-u1-u2", Kind: models.ChannelDirect},
	}, "u1", map[string]string{"u2": "Bob"})

	require.Len(t, dir.Direct, 1)
	require.Equal(t, "Bob", dir.Direct[0].Name)
}

func TestSelfConversationGetsMeSuffix(t *testing.T) {
	dir := DeriveDirectory([]models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1", "u1"}},
	}, "u1", map[string]string{"u1": "Alice"})
	require.Equal(t, "Alice (Me)", dir.Direct[0].Name)

	dir = DeriveDirectory([]models.Channel{
		{ID: "d1", Kind: models.ChannelDirect, Participants: []string{"u1"}},
	}, "u1", nil)
	require.Equal(t, "u1 (Me)", dir.Direct[0].Name)
}

func TestPublicAndTeamSortedByName(t *testing.T) {
	dir := DeriveDirectory([]models.Channel{
		{ID: "c1", Kind: models.ChannelPublic, Name: "zoo"},
		{ID: "c2", Kind: models.ChannelPublic, Name: "general"},
		{ID: "c3", Kind: models.ChannelTeam, Name: "ops"},
		{ID: "c4", Kind: models.ChannelTeam, Name: "backend"},
	}, "u1", nil)

	require.Equal(t, "general", dir.Public[0].Name)
	require.Equal(t, "zoo", dir.Public[1].Name)
	require.Equal(t, "backend", dir.Team[0].Name)
	require.Equal(t, "ops", dir.Team[1].Name)
}
