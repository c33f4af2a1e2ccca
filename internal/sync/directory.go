package sync

import (
	"sort"
	"strings"

	"teamsync/internal/models"
)

// Directory is the presented channel list, grouped for display.
type Directory struct {
	Public []models.Channel
	Team   []models.Channel
	Direct []models.Channel
}

const directFallbackName = "Direct Message"

// DeriveDirectory builds the presented directory from raw channel records.
// Direct channels describing the same participant pair collapse to one entry
// (canonical key: sorted, deduplicated participant set); later duplicates
// merge field by field, last non-empty wins, so a partial update never
// erases a previously known display name.
func DeriveDirectory(raw []models.Channel, currentUserID string, knownUsers map[string]string) Directory {
	var dir Directory
	directByKey := make(map[string]int)

	for _, ch := range raw {
		switch ch.Kind {
		case models.ChannelDirect:
			key := directKey(ch)
			if idx, ok := directByKey[key]; ok {
				dir.Direct[idx] = mergeChannels(dir.Direct[idx], ch)
				continue
			}
			directByKey[key] = len(dir.Direct)
			dir.Direct = append(dir.Direct, ch)
		case models.ChannelTeam, models.ChannelPrivate:
			dir.Team = append(dir.Team, ch)
		default:
			dir.Public = append(dir.Public, ch)
		}
	}

	for i := range dir.Direct {
		dir.Direct[i].Name = resolveDirectName(dir.Direct[i], currentUserID, knownUsers)
	}

	sort.SliceStable(dir.Public, func(i, j int) bool { return dir.Public[i].Name < dir.Public[j].Name })
	sort.SliceStable(dir.Team, func(i, j int) bool { return dir.Team[i].Name < dir.Team[j].Name })
	return dir
}

// directKey is the canonical identity of a direct channel: its participant
// set, sorted and deduplicated, so {A,B} and {B,A} collapse.
func directKey(ch models.Channel) string {
	participants := participantSet(ch)
	if len(participants) == 0 {
		return ch.ID
	}
	return strings.Join(participants, "|")
}

func participantSet(ch models.Channel) []string {
	ids := ch.Participants
	if len(ids) == 0 {
		ids = parseSyntheticDM(ch.ID)
	}
	seen := make(map[string]struct{}, len(ids))
	set := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	sort.Strings(set)
	return set
}

// parseSyntheticDM extracts participant ids from a dm-<id>-<id> style
// channel identifier.
func parseSyntheticDM(channelID string) []string {
	if !strings.HasPrefix(channelID, "dm-") {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(channelID, "dm-"), "-")
	if len(parts) < 2 {
		return nil
	}
	return []string{parts[0], strings.Join(parts[1:], "-")}
}

// mergeChannels folds a later duplicate record into the kept one, field by
// field, last non-empty wins.
func mergeChannels(kept, next models.Channel) models.Channel {
	if next.Name != "" && !isPlaceholderName(next.Name) {
		kept.Name = next.Name
	}
	if next.Description != "" {
		kept.Description = next.Description
	}
	if len(next.Members) > 0 {
		kept.Members = next.Members
	}
	if len(next.Participants) > 0 {
		kept.Participants = next.Participants
	}
	if !next.CreatedAt.IsZero() && kept.CreatedAt.IsZero() {
		kept.CreatedAt = next.CreatedAt
	}
	return kept
}

// resolveDirectName picks a display name for a direct channel, in order:
// an explicit non-placeholder name on the record, the other participant's
// known name, the other participant parsed from a synthetic dm id, then a
// generic label. A self-conversation gets a "(Me)" suffix.
func resolveDirectName(ch models.Channel, currentUserID string, knownUsers map[string]string) string {
	participants := participantSet(ch)

	if selfConversation(participants, currentUserID) {
		name := knownUsers[currentUserID]
		if name == "" {
			name = currentUserID
		}
		return name + " (Me)"
	}

	if ch.Name != "" && !isPlaceholderName(ch.Name) {
		return ch.Name
	}

	other := otherParticipant(participants, currentUserID)
	if other != "" {
		if name, ok := knownUsers[other]; ok && name != "" {
			return name
		}
		return other
	}
	return directFallbackName
}

func selfConversation(participants []string, currentUserID string) bool {
	if len(participants) == 0 {
		return false
	}
	for _, id := range participants {
		if id != currentUserID {
			return false
		}
	}
	return true
}

func otherParticipant(participants []string, currentUserID string) string {
	for _, id := range participants {
		if id != currentUserID {
			return id
		}
	}
	return ""
}

func isPlaceholderName(name string) bool {
	if name == directFallbackName {
		return true
	}
	return strings.HasPrefix(name, "dm-")
}
