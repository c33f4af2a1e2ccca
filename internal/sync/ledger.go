package sync

// Ledger is the per-channel record of already-applied message identifiers.
// It gates create-message events only; edits, deletes and reactions are
// idempotent by construction and are never checked against it.
//
// The ledger is scoped to a channel join: Clear runs immediately before a
// fresh join snapshot is applied and the snapshot's ids repopulate it, so it
// never grows without bound and never suppresses a legitimately re-sent
// message after a rejoin.
type Ledger struct {
	seen map[string]map[string]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]map[string]struct{})}
}

// Seen reports whether the message id was already applied on the channel.
func (l *Ledger) Seen(channelID, messageID string) bool {
	ids, ok := l.seen[channelID]
	if !ok {
		return false
	}
	_, dup := ids[messageID]
	return dup
}

// MarkSeen records the message id against the channel.
func (l *Ledger) MarkSeen(channelID, messageID string) {
	ids, ok := l.seen[channelID]
	if !ok {
		ids = make(map[string]struct{})
		l.seen[channelID] = ids
	}
	ids[messageID] = struct{}{}
}

// Clear forgets everything recorded for the channel.
func (l *Ledger) Clear(channelID string) {
	delete(l.seen, channelID)
}
