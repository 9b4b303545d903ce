package pending

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/timeline"
)

// DefaultTTL bounds how long an unconfirmed local send is kept. Past it the
// entry is dropped so the UI stops showing phantom "still sending" state.
const DefaultTTL = 30 * time.Minute

// Entry is one locally-originated message awaiting gateway confirmation.
// ClientID identifies the entry locally; it is never the server id, so the
// record's fingerprint stays content-derived and matches the eventual
// server-confirmed record.
type Entry struct {
	ClientID string
	Msg      gateway.Message
	Added    time.Time
}

// Buffer holds pending sends per logical contact key.
type Buffer struct {
	mu      sync.Mutex
	entries map[string][]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewBuffer creates a buffer with the given TTL (DefaultTTL when <= 0).
func NewBuffer(ttl time.Duration) *Buffer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Buffer{
		entries: make(map[string][]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the configured time-to-live.
func (b *Buffer) TTL() time.Duration { return b.ttl }

// Append synthesizes a pending record for an outbound draft and stores it
// under the contact key. Returns the created entry.
func (b *Buffer) Append(key, remote string, content gateway.Content) Entry {
	now := b.now()
	e := Entry{
		ClientID: uuid.New().String(),
		Added:    now,
		Msg: gateway.Message{
			FromMe:    true,
			Timestamp: now.Unix(),
			Remote:    remote,
			Content:   content,
		},
	}
	b.mu.Lock()
	b.entries[key] = append(b.entries[key], e)
	b.mu.Unlock()
	return e
}

// Pending returns a copy of the pending entries for a contact.
func (b *Buffer) Pending(key string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.entries[key]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Confirm attaches the server-assigned id to a pending entry after a send
// ack. The entry's fingerprint switches to the id tier, so later fetches of
// the confirmed record retire it through the normal reconcile path.
func (b *Buffer) Confirm(key, clientID, serverID string) {
	if serverID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.entries[key]
	for i := range entries {
		if entries[i].ClientID == clientID {
			entries[i].Msg.ServerID = serverID
			return
		}
	}
}

// SetPending replaces the pending entries for a contact, typically with the
// stillPending result of Reconcile.
func (b *Buffer) SetPending(key string, entries []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(entries) == 0 {
		delete(b.entries, key)
		return
	}
	b.entries[key] = entries
}

// Reconcile merges server-confirmed records with pending ones into a single
// deduplicated, descending timeline, and returns the entries that are still
// pending: not yet confirmed by fingerprint AND younger than ttl. Entries
// retired by TTL disappear silently; they are not resurfaced as errors.
func Reconcile(server []gateway.Message, pend []Entry, ttl time.Duration, now time.Time) (merged []gateway.Message, stillPending []Entry) {
	// Index server records under both fingerprint forms: the id form for
	// plain dedupe, and the content form so a pending record (which has no
	// id yet) is recognized as confirmed.
	confirmed := make(map[string]bool, len(server)*2)
	for _, m := range server {
		confirmed[timeline.Fingerprint(m)] = true
		confirmed[timeline.ContentFingerprint(m)] = true
	}

	for _, e := range pend {
		if confirmed[timeline.Fingerprint(e.Msg)] {
			continue
		}
		if now.Sub(e.Added) >= ttl {
			continue
		}
		stillPending = append(stillPending, e)
	}

	union := make([]gateway.Message, 0, len(server)+len(stillPending))
	union = append(union, server...)
	for _, e := range stillPending {
		union = append(union, e.Msg)
	}
	merged = timeline.SortDesc(timeline.Dedupe(union))
	return merged, stillPending
}
