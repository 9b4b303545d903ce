package timeline

import (
	"fmt"

	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/identity"
)

// Fingerprint produces a stable deduplication key for a message record.
//
// Records carrying a server-assigned id are keyed by that id alone, so a
// later fetch of the same record with updated fields still deduplicates.
// Records without an id (locally-pending sends, some history rows) fall back
// to a composite of direction, timestamp, digit-only addresses and the
// content proxy. Two distinct messages with identical text sent within the
// same second collide under the composite form; the gateway protocol offers
// nothing to disambiguate them, so the collision is accepted rather than
// papered over.
func Fingerprint(m gateway.Message) string {
	if m.ServerID != "" {
		return "id:" + m.ServerID
	}
	return ContentFingerprint(m)
}

// ContentFingerprint is the composite, content-derived form regardless of
// whether a server id exists. Reconciliation matches a pending record (which
// has no id yet) against server records through this form.
func ContentFingerprint(m gateway.Message) string {
	dir := "in"
	if m.FromMe {
		dir = "out"
	}
	return fmt.Sprintf("fp:%s|%d|%s|%s|%s",
		dir,
		m.Timestamp,
		identity.Digits(m.Remote),
		identity.Digits(m.Participant),
		m.Content.Proxy(),
	)
}
