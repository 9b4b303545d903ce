package resolve

import (
	"context"
	"strings"

	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/identity"
	"go.uber.org/zap"
)

// Cache is the persistent phone-mapping cache, scoped per workspace.
type Cache interface {
	GetPhone(workspace, rawAddress string) (string, error)
	PutPhone(workspace, rawAddress, digits string) error
}

// HistoryFetcher fetches a bounded page of message history. This is the one
// resolution path allowed to perform a network round-trip.
type HistoryFetcher interface {
	ListMessages(ctx context.Context, address string, limit int) ([]gateway.Message, error)
}

// AddressBook lists the gateway's contact entries.
type AddressBook interface {
	Contacts(ctx context.Context) ([]gateway.ContactEntry, error)
}

// Resolver discovers phone numbers for opaque addresses by trying strategies
// in strict priority order and short-circuiting on the first success. Every
// success is persisted before returning, keyed by every known sibling of the
// contact so later lookups through a different sibling also hit.
type Resolver struct {
	workspace string
	cache     Cache
	history   HistoryFetcher
	contacts  AddressBook
	scanLimit int
	logger    *zap.Logger
}

// New creates a resolver. history and contacts may be nil; the corresponding
// strategies are then skipped.
func New(workspace string, cache Cache, history HistoryFetcher, contacts AddressBook, scanLimit int, logger *zap.Logger) *Resolver {
	if scanLimit <= 0 {
		scanLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		workspace: workspace,
		cache:     cache,
		history:   history,
		contacts:  contacts,
		scanLimit: scanLimit,
		logger:    logger,
	}
}

// Phone resolves an address to phone digits. Returns ("", false) when every
// strategy is exhausted: callers must treat that as "resolution pending",
// not as an error, and keep addressing the contact by its opaque form.
// Strategy failures never bubble; they just mean "try the next one".
func (r *Resolver) Phone(ctx context.Context, address string, hint identity.Hint) (string, bool) {
	// 1. Direct parse: the address itself carries the phone.
	if identity.IsPhone(address) {
		if d := identity.Digits(address); identity.ValidPhone(d) {
			r.Learn(address, d, hint.Siblings)
			return d, true
		}
	}

	// 2. Attached hint from a previous resolution of this contact.
	if identity.ValidPhone(hint.KnownPhone) {
		r.Learn(address, hint.KnownPhone, hint.Siblings)
		return hint.KnownPhone, true
	}

	// 3. Metadata of the most recent message record.
	if d, ok := phoneFromMessage(hint.LastMessage); ok {
		r.Learn(address, d, hint.Siblings)
		return d, true
	}

	// 4. Persistent cache, through the address or any known sibling.
	if d, ok := r.fromCache(address, hint.Siblings); ok {
		return d, true
	}

	// 5. Deep scan of a bounded history page (network allowed here).
	if d, ok := r.deepScan(ctx, address); ok {
		r.Learn(address, d, hint.Siblings)
		return d, true
	}

	// 6. Exact display-name match against the address book, last resort.
	if d, ok := r.nameMatch(ctx, hint.Name); ok {
		r.Learn(address, d, hint.Siblings)
		return d, true
	}

	return "", false
}

// Learn persists a discovered mapping for the address and every known
// sibling. Cache write failures are logged and ignored: the cache only
// speeds resolution up, it is not a source of truth.
func (r *Resolver) Learn(address, digits string, siblings []string) {
	if !identity.ValidPhone(digits) {
		return
	}
	targets := append([]string{address}, siblings...)
	for _, t := range targets {
		if t == "" {
			continue
		}
		if err := r.cache.PutPhone(r.workspace, t, digits); err != nil {
			r.logger.Warn("phone cache write failed",
				zap.String("address", t), zap.Error(err))
		}
	}
}

func (r *Resolver) fromCache(address string, siblings []string) (string, bool) {
	lookups := append([]string{address}, siblings...)
	for _, l := range lookups {
		if l == "" {
			continue
		}
		d, err := r.cache.GetPhone(r.workspace, l)
		if err != nil {
			r.logger.Warn("phone cache read failed", zap.String("address", l), zap.Error(err))
			continue
		}
		if identity.ValidPhone(d) {
			// Make sure the queried address benefits next time too.
			if l != address {
				r.Learn(address, d, nil)
			}
			return d, true
		}
	}
	return "", false
}

func (r *Resolver) deepScan(ctx context.Context, address string) (string, bool) {
	if r.history == nil {
		return "", false
	}
	msgs, err := r.history.ListMessages(ctx, address, r.scanLimit)
	if err != nil {
		r.logger.Debug("deep scan fetch failed", zap.String("address", address), zap.Error(err))
		return "", false
	}
	for _, m := range msgs {
		if d, ok := phoneFromMessage(&m); ok {
			return d, true
		}
	}
	return "", false
}

func (r *Resolver) nameMatch(ctx context.Context, name string) (string, bool) {
	if r.contacts == nil || name == "" {
		return "", false
	}
	entries, err := r.contacts.Contacts(ctx)
	if err != nil {
		r.logger.Debug("address book fetch failed", zap.Error(err))
		return "", false
	}
	var match string
	for _, e := range entries {
		if !strings.EqualFold(e.Name, name) {
			continue
		}
		if match != "" {
			// Ambiguous: more than one candidate, give up.
			return "", false
		}
		match = e.Address
	}
	if match == "" || !identity.IsPhone(match) {
		return "", false
	}
	d := identity.Digits(match)
	if !identity.ValidPhone(d) {
		return "", false
	}
	return d, true
}

func phoneFromMessage(m *gateway.Message) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, addr := range []string{m.Participant, m.Remote} {
		if identity.IsPhone(addr) {
			if d := identity.Digits(addr); identity.ValidPhone(d) {
				return d, true
			}
		}
	}
	return "", false
}
