package identity

import (
	"context"
	"sort"

	"github.com/ravelhq/inboxd/internal/gateway"
	"go.uber.org/zap"
)

// Hint carries caller-known context into phone resolution.
type Hint struct {
	KnownPhone  string
	Name        string
	Siblings    []string
	LastMessage *gateway.Message
}

// Resolver resolves an address to phone digits. Phone returns ("", false)
// when every strategy is exhausted; that is "resolution pending", not an
// error. Learn persists an externally discovered mapping.
type Resolver interface {
	Phone(ctx context.Context, address string, hint Hint) (string, bool)
	Learn(address, digits string, siblings []string)
}

// Verifier is the gateway's bulk existence check.
type Verifier interface {
	VerifyAddresses(ctx context.Context, addresses []string) ([]gateway.VerifyResult, error)
}

// Tunables are the heuristics knobs of the canonicalizer. The shadow window
// is a best-effort pattern match against gateway-internal noise, not a
// guaranteed-correct filter, hence configurable.
type Tunables struct {
	MinPhoneDigits   int
	ShadowWindowSecs int64
}

// Canonicalizer collapses raw gateway conversation lists into logical
// contacts. Merge is deterministic and idempotent.
type Canonicalizer struct {
	resolver Resolver
	verifier Verifier
	tun      Tunables
	logger   *zap.Logger
}

// NewCanonicalizer creates a canonicalizer. verifier may be nil, in which
// case the bulk-verification step is skipped.
func NewCanonicalizer(resolver Resolver, verifier Verifier, tun Tunables, logger *zap.Logger) *Canonicalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tun.MinPhoneDigits <= 0 {
		tun.MinPhoneDigits = 8
	}
	if tun.ShadowWindowSecs <= 0 {
		tun.ShadowWindowSecs = 15
	}
	return &Canonicalizer{resolver: resolver, verifier: verifier, tun: tun, logger: logger}
}

type rawRec struct {
	addr string
	conv gateway.RawConversation
}

// Merge normalizes, deduplicates and collapses a raw conversation list into
// logical contacts, most recently active first.
func (c *Canonicalizer) Merge(ctx context.Context, raw []gateway.RawConversation) []Conversation {
	recs := c.normalize(raw)
	recs = c.suppressShadows(recs)

	phones := c.resolveAll(ctx, recs)

	byKey, order := c.group(recs, phones)

	// Resolution above may have written new cache entries (bulk verify,
	// deep scans) that link records which landed under different keys.
	// Canonicalization is not guaranteed to complete in one pass, so
	// regroup once with the now-warm mappings.
	byKey, order = c.regroup(ctx, byKey, order)

	out := make([]Conversation, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity > out[j].LastActivity
	})
	return out
}

func (c *Canonicalizer) normalize(raw []gateway.RawConversation) []rawRec {
	recs := make([]rawRec, 0, len(raw))
	for _, rc := range raw {
		addr, ok := Normalize(rc.Address, c.tun.MinPhoneDigits)
		if !ok {
			// Malformed addresses are noise: dropped, never stored,
			// never surfaced.
			continue
		}
		recs = append(recs, rawRec{addr: addr, conv: rc})
	}
	return recs
}

// suppressShadows drops gateway-internal routing chatter: an unnamed
// outbound-only phone record whose activity lands within the shadow window
// of an unnamed opaque record is not a real second contact.
func (c *Canonicalizer) suppressShadows(recs []rawRec) []rawRec {
	drop := make(map[int]bool)
	for i, opaque := range recs {
		if !IsOpaque(opaque.addr) {
			continue
		}
		for j, shadow := range recs {
			if i == j || drop[j] || !IsPhone(shadow.addr) {
				continue
			}
			if !isShadowOf(shadow.conv, opaque.conv, c.tun.ShadowWindowSecs) {
				continue
			}
			c.logger.Debug("suppressing shadow record",
				zap.String("shadow", shadow.addr),
				zap.String("opaque", opaque.addr))
			drop[j] = true
		}
	}
	if len(drop) == 0 {
		return recs
	}
	kept := recs[:0]
	for i, r := range recs {
		if !drop[i] {
			kept = append(kept, r)
		}
	}
	return kept
}

func isShadowOf(shadow, opaque gateway.RawConversation, windowSecs int64) bool {
	if shadow.Name != "" || shadow.Unread != 0 {
		return false
	}
	if shadow.LastMessage == nil || !shadow.LastMessage.FromMe {
		return false
	}
	delta := shadow.LastActivity - opaque.LastActivity
	if delta < 0 {
		delta = -delta
	}
	return delta <= windowSecs
}

// resolveAll computes phone digits per record: direct for phone addresses,
// tiered resolution for opaque ones, then one bulk verify call for whatever
// is still unresolved.
func (c *Canonicalizer) resolveAll(ctx context.Context, recs []rawRec) []string {
	phones := make([]string, len(recs))
	var unresolved []int
	for i, r := range recs {
		switch {
		case IsGroupish(r.addr):
			// Group identifiers never merge by phone.
		case IsPhone(r.addr):
			if d := Digits(r.addr); ValidPhone(d) {
				phones[i] = d
			}
		default:
			hint := Hint{Name: r.conv.Name, LastMessage: r.conv.LastMessage}
			if d, ok := c.resolver.Phone(ctx, r.addr, hint); ok {
				phones[i] = d
			} else {
				unresolved = append(unresolved, i)
			}
		}
	}

	if c.verifier == nil || len(unresolved) == 0 {
		return phones
	}

	addrs := make([]string, 0, len(unresolved))
	for _, i := range unresolved {
		addrs = append(addrs, recs[i].addr)
	}
	results, err := c.verifier.VerifyAddresses(ctx, addrs)
	if err != nil {
		// Verification is an optimization; resolution stays pending.
		c.logger.Warn("bulk address verification failed", zap.Error(err))
		return phones
	}
	byQuery := make(map[string]gateway.VerifyResult, len(results))
	for _, res := range results {
		byQuery[res.Query] = res
	}
	for _, i := range unresolved {
		res, ok := byQuery[recs[i].addr]
		if !ok || !res.Exists || !IsPhone(res.Canonical) {
			continue
		}
		d := Digits(res.Canonical)
		if !ValidPhone(d) {
			continue
		}
		phones[i] = d
		c.resolver.Learn(recs[i].addr, d, nil)
	}
	return phones
}

func (c *Canonicalizer) group(recs []rawRec, phones []string) (map[string]*Conversation, []string) {
	byKey := make(map[string]*Conversation)
	var order []string
	for i, r := range recs {
		key := AddrKey(r.addr)
		if !IsGroupish(r.addr) {
			key = KeyFor(r.addr, phones[i])
		}
		conv, ok := byKey[key]
		if !ok {
			conv = &Conversation{Key: key, Channel: r.conv.Channel}
			byKey[key] = conv
			order = append(order, key)
		}
		mergeRecord(conv, r, phones[i])
	}
	return byKey, order
}

// regroup re-keys address-keyed conversations whose phone became known only
// after the first grouping, and merges any pairs that now collapse.
func (c *Canonicalizer) regroup(ctx context.Context, byKey map[string]*Conversation, order []string) (map[string]*Conversation, []string) {
	out := make(map[string]*Conversation, len(byKey))
	var outOrder []string
	for _, key := range order {
		conv := byKey[key]
		finalKey := key
		if !IsPhoneKey(key) && IsOpaque(conv.SendTarget) {
			hint := Hint{Name: conv.Name, Siblings: conv.Siblings, LastMessage: conv.LastMessage}
			if d, ok := c.resolver.Phone(ctx, conv.SendTarget, hint); ok {
				finalKey = PhoneKey(d)
			}
		}
		existing, ok := out[finalKey]
		if !ok {
			conv.Key = finalKey
			out[finalKey] = conv
			outOrder = append(outOrder, finalKey)
			continue
		}
		mergeConversations(existing, conv)
	}
	return out, outOrder
}

// mergeRecord folds one raw record into a conversation: the most recently
// active record's scalar fields win, unread counts sum, siblings accumulate.
func mergeRecord(conv *Conversation, r rawRec, phone string) {
	newer := r.conv.LastActivity >= conv.LastActivity
	if newer {
		conv.LastActivity = r.conv.LastActivity
		if r.conv.LastMessage != nil {
			m := *r.conv.LastMessage
			conv.LastMessage = &m
		}
	}
	// An empty name never displaces a known one, regardless of recency.
	if r.conv.Name != "" && (newer || conv.Name == "") {
		conv.Name = r.conv.Name
	}
	if r.conv.AvatarURL != "" && (newer || conv.AvatarURL == "") {
		conv.AvatarURL = r.conv.AvatarURL
	}
	conv.Unread += r.conv.Unread
	conv.AddSibling(r.addr)
	if ValidPhone(phone) {
		conv.AddSibling(PhoneAddress(phone))
	}
	if IsOpaque(r.addr) {
		conv.LinkedOpaque = r.addr
	}
	conv.SendTarget = pickSendTarget(conv)
}

func mergeConversations(dst, src *Conversation) {
	newer := src.LastActivity >= dst.LastActivity
	if newer {
		dst.LastActivity = src.LastActivity
		dst.LastMessage = src.LastMessage
	}
	if src.Name != "" && (newer || dst.Name == "") {
		dst.Name = src.Name
	}
	if src.AvatarURL != "" && (newer || dst.AvatarURL == "") {
		dst.AvatarURL = src.AvatarURL
	}
	dst.Unread += src.Unread
	for _, s := range src.Siblings {
		dst.AddSibling(s)
	}
	if dst.LinkedOpaque == "" {
		dst.LinkedOpaque = src.LinkedOpaque
	}
	dst.SendTarget = pickSendTarget(dst)
}

// pickSendTarget prefers a phone-derived sibling over the opaque form when
// one is known; the opaque form stays reachable via LinkedOpaque.
func pickSendTarget(conv *Conversation) string {
	if p := conv.PhoneSibling(); p != "" {
		return p
	}
	if len(conv.Siblings) > 0 {
		return conv.Siblings[0]
	}
	return conv.SendTarget
}
