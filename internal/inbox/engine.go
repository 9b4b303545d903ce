package inbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ravelhq/inboxd/internal/bus"
	"github.com/ravelhq/inboxd/internal/config"
	"github.com/ravelhq/inboxd/internal/delivery"
	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/identity"
	"github.com/ravelhq/inboxd/internal/pending"
	"github.com/ravelhq/inboxd/internal/status"
	"github.com/ravelhq/inboxd/internal/store"
	"go.uber.org/zap"
)

// Engine is the UI-facing store over the identity and reconciliation
// machinery: it owns the merged conversation list, the currently open
// conversation, and its visible timeline. All mutation goes through the
// merge/dedupe functions so the pending buffer and the visible timeline
// never drift apart.
type Engine struct {
	workspace string
	gw        gateway.Gateway
	canon     *identity.Canonicalizer
	router    *delivery.Router
	buf       *pending.Buffer
	db        *store.DB
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger

	pollInterval time.Duration
	fetchLimit   int

	mu      sync.Mutex
	convs   []identity.Conversation
	openKey string
	// server holds the gateway-confirmed records of the open conversation;
	// visible is derived from server plus the pending buffer. Keeping the
	// two views separate stops a pending record from "confirming" itself.
	server  []gateway.Message
	visible []gateway.Message

	pollBusy atomic.Bool
	cancel   context.CancelFunc
}

// NewEngine creates the engine. db may be nil (no snapshot persistence).
func NewEngine(workspace string, gw gateway.Gateway, canon *identity.Canonicalizer, router *delivery.Router, buf *pending.Buffer, db *store.DB, b *bus.Bus, machine *status.Machine, cfg config.Engine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		workspace:    workspace,
		gw:           gw,
		canon:        canon,
		router:       router,
		buf:          buf,
		db:           db,
		bus:          b,
		machine:      machine,
		logger:       logger,
		pollInterval: time.Duration(cfg.PollIntervalSecs) * time.Second,
		fetchLimit:   cfg.HistoryPageSize,
	}
}

// Start loads the persisted snapshot and launches the poll loop and the
// push-event subscriber.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	if e.db != nil {
		snap, err := e.db.ListConversations(e.workspace)
		if err != nil {
			e.logger.Warn("snapshot load failed", zap.Error(err))
		} else if len(snap) > 0 {
			e.mu.Lock()
			e.convs = snap
			e.mu.Unlock()
			e.logger.Info("serving persisted snapshot", zap.Int("conversations", len(snap)))
		}
	}

	go e.pollLoop(ctx)
	go e.subscribePush(ctx)
}

// Stop stops the engine's background tasks.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Prime immediately rather than waiting one full interval.
	e.tick(ctx)
	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one poll cycle unless the previous one is still in flight: a
// slow network must not pile up concurrent refreshes.
func (e *Engine) tick(ctx context.Context) {
	if !e.pollBusy.CompareAndSwap(false, true) {
		e.logger.Debug("poll tick skipped, previous still in flight")
		return
	}
	go func() {
		defer e.pollBusy.Store(false)
		e.poll(ctx)
	}()
}

func (e *Engine) poll(ctx context.Context) {
	e.machine.Observe(connToStatus(e.gw.ConnectionState(ctx)))

	raw, err := e.gw.ListConversations(ctx)
	if err != nil {
		e.logger.Warn("conversation list fetch failed", zap.Error(err))
		return
	}
	merged := e.canon.Merge(ctx, raw)
	e.applyConversations(merged)
	e.persistSnapshot(merged)
	e.bus.Publish(bus.Event{Kind: bus.KindInboxUpdated, Timestamp: time.Now(), Payload: len(merged)})
}

func (e *Engine) subscribePush(ctx context.Context) {
	events := e.gw.Events()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			e.AppendIncoming(msg)
		case <-ctx.Done():
			return
		}
	}
}

// Conversations returns the merged conversation list, most recent first.
func (e *Engine) Conversations() []identity.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]identity.Conversation, len(e.convs))
	for i, c := range e.convs {
		out[i] = c.Clone()
	}
	return out
}

// Timeline returns the visible timeline of the open conversation.
func (e *Engine) Timeline() []gateway.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]gateway.Message, len(e.visible))
	copy(out, e.visible)
	return out
}

// OpenKey returns the logical key of the currently open conversation.
func (e *Engine) OpenKey() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openKey
}

// Open switches the active conversation and triggers an asynchronous
// message fetch for it. Switching does not cancel an earlier in-flight
// fetch; the race guard in applyTimeline invalidates its application.
func (e *Engine) Open(ctx context.Context, key string) {
	e.mu.Lock()
	e.openKey = key
	e.server = nil
	e.visible = nil
	addr := fetchAddress(e.findLocked(key))
	e.mu.Unlock()

	if addr == "" {
		e.logger.Warn("open: unknown conversation", zap.String("key", key))
		return
	}
	go e.loadTimeline(ctx, key, addr)
}

func (e *Engine) loadTimeline(ctx context.Context, key, addr string) {
	msgs, err := e.gw.ListMessages(ctx, addr, e.fetchLimit)
	if err != nil {
		e.logger.Warn("timeline fetch failed", zap.String("key", key), zap.Error(err))
		return
	}
	e.applyTimeline(key, msgs)
}

// applyTimeline merges server records with the pending buffer and writes
// the visible timeline, but only if the target conversation is still the
// open one. A stale result is discarded silently: that is correct behavior,
// not a failure. Pending retirement is applied either way, since a server
// confirmation stays valid for its own contact regardless of what the UI
// shows right now.
func (e *Engine) applyTimeline(key string, server []gateway.Message) {
	merged, still := pending.Reconcile(server, e.buf.Pending(key), e.buf.TTL(), time.Now())
	e.buf.SetPending(key, still)

	e.mu.Lock()
	if e.openKey != key {
		e.mu.Unlock()
		e.logger.Debug("discarding stale timeline result",
			zap.String("for", key), zap.String("open", e.openKey))
		return
	}
	e.server = server
	e.visible = merged
	e.mu.Unlock()

	e.bus.Publish(bus.Event{Kind: bus.KindTimelineUpdated, Timestamp: time.Now(), Payload: key})
}

// SendText queues an optimistic pending record, routes the send through the
// delivery router, and on success feeds the learned identity back into the
// conversation list.
func (e *Engine) SendText(ctx context.Context, key, text string) (delivery.Result, error) {
	return e.send(key, gateway.Content{Kind: gateway.ContentText, Text: text},
		func(conv *identity.Conversation) (delivery.Result, error) {
			return e.router.SendText(ctx, conv, text)
		})
}

// SendMedia routes a media message through the same optimistic path as text.
func (e *Engine) SendMedia(ctx context.Context, key string, media gateway.Media) (delivery.Result, error) {
	content := gateway.Content{
		Kind:     media.Kind,
		Text:     media.Caption,
		FileName: media.FileName,
		MimeType: media.MimeType,
	}
	return e.send(key, content, func(conv *identity.Conversation) (delivery.Result, error) {
		return e.router.SendMedia(ctx, conv, media)
	})
}

func (e *Engine) send(key string, content gateway.Content, route func(*identity.Conversation) (delivery.Result, error)) (delivery.Result, error) {
	e.mu.Lock()
	conv := e.findLocked(key)
	if conv == nil {
		e.mu.Unlock()
		return delivery.Result{Outcome: delivery.Unresolved}, nil
	}
	snapshot := conv.Clone()
	e.mu.Unlock()

	entry := e.buf.Append(key, snapshot.SendTarget, content)
	e.bus.Publish(bus.Event{Kind: bus.KindSendQueued, Timestamp: time.Now(), Payload: entry.ClientID})
	e.spliceOpen(key)

	res, err := route(&snapshot)
	if err != nil {
		e.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Timestamp: time.Now(), Payload: entry.ClientID})
		return res, err
	}

	switch res.Outcome {
	case delivery.Delivered:
		e.buf.Confirm(key, entry.ClientID, res.ServerID)
		e.propagateIdentity(key, &snapshot)
		e.spliceOpen(key)
		e.bus.Publish(bus.Event{Kind: bus.KindSendDelivered, Timestamp: time.Now(), Payload: res.ServerID})
	default:
		e.logger.Info("send not delivered",
			zap.String("key", key),
			zap.String("outcome", string(res.Outcome)),
			zap.Strings("attempted", res.Attempted))
		e.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Timestamp: time.Now(), Payload: string(res.Outcome)})
	}
	return res, nil
}

// AppendIncoming is the entry point for push-channel events. It applies the
// same race guard as any other timeline write.
func (e *Engine) AppendIncoming(msg gateway.Message) {
	addr, ok := identity.Normalize(msg.Remote, identity.MinPhoneLen)
	if !ok {
		return
	}

	e.mu.Lock()
	key := ""
	for i := range e.convs {
		c := &e.convs[i]
		if hasSibling(c, addr) {
			key = c.Key
			if msg.Timestamp >= c.LastActivity {
				c.LastActivity = msg.Timestamp
				m := msg
				c.LastMessage = &m
			}
			if !msg.FromMe && c.Key != e.openKey {
				c.Unread++
			}
			break
		}
	}
	if key == "" {
		// First sighting of this contact: create a minimal record; the
		// next poll will canonicalize it properly.
		phone := ""
		if identity.IsPhone(addr) {
			phone = identity.Digits(addr)
		}
		key = identity.KeyFor(addr, phone)
		m := msg
		c := identity.Conversation{
			Key:          key,
			Name:         msg.SenderName,
			LastActivity: msg.Timestamp,
			SendTarget:   addr,
			Siblings:     []string{addr},
			LastMessage:  &m,
		}
		if identity.IsOpaque(addr) {
			c.LinkedOpaque = addr
		}
		if !msg.FromMe {
			c.Unread = 1
		}
		e.convs = append(e.convs, c)
	}
	open := e.openKey == key
	server := e.server
	e.mu.Unlock()

	e.bus.Publish(bus.Event{Kind: bus.KindMessageReceived, Timestamp: time.Now(), Payload: key})
	if open {
		e.applyTimeline(key, append(server, msg))
	}
}

// spliceOpen rebuilds the visible timeline of the open conversation from
// its current server view plus the pending buffer. Both views always pass
// through the same reconcile function.
func (e *Engine) spliceOpen(key string) {
	e.mu.Lock()
	if e.openKey != key {
		e.mu.Unlock()
		return
	}
	server := e.server
	e.mu.Unlock()
	e.applyTimeline(key, server)
}

func (e *Engine) applyConversations(merged []identity.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A logical key never downgrades from phone to address form, but the
	// open conversation may upgrade when resolution catches up. Follow it
	// so the open view and pending buffer stay attached to the contact.
	if e.openKey != "" && !identity.IsPhoneKey(e.openKey) {
		for i := range merged {
			if identity.IsPhoneKey(merged[i].Key) && hasSibling(&merged[i], openAddr(e.openKey)) {
				old := e.openKey
				e.openKey = merged[i].Key
				e.buf.SetPending(e.openKey, append(e.buf.Pending(e.openKey), e.buf.Pending(old)...))
				e.buf.SetPending(old, nil)
				break
			}
		}
	}
	e.convs = merged
}

func (e *Engine) propagateIdentity(key string, updated *identity.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	winning := updated.SendTarget
	digits := identity.Digits(winning)
	for i := range e.convs {
		c := &e.convs[i]
		share := c.Key == key || hasSibling(c, winning)
		if !share && identity.IsPhone(winning) && identity.ValidPhone(digits) {
			share = identity.KeyPhone(c.Key) == digits
		}
		if !share {
			continue
		}
		c.SendTarget = winning
		c.AddSibling(winning)
		for _, s := range updated.Siblings {
			c.AddSibling(s)
		}
		if c.LinkedOpaque == "" {
			c.LinkedOpaque = updated.LinkedOpaque
		}
		if e.db != nil {
			if err := e.db.UpsertConversation(e.workspace, c); err != nil {
				e.logger.Warn("snapshot write failed", zap.String("key", c.Key), zap.Error(err))
			}
		}
	}
}

func (e *Engine) persistSnapshot(convs []identity.Conversation) {
	if e.db == nil {
		return
	}
	for i := range convs {
		if err := e.db.UpsertConversation(e.workspace, &convs[i]); err != nil {
			e.logger.Warn("snapshot write failed", zap.String("key", convs[i].Key), zap.Error(err))
		}
	}
}

// findLocked returns a pointer into the conversation list; callers hold mu.
func (e *Engine) findLocked(key string) *identity.Conversation {
	for i := range e.convs {
		if e.convs[i].Key == key {
			return &e.convs[i]
		}
	}
	return nil
}

func fetchAddress(conv *identity.Conversation) string {
	if conv == nil {
		return ""
	}
	if conv.SendTarget != "" {
		return conv.SendTarget
	}
	return conv.LinkedOpaque
}

func hasSibling(c *identity.Conversation, addr string) bool {
	for _, s := range c.Siblings {
		if s == addr {
			return true
		}
	}
	return false
}

func openAddr(key string) string {
	// addr-form keys embed the raw address after the prefix.
	const prefix = "addr:"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return ""
}

func connToStatus(s gateway.ConnState) status.State {
	switch s {
	case gateway.ConnOpen:
		return status.Open
	case gateway.ConnConnecting:
		return status.Connecting
	default:
		return status.Disconnected
	}
}
