package inbox

import (
	"context"
	"testing"

	"github.com/ravelhq/inboxd/internal/bus"
	"github.com/ravelhq/inboxd/internal/config"
	"github.com/ravelhq/inboxd/internal/delivery"
	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/identity"
	"github.com/ravelhq/inboxd/internal/pending"
	"github.com/ravelhq/inboxd/internal/status"
)

const (
	anaOpaque = "8123456789012@lid"
	anaPhone  = "5511987654321@s.whatsapp.net"
	anaDigits = "5511987654321"
	anaKey    = "phone:" + anaDigits
)

type fakeGateway struct {
	convs     []gateway.RawConversation
	messages  map[string][]gateway.Message
	reject    map[string]bool
	events    chan gateway.Message
	sent      []string
	listCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages: make(map[string][]gateway.Message),
		reject:   make(map[string]bool),
		events:   make(chan gateway.Message, 16),
	}
}

func (f *fakeGateway) ListConversations(context.Context) ([]gateway.RawConversation, error) {
	f.listCalls++
	return f.convs, nil
}

func (f *fakeGateway) ListMessages(_ context.Context, address string, _ int) ([]gateway.Message, error) {
	return f.messages[address], nil
}

func (f *fakeGateway) SendText(_ context.Context, address, _ string) (string, error) {
	f.sent = append(f.sent, address)
	if f.reject[address] {
		return "", gateway.ErrRecipientNotInDirectory
	}
	return "3EB0SENT", nil
}

func (f *fakeGateway) SendMedia(ctx context.Context, address string, _ gateway.Media) (string, error) {
	return f.SendText(ctx, address, "")
}

func (f *fakeGateway) VerifyAddresses(context.Context, []string) ([]gateway.VerifyResult, error) {
	return nil, nil
}
func (f *fakeGateway) Contacts(context.Context) ([]gateway.ContactEntry, error) { return nil, nil }
func (f *fakeGateway) ConnectionState(context.Context) gateway.ConnState        { return gateway.ConnOpen }
func (f *fakeGateway) ServerVersion(context.Context) gateway.Version {
	return gateway.Version{2, 3000, 0}
}
func (f *fakeGateway) Events() <-chan gateway.Message { return f.events }

type stubResolver struct {
	answers map[string]string
}

func (s *stubResolver) Phone(_ context.Context, address string, _ identity.Hint) (string, bool) {
	d, ok := s.answers[address]
	return d, ok
}
func (s *stubResolver) Learn(string, string, []string) {}

func testEngine(t *testing.T, gw *fakeGateway) *Engine {
	t.Helper()
	b := bus.New()
	canon := identity.NewCanonicalizer(&stubResolver{answers: map[string]string{anaOpaque: anaDigits}}, nil, identity.Tunables{}, nil)
	router := delivery.NewRouter(gw, nil, nil)
	buf := pending.NewBuffer(0)
	machine := status.NewMachine(b)
	cfg := config.Defaults()
	return NewEngine("test", gw, canon, router, buf, nil, b, machine, cfg, nil)
}

func anaConversation() identity.Conversation {
	return identity.Conversation{
		Key:          anaKey,
		Name:         "Ana",
		SendTarget:   anaPhone,
		LinkedOpaque: anaOpaque,
		Siblings:     []string{anaOpaque, anaPhone},
		LastActivity: 1000,
	}
}

func TestApplyTimelineWritesOpenConversation(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	e.convs = []identity.Conversation{anaConversation()}
	e.openKey = anaKey

	server := []gateway.Message{
		{ServerID: "A", Timestamp: 10, Remote: anaPhone, Content: gateway.Content{Kind: gateway.ContentText, Text: "hi"}},
	}
	e.applyTimeline(anaKey, server)

	got := e.Timeline()
	if len(got) != 1 || got[0].ServerID != "A" {
		t.Fatalf("Timeline = %+v, want the fetched record", got)
	}
}

// A fetch launched for a conversation that is no longer open must not leak
// into the visible timeline of the one that is.
func TestApplyTimelineDiscardsStaleResult(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	bob := identity.Conversation{
		Key:        "phone:5511911112222",
		SendTarget: "5511911112222@s.whatsapp.net",
		Siblings:   []string{"5511911112222@s.whatsapp.net"},
	}
	e.convs = []identity.Conversation{anaConversation(), bob}
	e.openKey = bob.Key

	// Result of a fetch that was started while Ana was open.
	stale := []gateway.Message{
		{ServerID: "STALE", Timestamp: 10, Remote: anaPhone, Content: gateway.Content{Kind: gateway.ContentText, Text: "for ana"}},
	}
	e.applyTimeline(anaKey, stale)

	if got := e.Timeline(); len(got) != 0 {
		t.Fatalf("Timeline = %+v, want empty: stale result must be discarded", got)
	}
}

// Even when the visible write is discarded, the server confirmation still
// retires the matching pending entry of its own conversation.
func TestStaleResultStillRetiresPending(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	e.convs = []identity.Conversation{anaConversation()}
	e.openKey = "phone:5511911112222" // something else is open

	entry := e.buf.Append(anaKey, anaPhone, gateway.Content{Kind: gateway.ContentText, Text: "hello"})
	server := []gateway.Message{{
		ServerID:  "CONF",
		FromMe:    true,
		Timestamp: entry.Msg.Timestamp,
		Remote:    anaPhone,
		Content:   entry.Msg.Content,
	}}
	e.applyTimeline(anaKey, server)

	if got := e.buf.Pending(anaKey); len(got) != 0 {
		t.Fatalf("Pending = %+v, want retired despite discarded visible write", got)
	}
}

func TestSendTextOptimisticThenConfirmed(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	e.convs = []identity.Conversation{anaConversation()}
	e.openKey = anaKey

	res, err := e.SendText(context.Background(), anaKey, "hello")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if res.Outcome != delivery.Delivered {
		t.Fatalf("Outcome = %q, want delivered", res.Outcome)
	}

	pend := e.buf.Pending(anaKey)
	if len(pend) != 1 {
		t.Fatalf("Pending = %+v, want the confirmed entry still buffered", pend)
	}
	if pend[0].Msg.ServerID != res.ServerID {
		t.Errorf("pending ServerID = %q, want %q after confirmation", pend[0].Msg.ServerID, res.ServerID)
	}

	got := e.Timeline()
	if len(got) != 1 || got[0].Content.Text != "hello" {
		t.Fatalf("Timeline = %+v, want the optimistic record visible", got)
	}
}

func TestSendTextUnknownKey(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)

	res, err := e.SendText(context.Background(), "phone:000", "hello")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if res.Outcome != delivery.Unresolved {
		t.Fatalf("Outcome = %q, want unresolved for unknown contact", res.Outcome)
	}
}

func TestAppendIncomingCreatesContact(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)

	e.AppendIncoming(gateway.Message{
		ServerID:   "N1",
		Timestamp:  500,
		Remote:     anaPhone,
		SenderName: "Ana",
		Content:    gateway.Content{Kind: gateway.ContentText, Text: "oi"},
	})

	convs := e.Conversations()
	if len(convs) != 1 {
		t.Fatalf("Conversations = %+v, want the new contact", convs)
	}
	c := convs[0]
	if c.Key != anaKey {
		t.Errorf("Key = %q, want %q", c.Key, anaKey)
	}
	if c.Unread != 1 {
		t.Errorf("Unread = %d, want 1", c.Unread)
	}
	if c.Name != "Ana" {
		t.Errorf("Name = %q, want sender name", c.Name)
	}
}

func TestAppendIncomingOpenConversationNoUnread(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	e.convs = []identity.Conversation{anaConversation()}
	e.openKey = anaKey

	e.AppendIncoming(gateway.Message{
		ServerID:  "N2",
		Timestamp: 2000,
		Remote:    anaPhone,
		Content:   gateway.Content{Kind: gateway.ContentText, Text: "oi"},
	})

	convs := e.Conversations()
	if convs[0].Unread != 0 {
		t.Errorf("Unread = %d, want 0 while conversation is open", convs[0].Unread)
	}
	got := e.Timeline()
	if len(got) != 1 || got[0].ServerID != "N2" {
		t.Fatalf("Timeline = %+v, want the pushed record", got)
	}
}

func TestAppendIncomingBumpsActivity(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	e.convs = []identity.Conversation{anaConversation()}

	e.AppendIncoming(gateway.Message{
		ServerID:  "N3",
		Timestamp: 5000,
		Remote:    anaPhone,
		Content:   gateway.Content{Kind: gateway.ContentText, Text: "oi"},
	})

	convs := e.Conversations()
	if convs[0].LastActivity != 5000 {
		t.Errorf("LastActivity = %d, want 5000", convs[0].LastActivity)
	}
	if convs[0].Unread != 1 {
		t.Errorf("Unread = %d, want 1 for closed conversation", convs[0].Unread)
	}
}

// When resolution catches up and the open conversation's key upgrades from
// the address form to the phone form, the open view and its pending entries
// must follow the contact.
func TestApplyConversationsMigratesOpenKey(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)
	oldKey := identity.AddrKey(anaOpaque)
	e.convs = []identity.Conversation{{
		Key:        oldKey,
		SendTarget: anaOpaque,
		Siblings:   []string{anaOpaque},
	}}
	e.openKey = oldKey
	e.buf.Append(oldKey, anaOpaque, gateway.Content{Kind: gateway.ContentText, Text: "queued"})

	e.applyConversations([]identity.Conversation{anaConversation()})

	if got := e.OpenKey(); got != anaKey {
		t.Fatalf("OpenKey = %q, want upgraded %q", got, anaKey)
	}
	if got := e.buf.Pending(anaKey); len(got) != 1 {
		t.Errorf("Pending under new key = %+v, want migrated entry", got)
	}
	if got := e.buf.Pending(oldKey); len(got) != 0 {
		t.Errorf("Pending under old key = %+v, want empty", got)
	}
}

func TestPollTickGuardsReentry(t *testing.T) {
	gw := newFakeGateway()
	e := testEngine(t, gw)

	if !e.pollBusy.CompareAndSwap(false, true) {
		t.Fatal("pollBusy unexpectedly set")
	}
	// A tick while a poll is in flight must not start another one.
	e.tick(context.Background())
	if gw.listCalls != 0 {
		t.Error("tick started a refresh despite in-flight poll")
	}
	e.pollBusy.Store(false)
}

func TestPollMergesAndPublishes(t *testing.T) {
	gw := newFakeGateway()
	gw.convs = []gateway.RawConversation{
		{Address: anaOpaque, Name: "Ana", Unread: 1, LastActivity: 1000},
		{Address: anaPhone, Unread: 1, LastActivity: 900},
	}
	e := testEngine(t, gw)
	events, unsub := e.bus.Subscribe(bus.KindInboxUpdated, 4)
	defer unsub()

	e.poll(context.Background())

	convs := e.Conversations()
	if len(convs) != 1 {
		t.Fatalf("Conversations = %+v, want both forms merged into one", convs)
	}
	if convs[0].Key != anaKey {
		t.Errorf("Key = %q, want %q", convs[0].Key, anaKey)
	}
	if convs[0].Unread != 2 {
		t.Errorf("Unread = %d, want summed 2", convs[0].Unread)
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.KindInboxUpdated {
			t.Errorf("event kind = %q", evt.Kind)
		}
	default:
		t.Error("no inbox.updated event published")
	}
}
