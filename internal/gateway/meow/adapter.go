package meow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/identity"
	"github.com/ravelhq/inboxd/internal/workspace"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter implements gateway.Gateway on top of the whatsmeow client. The
// WhatsApp protocol has no server-side "list my chats" call; chats and
// messages arrive through live and history-sync events, so the adapter keeps
// an in-memory mirror and serves list calls from it.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	mirror    *mirror
	events    chan gateway.Message
}

// NewAdapter creates an adapter for the given workspace. The device must
// already be paired; pairing is outside the engine's scope.
func NewAdapter(ctx context.Context, workspaceName string, logger *zap.Logger) (*Adapter, error) {
	wastore.SetOSInfo("inboxd", [3]uint32{0, 1, 0})

	dbPath := workspace.GatewayDBPath(workspaceName)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create gateway session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
		mirror:    newMirror(),
		events:    make(chan gateway.Message, 256),
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to gateway")
	return a.client.Connect()
}

// Disconnect terminates the connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from gateway")
	a.client.Disconnect()
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// ListConversations returns the mirrored raw conversation list.
func (a *Adapter) ListConversations(_ context.Context) ([]gateway.RawConversation, error) {
	return a.mirror.conversations(), nil
}

// ListMessages returns up to limit mirrored messages for an address, most
// recent first.
func (a *Adapter) ListMessages(_ context.Context, address string, limit int) ([]gateway.Message, error) {
	return a.mirror.messages(address, limit), nil
}

// SendText sends a text message. A server rejection for a nonexistent
// recipient maps to the soft gateway.ErrRecipientNotInDirectory.
func (a *Adapter) SendText(ctx context.Context, address, text string) (string, error) {
	return a.send(ctx, address, &waE2E.Message{
		Conversation: proto.String(text),
	})
}

// SendMedia uploads the payload and sends it as the matching message kind.
func (a *Adapter) SendMedia(ctx context.Context, address string, media gateway.Media) (string, error) {
	msg, err := a.buildMediaMessage(ctx, media)
	if err != nil {
		return "", err
	}
	return a.send(ctx, address, msg)
}

func (a *Adapter) send(ctx context.Context, address string, msg *waE2E.Message) (string, error) {
	to, err := parseAddress(address)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		if isRecipientMissing(err) {
			return "", fmt.Errorf("send to %s: %w", address, gateway.ErrRecipientNotInDirectory)
		}
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func (a *Adapter) buildMediaMessage(ctx context.Context, media gateway.Media) (*waE2E.Message, error) {
	kind := whatsmeow.MediaDocument
	switch media.Kind {
	case gateway.ContentImage:
		kind = whatsmeow.MediaImage
	case gateway.ContentAudio:
		kind = whatsmeow.MediaAudio
	}
	up, err := a.client.Upload(ctx, media.Data, kind)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	switch media.Kind {
	case gateway.ContentImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(media.MimeType),
			Caption:       proto.String(media.Caption),
		}}, nil
	case gateway.ContentAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(media.MimeType),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(media.MimeType),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(media.Caption),
		}}, nil
	}
}

// VerifyAddresses bulk-checks address existence. Opaque addresses resolve
// through the device store's LID->PN mapping; phone-derived addresses and
// bare digits go through the directory check.
func (a *Adapter) VerifyAddresses(ctx context.Context, addresses []string) ([]gateway.VerifyResult, error) {
	results := make([]gateway.VerifyResult, 0, len(addresses))
	var phoneQueries []string
	phoneIdx := make(map[string]string) // query sent to directory -> original address

	for _, addr := range addresses {
		if identity.IsOpaque(addr) {
			results = append(results, a.verifyOpaque(ctx, addr))
			continue
		}
		q := "+" + identity.Digits(addr)
		phoneQueries = append(phoneQueries, q)
		phoneIdx[q] = addr
	}

	if len(phoneQueries) > 0 {
		resp, err := a.client.IsOnWhatsApp(ctx, phoneQueries)
		if err != nil {
			return results, fmt.Errorf("directory check: %w", err)
		}
		for _, r := range resp {
			orig, ok := phoneIdx[r.Query]
			if !ok {
				orig = r.Query
			}
			vr := gateway.VerifyResult{
				Query:  orig,
				Exists: r.IsIn,
			}
			if !r.JID.IsEmpty() {
				vr.Canonical = r.JID.ToNonAD().String()
			}
			if r.VerifiedName != nil && r.VerifiedName.Details != nil {
				vr.DisplayName = r.VerifiedName.Details.GetVerifiedName()
			}
			results = append(results, vr)
		}
	}
	return results, nil
}

func (a *Adapter) verifyOpaque(ctx context.Context, addr string) gateway.VerifyResult {
	vr := gateway.VerifyResult{Query: addr}
	jid, err := parseAddress(addr)
	if err != nil {
		return vr
	}
	if a.client.Store == nil || a.client.Store.LIDs == nil {
		return vr
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return vr
	}
	vr.Exists = true
	vr.Canonical = pn.ToNonAD().String()
	return vr
}

// Contacts returns the gateway address book from the device store.
func (a *Adapter) Contacts(ctx context.Context) ([]gateway.ContactEntry, error) {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	entries := make([]gateway.ContactEntry, 0, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		entries = append(entries, gateway.ContactEntry{
			Address: jid.ToNonAD().String(),
			Name:    name,
		})
	}
	return entries, nil
}

// ConnectionState reports the poller-visible connection state.
func (a *Adapter) ConnectionState(_ context.Context) gateway.ConnState {
	switch {
	case a.client.IsConnected():
		return gateway.ConnOpen
	case a.IsLoggedIn():
		return gateway.ConnConnecting
	default:
		return gateway.ConnDisconnected
	}
}

// ServerVersion returns the protocol version the client negotiates with.
func (a *Adapter) ServerVersion(_ context.Context) gateway.Version {
	v := wastore.GetWAVersion()
	return gateway.Version{v[0], v[1], v[2]}
}

// Events returns the push channel of new-message events. Delivery is
// best-effort: a full channel drops rather than blocks the event handler.
func (a *Adapter) Events() <-chan gateway.Message {
	return a.events
}

// resolveAlt returns the phone-number JID behind a LID sender, or the zero
// JID when no mapping is known.
func (a *Adapter) resolveAlt(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return types.EmptyJID
	}
	if a.client.Store == nil || a.client.Store.LIDs == nil {
		return types.EmptyJID
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil {
		return types.EmptyJID
	}
	return pn
}

func parseAddress(address string) (types.JID, error) {
	if !strings.ContainsRune(address, '@') {
		// Bare digits: the server accepts them as a default-server user.
		address = address + identity.PhoneSuffix
	}
	return types.ParseJID(address)
}

// isRecipientMissing classifies the server's item-not-found rejection, which
// is a routing fact about the candidate address, not a transport failure.
func isRecipientMissing(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "item-not-found") || strings.Contains(s, "recipient not found")
}
