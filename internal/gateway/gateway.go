package gateway

import (
	"context"
	"errors"
)

// ErrRecipientNotInDirectory is the soft send failure: the gateway reports
// that the target address does not exist. Callers treat it as "try the next
// candidate", not as a hard error.
var ErrRecipientNotInDirectory = errors.New("recipient not in gateway directory")

// ConnState is the connection state reported by a poll.
type ConnState string

const (
	ConnOpen         ConnState = "open"
	ConnConnecting   ConnState = "connecting"
	ConnDisconnected ConnState = "disconnected"
)

// Version is the gateway server version triple.
type Version [3]uint32

// Before reports whether v predates other.
func (v Version) Before(other Version) bool {
	for i := range v {
		if v[i] != other[i] {
			return v[i] < other[i]
		}
	}
	return false
}

// VerifyResult is one entry of a bulk address-existence check.
type VerifyResult struct {
	Query       string
	Exists      bool
	Canonical   string // canonical address the gateway routes through, may be phone-derived
	DisplayName string
}

// ContactEntry is one address book entry.
type ContactEntry struct {
	Address string
	Name    string
}

// Media is an outbound media payload.
type Media struct {
	Kind     ContentKind
	Data     []byte
	FileName string
	MimeType string
	Caption  string
}

// Gateway is the messaging gateway consumed by the engine. All calls are
// request/response; Events is the best-effort push channel. Implementations
// own their timeouts; the engine never imposes deadlines of its own.
type Gateway interface {
	ListConversations(ctx context.Context) ([]RawConversation, error)
	ListMessages(ctx context.Context, address string, limit int) ([]Message, error)
	SendText(ctx context.Context, address, text string) (serverID string, err error)
	SendMedia(ctx context.Context, address string, media Media) (serverID string, err error)
	VerifyAddresses(ctx context.Context, addresses []string) ([]VerifyResult, error)
	Contacts(ctx context.Context) ([]ContactEntry, error)
	ConnectionState(ctx context.Context) ConnState
	ServerVersion(ctx context.Context) Version
	Events() <-chan Message
}
