package gateway

// ContentKind tags the decoded payload variant of a message.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentAudio    ContentKind = "audio"
	ContentImage    ContentKind = "image"
	ContentDocument ContentKind = "document"
	ContentUnknown  ContentKind = "unknown"
)

// Content is the decoded message payload. Raw gateway payloads are decoded
// into this variant exactly once, at the adapter boundary; the untyped
// payload never crosses into the engine.
type Content struct {
	Kind     ContentKind
	Text     string // body for text, caption for media
	FileName string
	MimeType string
}

// Proxy returns the cheapest content-derived identity proxy: the text or
// caption when present, otherwise the filename.
func (c Content) Proxy() string {
	if c.Text != "" {
		return c.Text
	}
	return c.FileName
}

// Message is one timeline entry. ServerID is empty for locally-originated
// records that the gateway has not yet confirmed.
type Message struct {
	ServerID    string
	FromMe      bool
	Timestamp   int64 // unix seconds
	Remote      string
	Participant string // alternate address of the counterparty, when the gateway supplies one
	SenderName  string
	Content     Content
}

// RawConversation is one entry of the gateway conversation list, exactly as
// returned: the address may be either identifier form, and nothing links the
// two forms of the same contact.
type RawConversation struct {
	Address      string
	Name         string
	AvatarURL    string
	LastActivity int64 // unix seconds
	Unread       int
	Channel      string
	LastMessage  *Message
}
