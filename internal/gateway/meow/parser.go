package meow

import (
	"github.com/ravelhq/inboxd/internal/gateway"
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// decodeContent decodes a raw protocol message into the engine's tagged
// content variant. This is the only place the untyped payload is inspected;
// everything past this boundary sees gateway.Content.
func decodeContent(msg *waE2E.Message) gateway.Content {
	if msg == nil {
		return gateway.Content{Kind: gateway.ContentUnknown}
	}
	if c := msg.GetConversation(); c != "" {
		return gateway.Content{Kind: gateway.ContentText, Text: c}
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return gateway.Content{Kind: gateway.ContentText, Text: ext.GetText()}
	}
	if img := msg.GetImageMessage(); img != nil {
		return gateway.Content{
			Kind:     gateway.ContentImage,
			Text:     img.GetCaption(),
			MimeType: img.GetMimetype(),
		}
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return gateway.Content{
			Kind:     gateway.ContentAudio,
			MimeType: aud.GetMimetype(),
		}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return gateway.Content{
			Kind:     gateway.ContentDocument,
			Text:     doc.GetCaption(),
			FileName: doc.GetFileName(),
			MimeType: doc.GetMimetype(),
		}
	}
	return gateway.Content{Kind: gateway.ContentUnknown}
}
