package meow

import (
	"context"

	"github.com/ravelhq/inboxd/internal/gateway"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// handleEvent translates whatsmeow events into mirror updates and push
// messages. History batches only feed the mirror; live messages also go out
// on the push channel.
func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		msg := a.parseLive(evt)
		a.mirror.ingest(evt.Info.Chat.ToNonAD().String(), msg, evt.Info.PushName)
		select {
		case a.events <- msg:
		default:
			a.logger.Warn("push channel full, dropping event", zap.String("id", msg.ServerID))
		}
	case *events.HistorySync:
		a.handleHistorySync(evt)
	case *events.Connected:
		a.logger.Info("gateway connected")
	case *events.Disconnected:
		a.logger.Warn("gateway disconnected")
	case *events.LoggedOut:
		a.logger.Warn("gateway logged out", zap.String("reason", evt.Reason.String()))
	}
}

func (a *Adapter) parseLive(evt *events.Message) gateway.Message {
	ctx := context.Background()
	return gateway.Message{
		ServerID:    evt.Info.ID,
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp.Unix(),
		Remote:      evt.Info.Chat.ToNonAD().String(),
		Participant: a.participantFor(ctx, evt.Info.Sender),
		SenderName:  evt.Info.PushName,
		Content:     decodeContent(evt.Message),
	}
}

// participantFor fills the alternate-address field: the phone-number form
// of a LID sender when the device store knows it.
func (a *Adapter) participantFor(ctx context.Context, sender types.JID) string {
	if alt := a.resolveAlt(ctx, sender); !alt.IsEmpty() {
		return alt.ToNonAD().String()
	}
	if sender.IsEmpty() {
		return ""
	}
	return sender.ToNonAD().String()
}

func (a *Adapter) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	count := 0
	for _, conv := range data.GetConversations() {
		chatAddr := conv.GetID()
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			participant := wmsg.GetKey().GetParticipant()
			a.mirror.ingest(chatAddr, gateway.Message{
				ServerID:    wmsg.GetKey().GetID(),
				FromMe:      wmsg.GetKey().GetFromMe(),
				Timestamp:   int64(wmsg.GetMessageTimestamp()),
				Remote:      chatAddr,
				Participant: participant,
				Content:     decodeContent(wmsg.GetMessage()),
			}, "")
			count++
		}
	}
	if count > 0 {
		a.logger.Info("history batch mirrored", zap.Int("messages", count))
	}
}
