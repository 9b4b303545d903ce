package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "inbox." matches every inbox event.
const (
	KindInboxUpdated    = "inbox.updated"
	KindTimelineUpdated = "inbox.timeline_updated"
	KindConnChanged     = "conn.status_changed"
	KindSendQueued      = "send.queued"
	KindSendDelivered   = "send.delivered"
	KindSendFailed      = "send.failed"
	KindMessageReceived = "gateway.message"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
