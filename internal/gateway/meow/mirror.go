package meow

import (
	"sort"
	"sync"

	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/timeline"
)

// mirrorCap bounds the per-conversation message history kept in memory.
const mirrorCap = 500

// mirror is the adapter's in-memory view of chats and messages, built from
// live and history-sync events. It deliberately performs no identity
// merging: it serves the raw, possibly-duplicated view the engine's
// canonicalizer expects as input.
type mirror struct {
	mu    sync.Mutex
	convs map[string]*mirrorConv
}

type mirrorConv struct {
	raw  gateway.RawConversation
	msgs []gateway.Message
}

func newMirror() *mirror {
	return &mirror{convs: make(map[string]*mirrorConv)}
}

func (m *mirror) ingest(chatAddr string, msg gateway.Message, pushName string) {
	if chatAddr == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[chatAddr]
	if !ok {
		c = &mirrorConv{raw: gateway.RawConversation{Address: chatAddr, Channel: "whatsapp"}}
		m.convs[chatAddr] = c
	}
	if pushName != "" && !msg.FromMe && c.raw.Name == "" {
		c.raw.Name = pushName
	}
	if msg.Timestamp >= c.raw.LastActivity {
		c.raw.LastActivity = msg.Timestamp
		mm := msg
		c.raw.LastMessage = &mm
	}
	if !msg.FromMe {
		c.raw.Unread++
	}

	c.msgs = append(c.msgs, msg)
	c.msgs = timeline.SortDesc(timeline.Dedupe(c.msgs))
	if len(c.msgs) > mirrorCap {
		c.msgs = c.msgs[:mirrorCap]
	}
}

func (m *mirror) conversations() []gateway.RawConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gateway.RawConversation, 0, len(m.convs))
	for _, c := range m.convs {
		rc := c.raw
		if rc.LastMessage != nil {
			mm := *rc.LastMessage
			rc.LastMessage = &mm
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity != out[j].LastActivity {
			return out[i].LastActivity > out[j].LastActivity
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (m *mirror) messages(address string, limit int) []gateway.Message {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[address]
	if !ok {
		return nil
	}
	n := len(c.msgs)
	if n > limit {
		n = limit
	}
	out := make([]gateway.Message, n)
	copy(out, c.msgs[:n])
	return out
}
