package identity

import (
	"slices"

	"github.com/ravelhq/inboxd/internal/gateway"
)

// Conversation is one logical contact's latest-known state. Conversations
// are created on first sighting, merged on every later fetch, and never
// deleted, only superseded.
type Conversation struct {
	Key          string
	Name         string
	AvatarURL    string
	LastActivity int64
	Unread       int
	Channel      string

	// SendTarget is the best current guess of the address for outbound
	// sends. LinkedOpaque retains the opaque sibling even once a phone is
	// known: some gateway versions route more reliably through it for
	// contacts that never exchanged a phone-address message.
	SendTarget   string
	LinkedOpaque string

	// Siblings holds every raw address observed for this logical contact.
	Siblings []string

	LastMessage *gateway.Message
}

// AddSibling records a raw address for this contact, keeping Siblings free
// of duplicates.
func (c *Conversation) AddSibling(addr string) {
	if addr == "" || slices.Contains(c.Siblings, addr) {
		return
	}
	c.Siblings = append(c.Siblings, addr)
}

// PhoneSibling returns the first phone-derived sibling address, or "".
func (c *Conversation) PhoneSibling() string {
	for _, s := range c.Siblings {
		if IsPhone(s) {
			return s
		}
	}
	return ""
}

// Clone returns a copy safe to hand to callers.
func (c Conversation) Clone() Conversation {
	c.Siblings = slices.Clone(c.Siblings)
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}
