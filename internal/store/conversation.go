package store

import (
	"strings"
	"time"

	"github.com/ravelhq/inboxd/internal/identity"
)

// UpsertConversation persists a merged conversation snapshot so a restart
// can serve the last known list before the first poll completes.
func (db *DB) UpsertConversation(workspace string, c *identity.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (workspace, key, name, avatar_url, last_activity, unread, send_target, linked_opaque, channel, siblings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace, key) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			unread = excluded.unread,
			send_target = excluded.send_target,
			linked_opaque = CASE WHEN excluded.linked_opaque != '' THEN excluded.linked_opaque ELSE conversations.linked_opaque END,
			channel = excluded.channel,
			siblings = excluded.siblings,
			updated_at = excluded.updated_at`,
		workspace, c.Key, c.Name, c.AvatarURL, c.LastActivity, c.Unread,
		c.SendTarget, c.LinkedOpaque, c.Channel, strings.Join(c.Siblings, " "), now)
	return err
}

// ListConversations returns snapshots sorted by last activity descending.
func (db *DB) ListConversations(workspace string) ([]identity.Conversation, error) {
	rows, err := db.Query(`
		SELECT key, name, avatar_url, last_activity, unread, send_target, linked_opaque, channel, siblings
		FROM conversations
		WHERE workspace = ?
		ORDER BY last_activity DESC`, workspace)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []identity.Conversation
	for rows.Next() {
		var c identity.Conversation
		var siblings string
		if err := rows.Scan(&c.Key, &c.Name, &c.AvatarURL, &c.LastActivity, &c.Unread,
			&c.SendTarget, &c.LinkedOpaque, &c.Channel, &siblings); err != nil {
			return nil, err
		}
		if siblings != "" {
			c.Siblings = strings.Fields(siblings)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
