package store

import (
	"database/sql"
	"time"

	"github.com/ravelhq/inboxd/internal/identity"
)

// PutPhone stores a learned rawAddress -> phone mapping for a workspace.
// Only digit strings of length 10-15 are ever stored; malformed candidates
// are rejected silently, per the cache contract.
func (db *DB) PutPhone(workspace, rawAddress, digits string) error {
	if !identity.ValidPhone(digits) || rawAddress == "" {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO phone_map (workspace, raw_address, phone, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace, raw_address) DO UPDATE SET
			phone = excluded.phone,
			updated_at = excluded.updated_at`,
		workspace, rawAddress, digits, now)
	return err
}

// GetPhone returns the cached phone digits for an address, or "" when the
// mapping is unknown.
func (db *DB) GetPhone(workspace, rawAddress string) (string, error) {
	var digits string
	err := db.QueryRow(`
		SELECT phone FROM phone_map WHERE workspace = ? AND raw_address = ?`,
		workspace, rawAddress).Scan(&digits)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return digits, nil
}

// PhoneMapCount returns the number of cached mappings for a workspace.
func (db *DB) PhoneMapCount(workspace string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM phone_map WHERE workspace = ?`, workspace).Scan(&count)
	return count, err
}
