package store

import (
	"path/filepath"
	"testing"

	"github.com/ravelhq/inboxd/internal/identity"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	res, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if res.Changed {
		t.Error("second Migrate() reported changes")
	}
}

func TestPhoneMapRoundtrip(t *testing.T) {
	db := testDB(t)

	if err := db.PutPhone("main", "8123456789012@lid", "5511987654321"); err != nil {
		t.Fatalf("PutPhone() error = %v", err)
	}
	got, err := db.GetPhone("main", "8123456789012@lid")
	if err != nil {
		t.Fatalf("GetPhone() error = %v", err)
	}
	if got != "5511987654321" {
		t.Errorf("GetPhone() = %q, want stored digits", got)
	}
}

func TestPhoneMapMissIsEmpty(t *testing.T) {
	db := testDB(t)
	got, err := db.GetPhone("main", "never@lid")
	if err != nil {
		t.Fatalf("GetPhone() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetPhone() = %q, want empty on miss", got)
	}
}

func TestPutPhoneRejectsImplausibleDigits(t *testing.T) {
	db := testDB(t)

	for _, digits := range []string{"123", "1234567890123456", "55x11987654", ""} {
		if err := db.PutPhone("main", "8123456789012@lid", digits); err != nil {
			t.Fatalf("PutPhone(%q) error = %v", digits, err)
		}
	}
	count, err := db.PhoneMapCount("main")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("PhoneMapCount = %d, want 0: implausible digits must never be stored", count)
	}
}

func TestPutPhoneUpdatesExisting(t *testing.T) {
	db := testDB(t)

	if err := db.PutPhone("main", "8123456789012@lid", "5511987654321"); err != nil {
		t.Fatal(err)
	}
	if err := db.PutPhone("main", "8123456789012@lid", "5511911112222"); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetPhone("main", "8123456789012@lid")
	if got != "5511911112222" {
		t.Errorf("GetPhone() = %q, want updated digits", got)
	}
	count, _ := db.PhoneMapCount("main")
	if count != 1 {
		t.Errorf("PhoneMapCount = %d, want 1", count)
	}
}

func TestPhoneMapWorkspaceScoped(t *testing.T) {
	db := testDB(t)

	if err := db.PutPhone("work", "8123456789012@lid", "5511987654321"); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetPhone("personal", "8123456789012@lid")
	if got != "" {
		t.Errorf("GetPhone() across workspaces = %q, want empty", got)
	}
}

func TestConversationSnapshotRoundtrip(t *testing.T) {
	db := testDB(t)

	c := identity.Conversation{
		Key:          "phone:5511987654321",
		Name:         "Ana",
		LastActivity: 1700000000,
		Unread:       3,
		Channel:      "whatsapp",
		SendTarget:   "5511987654321@s.whatsapp.net",
		LinkedOpaque: "8123456789012@lid",
		Siblings:     []string{"8123456789012@lid", "5511987654321@s.whatsapp.net"},
	}
	if err := db.UpsertConversation("main", &c); err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}

	got, err := db.ListConversations("main")
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListConversations() len = %d, want 1", len(got))
	}
	r := got[0]
	if r.Key != c.Key || r.Name != c.Name || r.Unread != c.Unread ||
		r.SendTarget != c.SendTarget || r.LinkedOpaque != c.LinkedOpaque {
		t.Errorf("roundtrip = %+v, want %+v", r, c)
	}
	if len(r.Siblings) != 2 {
		t.Errorf("Siblings = %v, want both entries", r.Siblings)
	}
}

func TestUpsertConversationNamePreserved(t *testing.T) {
	db := testDB(t)

	named := identity.Conversation{Key: "phone:5511987654321", Name: "Ana", LastActivity: 100}
	if err := db.UpsertConversation("main", &named); err != nil {
		t.Fatal(err)
	}
	// A later snapshot without a name must not erase the stored one.
	unnamed := identity.Conversation{Key: "phone:5511987654321", LastActivity: 200}
	if err := db.UpsertConversation("main", &unnamed); err != nil {
		t.Fatal(err)
	}

	got, _ := db.ListConversations("main")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Name != "Ana" {
		t.Errorf("Name = %q, want preserved", got[0].Name)
	}
	if got[0].LastActivity != 200 {
		t.Errorf("LastActivity = %d, want advanced to 200", got[0].LastActivity)
	}
}

func TestListConversationsOrderedByActivity(t *testing.T) {
	db := testDB(t)

	for _, c := range []identity.Conversation{
		{Key: "phone:5511911110001", LastActivity: 100},
		{Key: "phone:5511911110003", LastActivity: 300},
		{Key: "phone:5511911110002", LastActivity: 200},
	} {
		conv := c
		if err := db.UpsertConversation("main", &conv); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListConversations("main")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int64{300, 200, 100} {
		if got[i].LastActivity != want {
			t.Errorf("position %d activity = %d, want %d", i, got[i].LastActivity, want)
		}
	}
}
