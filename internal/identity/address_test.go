package identity

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"phone address", "5511987654321@s.whatsapp.net", "5511987654321@s.whatsapp.net", true},
		{"bare digits gain suffix", "5511987654321", "5511987654321@s.whatsapp.net", true},
		{"opaque passes through", "8123456789012@lid", "8123456789012@lid", true},
		{"group passes through", "123456-789@g.us", "123456-789@g.us", true},
		{"broadcast passes through", "status@broadcast", "status@broadcast", true},
		{"domain lowercased", "5511987654321@S.WHATSAPP.NET", "5511987654321@s.whatsapp.net", true},
		{"whitespace trimmed", "  5511987654321@s.whatsapp.net ", "5511987654321@s.whatsapp.net", true},
		{"too few digits rejected", "123@s.whatsapp.net", "", false},
		{"empty rejected", "", "", false},
		{"blank rejected", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw, 8)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDigits(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"5511987654321@s.whatsapp.net", "5511987654321"},
		{"+55 (11) 98765-4321", "5511987654321"},
		{"8123456789012@lid", "8123456789012"},
		{"status@broadcast", ""},
	}
	for _, tt := range tests {
		if got := Digits(tt.addr); got != tt.want {
			t.Errorf("Digits(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		digits string
		want   bool
	}{
		{"5511987654321", true},
		{"1234567890", true},       // lower bound
		{"123456789012345", true},  // upper bound
		{"123456789", false},       // too short
		{"1234567890123456", false}, // too long
		{"55119876x4321", false},   // non-digit
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidPhone(tt.digits); got != tt.want {
			t.Errorf("ValidPhone(%q) = %v, want %v", tt.digits, got, tt.want)
		}
	}
}

func TestKeyFor(t *testing.T) {
	if got := KeyFor("8123456789012@lid", "5511987654321"); got != "phone:5511987654321" {
		t.Errorf("KeyFor with valid phone = %q, want phone key", got)
	}
	if got := KeyFor("8123456789012@lid", ""); got != "addr:8123456789012@lid" {
		t.Errorf("KeyFor without phone = %q, want addr key", got)
	}
	if got := KeyFor("8123456789012@lid", "123"); got != "addr:8123456789012@lid" {
		t.Errorf("KeyFor with implausible phone = %q, want addr key", got)
	}
}

func TestKeyPhone(t *testing.T) {
	if got := KeyPhone("phone:5511987654321"); got != "5511987654321" {
		t.Errorf("KeyPhone = %q, want digits", got)
	}
	if got := KeyPhone("addr:8123456789012@lid"); got != "" {
		t.Errorf("KeyPhone on addr key = %q, want empty", got)
	}
}

func TestConversationSiblings(t *testing.T) {
	c := Conversation{}
	c.AddSibling("8123456789012@lid")
	c.AddSibling("5511987654321@s.whatsapp.net")
	c.AddSibling("8123456789012@lid") // duplicate
	c.AddSibling("")

	if len(c.Siblings) != 2 {
		t.Fatalf("Siblings = %v, want 2 unique entries", c.Siblings)
	}
	if got := c.PhoneSibling(); got != "5511987654321@s.whatsapp.net" {
		t.Errorf("PhoneSibling = %q", got)
	}
}
