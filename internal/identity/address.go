package identity

import "strings"

// Address domain suffixes used by the gateway.
const (
	PhoneSuffix     = "@s.whatsapp.net"
	OpaqueSuffix    = "@lid"
	GroupSuffix     = "@g.us"
	BroadcastSuffix = "@broadcast"
)

// Digit bounds for a usable phone number. Anything outside is never stored.
const (
	MinPhoneLen = 10
	MaxPhoneLen = 15
)

// Digits returns only the decimal digits of the user part of an address.
func Digits(addr string) string {
	user := User(addr)
	var b strings.Builder
	for _, r := range user {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// User returns the part of an address before the domain suffix.
func User(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// IsPhone reports whether the address is phone-derived.
func IsPhone(addr string) bool {
	return strings.HasSuffix(addr, PhoneSuffix)
}

// IsOpaque reports whether the address is the privacy-preserving opaque form.
func IsOpaque(addr string) bool {
	return strings.HasSuffix(addr, OpaqueSuffix)
}

// IsGroupish reports whether the address is a group or broadcast identifier.
// These are kept as-is and never merged by phone number.
func IsGroupish(addr string) bool {
	return strings.HasSuffix(addr, GroupSuffix) || strings.HasSuffix(addr, BroadcastSuffix)
}

// ValidPhone reports whether digits is a storable phone number.
func ValidPhone(digits string) bool {
	if len(digits) < MinPhoneLen || len(digits) > MaxPhoneLen {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PhoneAddress builds the phone-derived address for the given digits.
func PhoneAddress(digits string) string {
	return digits + PhoneSuffix
}

// Normalize canonicalizes a raw gateway address: trims whitespace, lowercases
// the domain, and attaches the default phone suffix when no domain is
// present. Returns ok=false for addresses that are unusable noise: a
// phone-derived address with fewer than minDigits digits. Group and
// broadcast identifiers pass through untouched.
func Normalize(raw string, minDigits int) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	i := strings.IndexByte(raw, '@')
	if i < 0 {
		raw += PhoneSuffix
		i = strings.IndexByte(raw, '@')
	}
	addr := raw[:i] + strings.ToLower(raw[i:])

	if IsGroupish(addr) || IsOpaque(addr) {
		return addr, true
	}
	if IsPhone(addr) {
		if len(Digits(addr)) < minDigits {
			return "", false
		}
		return addr, true
	}
	// Unknown domain: keep, the gateway may introduce new ones.
	return addr, true
}
