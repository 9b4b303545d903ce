package identity

import "strings"

// Logical key prefixes. The rest of the system indexes by these keys, never
// by raw addresses.
const (
	phoneKeyPrefix = "phone:"
	addrKeyPrefix  = "addr:"
)

// PhoneKey returns the logical key for a contact with a known phone number.
func PhoneKey(digits string) string {
	return phoneKeyPrefix + digits
}

// AddrKey returns the logical key for a contact known only by an address.
func AddrKey(addr string) string {
	return addrKeyPrefix + addr
}

// KeyFor computes the logical key: phone-keyed when a valid phone is known,
// address-keyed otherwise. Once a contact has gained a phone key, callers
// must not hand it back an address key; the key never reverts within a
// process lifetime.
func KeyFor(addr, phoneDigits string) string {
	if ValidPhone(phoneDigits) {
		return PhoneKey(phoneDigits)
	}
	return AddrKey(addr)
}

// KeyPhone extracts the digits from a phone-based logical key, or "".
func KeyPhone(key string) string {
	if after, ok := strings.CutPrefix(key, phoneKeyPrefix); ok {
		return after
	}
	return ""
}

// IsPhoneKey reports whether the key is phone-based.
func IsPhoneKey(key string) bool {
	return strings.HasPrefix(key, phoneKeyPrefix)
}
