package timeline

import (
	"sort"

	"github.com/ravelhq/inboxd/internal/gateway"
)

// Dedupe removes duplicate records in a stable left-to-right scan: the first
// occurrence of each fingerprint wins and survivor order is preserved.
func Dedupe(msgs []gateway.Message) []gateway.Message {
	seen := make(map[string]bool, len(msgs))
	out := make([]gateway.Message, 0, len(msgs))
	for _, m := range msgs {
		fp := Fingerprint(m)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, m)
	}
	return out
}

// SortDesc returns a copy sorted by timestamp descending. The sort is
// stable: same-second records keep their prior relative order.
func SortDesc(msgs []gateway.Message) []gateway.Message {
	out := make([]gateway.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}
