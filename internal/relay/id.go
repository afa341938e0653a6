package relay

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NextMessageID returns "<prefix>-<base36 ms timestamp>-<4 random base36 chars>".
//
// Uniqueness is probabilistic. Callers may use ids for client-side dedup but
// must not infer ordering from them; ordering comes from seq.
func NextMessageID(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return prefix + "-" + ts + "-" + randomBase36(4)
}

func randomBase36(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a constant
		// suffix still yields a usable (if collision-prone) id.
		return strings.Repeat("0", n)
	}
	for i := range b {
		b[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return string(b)
}
