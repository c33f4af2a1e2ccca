package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID mints a random 128-bit hex id that correlates a socket's log
// lines across its lifetime.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
