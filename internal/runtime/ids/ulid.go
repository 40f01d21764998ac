// Package ids mints the identifiers carried by published records.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionPrefix marks session ids generated by the publisher rather than
// supplied by a client.
const SessionPrefix = "sess_"

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

func next(now time.Time) ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}

// New returns a 26-character ULID. Ids minted in the same millisecond still
// sort in creation order.
func New() string {
	return next(time.Now()).String()
}

// NewSessionID returns a lower-case session id for analytics events
// published without one.
func NewSessionID() string {
	return SessionPrefix + strings.ToLower(New())
}

// IsGeneratedSession reports whether id came from NewSessionID.
func IsGeneratedSession(id string) bool {
	rest, ok := strings.CutPrefix(id, SessionPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(rest))
	return err == nil
}
