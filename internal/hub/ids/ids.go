package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a time-sortable ULID encoded as a 26-character string. Message,
// event, and subscription ids all come from here so status stores sort by
// creation time for free.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Valid reports whether s parses as a ULID. The API accepts caller-supplied
// ids but rejects ones that cannot round-trip.
func Valid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
