package transport

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// NewRequestID returns a new ULID string (26 chars).
func NewRequestID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
