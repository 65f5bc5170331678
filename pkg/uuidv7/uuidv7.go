// Package uuidv7 issues time-ordered identifiers for rate sets and audit
// entries so that ids sort the same way as their creation instants.
package uuidv7

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"
)

// Source mints ids from an injected clock.
type Source struct {
	Now func() time.Time
}

func (s Source) New() (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	u, err := NewAt(now())
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// NewAt returns a UUIDv7 whose 48-bit timestamp is t in unix milliseconds.
func NewAt(t time.Time) (uuid.UUID, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return uuid.Nil, err
	}

	ms := uint64(t.UnixMilli())
	for i := 0; i < 6; i++ {
		b[i] = byte(ms >> (40 - 8*i))
	}
	b[6] = (b[6] & 0x0f) | 0x70 // version 7
	b[8] = (b[8] & 0x3f) | 0x80 // RFC 4122 variant

	return uuid.FromBytes(b[:])
}
