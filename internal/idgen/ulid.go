package idgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDSequencer issues ULIDs with monotonic entropy. When the wall clock
// stalls or steps back it keeps the last millisecond, and the entropy
// increment preserves ordering inside it.
type ULIDSequencer struct {
	mu      sync.Mutex
	now     Clock
	entropy *ulid.MonotonicEntropy
	lastMs  uint64
}

// NewULIDSequencer creates a ULID sequencer. A nil clock uses time.Now.
func NewULIDSequencer(now Clock) *ULIDSequencer {
	if now == nil {
		now = time.Now
	}
	return &ULIDSequencer{
		now:     now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *ULIDSequencer) Next() (Stamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := ulid.Timestamp(s.now())
	if ms < s.lastMs {
		ms = s.lastMs
	}

	id, err := ulid.New(ms, s.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		// Entropy exhausted within this millisecond; move to the next one.
		ms++
		id, err = ulid.New(ms, s.entropy)
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("failed to generate ULID: %w", err)
	}

	s.lastMs = ms
	return Stamp{ID: id.String(), Time: stampTime(int64(ms))}, nil
}

// ULIDTime returns the timestamp embedded in a ULID.
func ULIDTime(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ULID format: %w", err)
	}
	return stampTime(int64(parsed.Time())), nil
}
