package idgen

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	timestampBits = 41
	machineIDBits = 10
	sequenceBits  = 12

	maxMachineID = (1 << machineIDBits) - 1 // 1023
	maxSequence  = (1 << sequenceBits) - 1   // 4095

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits

	// snowflakeDigits is the width of the largest positive int64.
	snowflakeDigits = 19
)

// DefaultEpoch is 2024-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch int64 = 1704067200000

// SnowflakeSequencer issues 64-bit snowflake ids formatted as zero-padded
// decimals so that string order equals numeric order.
type SnowflakeSequencer struct {
	mu        sync.Mutex
	now       Clock
	epoch     int64 // custom epoch in ms
	machineID int64 // 10-bit machine ID
	sequence  int64 // 12-bit sequence
	lastTime  int64 // last generation timestamp in ms
}

// NewSnowflakeSequencer creates a snowflake sequencer.
// machineID must be in range [0, 1023]. A nil clock uses time.Now.
func NewSnowflakeSequencer(machineID, epoch int64, now Clock) (*SnowflakeSequencer, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", maxMachineID, machineID)
	}
	if now == nil {
		now = time.Now
	}
	return &SnowflakeSequencer{
		now:       now,
		epoch:     epoch,
		machineID: machineID,
		lastTime:  -1,
	}, nil
}

func (g *SnowflakeSequencer) Next() (Stamp, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.epoch {
		return Stamp{}, fmt.Errorf("current time is before custom epoch")
	}
	// A clock that steps back keeps issuing from the last millisecond.
	if now < g.lastTime {
		now = g.lastTime
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted, borrow the next millisecond.
			now++
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	ts := now - g.epoch
	if ts >= 1<<timestampBits {
		return Stamp{}, fmt.Errorf("snowflake timestamp overflow")
	}

	id := (ts << timestampShift) | (g.machineID << machineIDShift) | g.sequence
	return Stamp{ID: formatSnowflake(id), Time: stampTime(now)}, nil
}

func formatSnowflake(id int64) string {
	return fmt.Sprintf("%0*d", snowflakeDigits, id)
}

// ParseSnowflake splits a snowflake id into its absolute timestamp, machine
// id and sequence.
func ParseSnowflake(id string, epoch int64) (time.Time, int64, int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return time.Time{}, 0, 0, fmt.Errorf("invalid integer format: %w", err)
	}
	if n < 0 {
		return time.Time{}, 0, 0, fmt.Errorf("id must be a positive integer")
	}

	ts := (n >> timestampShift) & ((1 << timestampBits) - 1)
	mid := (n >> machineIDShift) & maxMachineID
	seq := n & maxSequence
	return stampTime(ts + epoch), mid, seq, nil
}
