package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock replays a fixed list of instants, repeating the last one.
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func assertMonotonic(t *testing.T, stamps []Stamp) {
	t.Helper()
	for i := 1; i < len(stamps); i++ {
		assert.Less(t, stamps[i-1].ID, stamps[i].ID, "id at %d", i)
		assert.False(t, stamps[i].Time.Before(stamps[i-1].Time), "time at %d", i)
	}
}

func TestSequencersAreMonotonic(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newSequencers := map[string]func(Clock) Sequencer{
		KindULID: func(c Clock) Sequencer { return NewULIDSequencer(c) },
		KindSnowflake: func(c Clock) Sequencer {
			s, err := NewSnowflakeSequencer(7, DefaultEpoch, c)
			require.NoError(t, err)
			return s
		},
	}

	for name, build := range newSequencers {
		t.Run(name, func(t *testing.T) {
			clock := &steppingClock{times: []time.Time{
				base,
				base,
				base.Add(5 * time.Millisecond),
				base.Add(2 * time.Millisecond), // clock steps back
				base.Add(2 * time.Millisecond),
				base.Add(10 * time.Millisecond),
			}}
			seq := build(clock.Now)

			stamps := make([]Stamp, 0, 8)
			for i := 0; i < 8; i++ {
				s, err := seq.Next()
				require.NoError(t, err)
				stamps = append(stamps, s)
			}
			assertMonotonic(t, stamps)

			for _, s := range stamps {
				assert.Equal(t, time.UTC, s.Time.Location())
				assert.Equal(t, s.Time, s.Time.Truncate(time.Millisecond))
			}
		})
	}
}

func TestSequencerConcurrentCallersNeverCollide(t *testing.T) {
	seq := NewULIDSequencer(nil)

	const workers, perWorker = 8, 200
	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s, err := seq.Next()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[s.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestSnowflakeFormatting(t *testing.T) {
	base := time.UnixMilli(DefaultEpoch + 1500).UTC()
	seq, err := NewSnowflakeSequencer(3, DefaultEpoch, func() time.Time { return base })
	require.NoError(t, err)

	s, err := seq.Next()
	require.NoError(t, err)
	assert.Len(t, s.ID, 19)

	ts, machine, sequence, err := ParseSnowflake(s.ID, DefaultEpoch)
	require.NoError(t, err)
	assert.Equal(t, base, ts)
	assert.Equal(t, int64(3), machine)
	assert.Equal(t, int64(0), sequence)
	assert.Equal(t, base, s.Time)
}

func TestSnowflakeSequenceExhaustionBorrowsNextMillisecond(t *testing.T) {
	base := time.UnixMilli(DefaultEpoch + 10).UTC()
	seq, err := NewSnowflakeSequencer(1, DefaultEpoch, func() time.Time { return base })
	require.NoError(t, err)

	var last Stamp
	for i := 0; i <= maxSequence+1; i++ {
		s, err := seq.Next()
		require.NoError(t, err)
		if i > 0 {
			assert.Less(t, last.ID, s.ID)
		}
		last = s
	}
	assert.Equal(t, base.Add(time.Millisecond), last.Time)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(Config{Kind: "nanoid"})
	assert.Error(t, err)

	_, err = New(Config{Kind: KindSnowflake, MachineID: 5000})
	assert.Error(t, err)

	s, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &ULIDSequencer{}, s)
}

func TestULIDTime(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 7_000_000, time.UTC)
	s, err := NewULIDSequencer(func() time.Time { return base }).Next()
	require.NoError(t, err)

	ts, err := ULIDTime(s.ID)
	require.NoError(t, err)
	assert.Equal(t, base, ts)
	assert.Equal(t, base, s.Time)
}
