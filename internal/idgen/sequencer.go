package idgen

import (
	"fmt"
	"time"
)

// Stamp is the identity assigned to a message: an id and a UTC timestamp
// truncated to milliseconds, taken from the same instant.
type Stamp struct {
	ID   string
	Time time.Time
}

// Sequencer hands out stamps. Successive stamps from one sequencer never go
// back in time and always carry a strictly larger id in string order.
type Sequencer interface {
	Next() (Stamp, error)
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

const (
	KindULID      = "ulid"
	KindSnowflake = "snowflake"
)

// Config selects the id scheme.
type Config struct {
	Kind      string `mapstructure:"id_generator"`
	MachineID int64  `mapstructure:"machine_id"`
	Epoch     int64  `mapstructure:"epoch_ms"`
}

// New builds the sequencer named by cfg.Kind. Empty defaults to ULID.
func New(cfg Config) (Sequencer, error) {
	switch cfg.Kind {
	case "", KindULID:
		return NewULIDSequencer(nil), nil
	case KindSnowflake:
		epoch := cfg.Epoch
		if epoch == 0 {
			epoch = DefaultEpoch
		}
		return NewSnowflakeSequencer(cfg.MachineID, epoch, nil)
	default:
		return nil, fmt.Errorf("unknown id generator %q", cfg.Kind)
	}
}

func stampTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
