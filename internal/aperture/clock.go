package aperture

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Clock is the time source used by the core. Tests pass a clockwork fake clock.
type Clock = clockwork.Clock

// NewRealClock returns the wall clock.
func NewRealClock() Clock { return clockwork.NewRealClock() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
