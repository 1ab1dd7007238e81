package simengine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrInvalidSpeed  = errors.New("speed must be 1 or 2")
	ErrUnknownLayer  = errors.New("unknown layer")
	ErrUnknownHub    = errors.New("unknown hub")
)

// Config holds the tunables of a simulation run.
type Config struct {
	Seed           int64
	Speed          int
	BaseRefresh    time.Duration // main loop period at speed 1
	HighlightEvery time.Duration
	HighlightFor   time.Duration
	InitialEvents  int
	MaxEvents      int
}

func DefaultConfig() Config {
	return Config{
		Seed:           42,
		Speed:          1,
		BaseRefresh:    3 * time.Second,
		HighlightEvery: 3 * time.Second,
		HighlightFor:   time.Second,
		InitialEvents:  10,
		MaxEvents:      DefaultMaxEvents,
	}
}

func (c Config) Validate() error {
	if !validSpeed(c.Speed) {
		return fmt.Errorf("%w: %w (got %d)", ErrInvalidConfig, ErrInvalidSpeed, c.Speed)
	}
	if c.BaseRefresh <= 0 || c.HighlightEvery <= 0 || c.HighlightFor <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("%w: max events must be at least 1", ErrInvalidConfig)
	}
	if c.InitialEvents < 0 || c.InitialEvents > c.MaxEvents {
		return fmt.Errorf("%w: initial events must be within [0, %d]", ErrInvalidConfig, c.MaxEvents)
	}
	return nil
}

// RefreshInterval is the main loop period for the given speed.
func (c Config) RefreshInterval(speed int) time.Duration {
	if speed < 1 {
		speed = 1
	}
	return c.BaseRefresh / time.Duration(speed)
}

func validSpeed(speed int) bool {
	return speed == 1 || speed == 2
}
