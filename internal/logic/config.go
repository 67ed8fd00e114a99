package logic

import (
	"errors"
	"fmt"
	"time"
)

// Default control parameters.
const (
	DefaultDeltaOn           = 6.0
	DefaultDeltaOff          = 4.0
	DefaultMinOn             = 30 * time.Minute
	DefaultMinOff            = 20 * time.Minute
	DefaultMaxTempF          = 104.0
	DefaultFailsafeThreshold = 3
)

// Config holds the engine parameters. It is immutable once the engine is built.
type Config struct {
	DeltaOn           float64       // pump turns on when delta exceeds this
	DeltaOff          float64       // pump turns off when delta drops below this
	MinOn             time.Duration // minimum pump run time
	MinOff            time.Duration // minimum pump rest time
	MaxTempF          float64       // absolute hot tub ceiling
	FailsafeThreshold int           // consecutive read failures before forcing the pump off
}

// DefaultConfig returns the stock control parameters.
func DefaultConfig() Config {
	return Config{
		DeltaOn:           DefaultDeltaOn,
		DeltaOff:          DefaultDeltaOff,
		MinOn:             DefaultMinOn,
		MinOff:            DefaultMinOff,
		MaxTempF:          DefaultMaxTempF,
		FailsafeThreshold: DefaultFailsafeThreshold,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	var errs []error
	if c.DeltaOn <= c.DeltaOff {
		errs = append(errs, fmt.Errorf("delta-on (%.2f) must be greater than delta-off (%.2f)", c.DeltaOn, c.DeltaOff))
	}
	if c.MinOn < 0 {
		errs = append(errs, fmt.Errorf("min-on must not be negative, got %v", c.MinOn))
	}
	if c.MinOff < 0 {
		errs = append(errs, fmt.Errorf("min-off must not be negative, got %v", c.MinOff))
	}
	if c.FailsafeThreshold < 1 {
		errs = append(errs, fmt.Errorf("failsafe threshold must be at least 1, got %d", c.FailsafeThreshold))
	}
	return errors.Join(errs...)
}
