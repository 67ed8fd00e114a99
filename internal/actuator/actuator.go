// Package actuator provides remote power switch control with abstraction for testing.
package actuator

import "context"

// Gateway switches named devices on and off.
type Gateway interface {
	// SetPower drives a device on or off. Setting the state it is already in succeeds.
	SetPower(ctx context.Context, id string, on bool) error

	// GetPower reads a device's current state.
	GetPower(ctx context.Context, id string) (bool, error)

	// Close releases gateway resources.
	Close() error
}
