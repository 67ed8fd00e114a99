//go:build !linux

package gpio

import (
	"context"
	"errors"
)

// RealRelays is not available on non-Linux platforms.
type RealRelays struct{}

// NewRealRelays returns an error on non-Linux platforms.
func NewRealRelays(activeLow bool, pins ...int) (*RealRelays, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetPower is not implemented on non-Linux platforms.
func (r *RealRelays) SetPower(ctx context.Context, id string, on bool) error {
	return errors.New("gpio: not supported")
}

// GetPower is not implemented on non-Linux platforms.
func (r *RealRelays) GetPower(ctx context.Context, id string) (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealRelays) Close() error {
	return nil
}
