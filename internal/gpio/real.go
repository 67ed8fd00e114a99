//go:build linux

package gpio

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelays drives relay outputs using the Linux GPIO character device.
type RealRelays struct {
	chip      *gpiocdev.Chip
	lines     map[int]*gpiocdev.Line
	activeLow bool
}

// NewRealRelays requests the given pins as outputs with every relay released.
func NewRealRelays(activeLow bool, pins ...int) (*RealRelays, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealRelays{
		chip:      chip,
		lines:     make(map[int]*gpiocdev.Line),
		activeLow: activeLow,
	}
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(level(false, activeLow)))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
		}
		r.lines[pin] = line
	}
	return r, nil
}

// line resolves an id by pin number, so "017" and "17" address the same relay.
func (r *RealRelays) line(id string) (*gpiocdev.Line, error) {
	pin, err := ParsePin(id)
	if err != nil {
		return nil, err
	}
	line, ok := r.lines[pin]
	if !ok {
		return nil, fmt.Errorf("gpio pin %s not requested", id)
	}
	return line, nil
}

// SetPower drives the relay for the given pin.
func (r *RealRelays) SetPower(ctx context.Context, id string, on bool) error {
	line, err := r.line(id)
	if err != nil {
		return err
	}
	if err := line.SetValue(level(on, r.activeLow)); err != nil {
		return fmt.Errorf("set pin %s: %w", id, err)
	}
	return nil
}

// GetPower reads back the relay output state.
func (r *RealRelays) GetPower(ctx context.Context, id string) (bool, error) {
	line, err := r.line(id)
	if err != nil {
		return false, err
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %s: %w", id, err)
	}
	return v == level(true, r.activeLow), nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing, which also releases every relay.
func (r *RealRelays) Close() error {
	var errs []error

	for pin, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
