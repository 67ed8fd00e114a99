package gpio

import (
	"context"
	"fmt"
	"sync"
)

// FakeRelays is a test double that records raw line levels.
type FakeRelays struct {
	mu sync.Mutex

	// Levels holds the raw value driven on each requested pin.
	Levels map[int]int

	// ActiveLow inverts the logical state as on real boards.
	ActiveLow bool

	// WriteError, if set, will be returned by SetPower.
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeRelays creates FakeRelays with the given pins released.
func NewFakeRelays(activeLow bool, pins ...int) *FakeRelays {
	f := &FakeRelays{Levels: make(map[int]int), ActiveLow: activeLow}
	for _, pin := range pins {
		f.Levels[pin] = level(false, activeLow)
	}
	return f
}

func (f *FakeRelays) pin(id string) (int, error) {
	pin, err := ParsePin(id)
	if err != nil {
		return 0, err
	}
	if _, ok := f.Levels[pin]; !ok {
		return 0, fmt.Errorf("gpio pin %s not requested", id)
	}
	return pin, nil
}

// SetPower drives the fake line.
func (f *FakeRelays) SetPower(ctx context.Context, id string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	pin, err := f.pin(id)
	if err != nil {
		return err
	}
	f.Levels[pin] = level(on, f.ActiveLow)
	return nil
}

// GetPower reads the fake line.
func (f *FakeRelays) GetPower(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pin, err := f.pin(id)
	if err != nil {
		return false, err
	}
	return f.Levels[pin] == level(true, f.ActiveLow), nil
}

// Level returns the raw level of a pin for assertions.
func (f *FakeRelays) Level(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Levels[pin]
}

// Close marks the relays as closed and releases every line.
func (f *FakeRelays) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin := range f.Levels {
		f.Levels[pin] = level(false, f.ActiveLow)
	}
	f.Closed = true
	return nil
}
