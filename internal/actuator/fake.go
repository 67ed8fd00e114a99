package actuator

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded SetPower invocation.
type Call struct {
	ID string
	On bool
}

// FakeGateway is an in-memory switch bank for tests.
// Safe for concurrent use; the controller reads switches in parallel.
type FakeGateway struct {
	mu sync.Mutex

	// Power holds each device's state. Unknown devices read as an error.
	Power map[string]bool

	// Calls records every SetPower call, including failed ones.
	Calls []Call

	// SetErrors and GetErrors, if set for a device, are returned instead of acting.
	SetErrors map[string]error
	GetErrors map[string]error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeGateway creates a gateway with the given devices switched off.
func NewFakeGateway(ids ...string) *FakeGateway {
	f := &FakeGateway{
		Power:     make(map[string]bool),
		SetErrors: make(map[string]error),
		GetErrors: make(map[string]error),
	}
	for _, id := range ids {
		f.Power[id] = false
	}
	return f
}

// SetPower records the call and updates the device.
func (f *FakeGateway) SetPower(ctx context.Context, id string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{ID: id, On: on})
	if err := f.SetErrors[id]; err != nil {
		return err
	}
	if _, ok := f.Power[id]; !ok {
		return fmt.Errorf("unknown device %q", id)
	}
	f.Power[id] = on
	return nil
}

// GetPower returns the device state.
func (f *FakeGateway) GetPower(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.GetErrors[id]; err != nil {
		return false, err
	}
	on, ok := f.Power[id]
	if !ok {
		return false, fmt.Errorf("unknown device %q", id)
	}
	return on, nil
}

// Set changes a device state without recording a call.
func (f *FakeGateway) Set(id string, on bool) {
	f.mu.Lock()
	f.Power[id] = on
	f.mu.Unlock()
}

// Get returns a device state for assertions.
func (f *FakeGateway) Get(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Power[id]
}

// CallsFor returns the recorded SetPower calls for one device.
func (f *FakeGateway) CallsFor(id string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.ID == id {
			out = append(out, c)
		}
	}
	return out
}

// Close marks the gateway as closed.
func (f *FakeGateway) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
