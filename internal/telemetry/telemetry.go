// Package telemetry delivers decision records to durable logs and external reporting.
// Delivery is best-effort: callers log failures and carry on.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// Sink accepts decision records.
type Sink interface {
	// Record delivers one decision record.
	Record(ctx context.Context, rec logic.Record) error

	// Close flushes and releases the sink.
	Close() error
}

// SinkError attributes a failure to a named sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

type named struct {
	name string
	sink Sink
}

// Multi fans a record out to every registered sink.
// A failing sink never prevents delivery to the others.
type Multi struct {
	sinks []named
}

// NewMulti creates an empty fan-out sink.
func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a sink under a name used in errors and metrics.
func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, named{name: name, sink: s})
}

// Names returns the registered sink names in order.
func (m *Multi) Names() []string {
	out := make([]string, len(m.sinks))
	for i, n := range m.sinks {
		out[i] = n.name
	}
	return out
}

// Record delivers to every sink and joins any failures as *SinkError values.
func (m *Multi) Record(ctx context.Context, rec logic.Record) error {
	var errs []error
	for _, n := range m.sinks {
		if err := n.sink.Record(ctx, rec); err != nil {
			errs = append(errs, &SinkError{Sink: n.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.sinks {
		if err := n.sink.Close(); err != nil {
			errs = append(errs, &SinkError{Sink: n.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// FailedSinks lists the sink names carried by an error returned from Multi.
func FailedSinks(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	var walk func(error)
	walk = func(e error) {
		if se, ok := e.(*SinkError); ok {
			out = append(out, se.Sink)
			return
		}
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range j.Unwrap() {
				walk(inner)
			}
			return
		}
		if inner := errors.Unwrap(e); inner != nil {
			walk(inner)
		}
	}
	walk(err)
	return out
}

func stateString(s logic.PowerState) string {
	if s == "" {
		return string(logic.PowerUnknown)
	}
	return string(s)
}

func tempString(t logic.Temperature) string {
	if !t.Valid {
		return ""
	}
	return fmt.Sprintf("%.2f", t.F)
}
