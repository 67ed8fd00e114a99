package sensor

import (
	"context"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// FakeSource is a test double that returns scripted samples.
type FakeSource struct {
	// Samples contains the scripted readings.
	// Each call to Read consumes the next sample.
	Samples []logic.Sample

	// Reads counts calls to Read.
	Reads int

	index int
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples ...logic.Sample) *FakeSource {
	return &FakeSource{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
// With no samples configured every reading is missing.
func (f *FakeSource) Read(ctx context.Context) logic.Sample {
	f.Reads++
	if len(f.Samples) == 0 {
		return logic.Sample{}
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample
}

// Reset rewinds to the first sample.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Reads = 0
}

// Reading is shorthand for a complete sample.
func Reading(tub, solar float64) logic.Sample {
	return logic.Sample{HotTub: logic.Fahrenheit(tub), SolarRaw: logic.Fahrenheit(solar)}
}
