package logic

import (
	"math"
	"time"
)

// LagBuffer is a fixed-depth delay line for raw solar readings.
// Once full it reports the reading pushed depth ticks ago.
// Not safe for concurrent use.
type LagBuffer struct {
	buf   []float64
	next  int // next write position; the oldest value once full
	count int
}

// NewLagBuffer creates a delay line of the given depth. Negative depths are treated as 0.
func NewLagBuffer(depth int) *LagBuffer {
	if depth < 0 {
		depth = 0
	}
	return &LagBuffer{buf: make([]float64, depth+1)}
}

// Push adds a raw reading and returns the current surface reading.
// ok is false until depth+1 readings have been pushed.
func (l *LagBuffer) Push(raw float64) (surface float64, ok bool) {
	capacity := len(l.buf)
	// Overwrites the oldest value when full
	l.buf[l.next] = raw
	l.next = (l.next + 1) % capacity
	if l.count < capacity {
		l.count++
	}
	if l.count < capacity {
		return 0, false
	}
	return l.buf[l.next], true
}

// Depth returns the configured delay in ticks.
func (l *LagBuffer) Depth() int {
	return len(l.buf) - 1
}

// Len returns the number of buffered readings.
func (l *LagBuffer) Len() int {
	return l.count
}

// Ready reports whether the buffer has warmed up.
func (l *LagBuffer) Ready() bool {
	return l.count == len(l.buf)
}

// LagDepth converts a thermal lag into a buffer depth for the given tick interval.
func LagDepth(lag, interval time.Duration) int {
	if lag <= 0 || interval <= 0 {
		return 0
	}
	return int(math.Round(float64(lag) / float64(interval)))
}
