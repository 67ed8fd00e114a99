// Package status provides a thread-safe status tracker for the hot tub controller.
// It is read by HTTP handlers and the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains controller configuration for display.
type Config struct {
	Session     string
	IntervalMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Gateway     string
	PumpID      string
	HeaterID    string
	LagDepth    int
	Control     logic.Config
}

// Counts tallies decisions by action.
type Counts struct {
	PumpOn   int
	PumpOff  int
	NoChange int
	Failures int // ticks with missing data
}

func (c *Counts) add(rec logic.Record) {
	switch rec.Action {
	case logic.ActionOn:
		c.PumpOn++
	case logic.ActionOff:
		c.PumpOff++
	default:
		c.NoChange++
	}
	if rec.Rule == logic.RuleDataMissing || rec.Rule == logic.RuleFailsafe {
		c.Failures++
	}
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Engine        logic.State
	Heater        logic.PowerState
	Last          *logic.Record
	LagFill       int
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Ready reports whether the lag buffer has filled and decisions are being made.
func (s Snapshot) Ready() bool {
	return s.LagFill >= s.Config.LagDepth
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetLagFill records how many samples the lag buffer holds.
func (t *Tracker) SetLagFill(n int) {
	t.mu.Lock()
	t.snap.LagFill = n
	t.mu.Unlock()
}

// Update stores the engine state and the decision made this tick.
// Called by the controller on every tick that produced a record.
func (t *Tracker) Update(state logic.State, rec logic.Record) {
	t.mu.Lock()
	t.snap.Engine = state
	t.snap.Heater = rec.Heater
	t.snap.Last = &rec
	t.snap.Counts.add(rec)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	s.Now = time.Now()
	return s
}
