package logic

import (
	"fmt"
	"strings"
	"time"
)

// Engine holds controller state and turns readings into switch commands.
// Decide must not be called concurrently.
type Engine struct {
	cfg   Config
	state State
}

// NewEngine creates an engine with the pump in the UNKNOWN state.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		state: State{Pump: PowerUnknown},
	}
}

// Config returns the engine parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns a copy of the current controller state.
func (e *Engine) State() State {
	return e.state
}

// Decide evaluates one tick. ok is false only while the lag buffer is warming up,
// in which case no command is issued and no record is produced.
func (e *Engine) Decide(in Input) (d Decision, ok bool) {
	in.HotTub = in.HotTub.orMissing()
	in.Solar = in.Solar.orMissing()
	in.Ambient = in.Ambient.orMissing()
	if !in.HotTub.Valid || !in.Solar.Valid {
		return e.readFailure(in), true
	}
	e.state.ReadFailures = 0

	if in.WarmingUp {
		return Decision{}, false
	}

	delta := in.Solar.F - in.HotTub.F

	if in.HotTub.F >= e.cfg.MaxTempF {
		return e.safetyCeiling(in, delta), true
	}
	if in.Heater == PowerOn {
		return e.heaterOverride(in, delta), true
	}
	if d, ok := e.minimumDwell(in, delta); ok {
		return d, true
	}
	return e.hysteresis(in, delta), true
}

func (e *Engine) readFailure(in Input) Decision {
	e.state.ReadFailures++
	failures := e.state.ReadFailures

	if failures < e.cfg.FailsafeThreshold {
		rec := e.record(in, Missing, ActionNoChange, RuleDataMissing,
			fmt.Sprintf("Missing temperature data (failure #%d)", failures))
		rec.ReadFailures = failures
		return Decision{Record: rec}
	}

	// Forced off regardless of dwell or current state
	e.state.Pump = PowerOff
	e.state.OnSince = time.Time{}
	e.state.OffSince = in.Time
	e.state.ReadFailures = 0

	rec := e.record(in, Missing, ActionOff, RuleFailsafe,
		fmt.Sprintf("Failsafe: %d consecutive read failures, pump shut off", failures))
	rec.ReadFailures = failures
	return Decision{Pump: CommandOff, Record: rec}
}

func (e *Engine) safetyCeiling(in Input, delta float64) Decision {
	var d Decision
	notes := []string{fmt.Sprintf("Safety shutdown at %g°F", e.cfg.MaxTempF)}

	action := ActionNoChange
	switch e.state.Pump {
	case PowerOn:
		d.Pump = CommandOff
		action = ActionOff
		notes = append(notes, "pump switched off")
	case PowerUnknown:
		d.Pump = CommandOff
		action = ActionOff
		notes = append(notes, "pump off commanded")
	default:
		notes = append(notes, "pump already off")
	}
	e.stopPump(in.Time)

	switch in.Heater {
	case PowerOn:
		d.Heater = CommandOff
		notes = append(notes, "heater switched off")
	case PowerUnknown:
		d.Heater = CommandOff
		notes = append(notes, "heater state unknown, off commanded")
	default:
		notes = append(notes, "heater already off")
	}

	d.Record = e.record(in, Fahrenheit(delta), action, RuleSafety, strings.Join(notes, "; "))
	d.Record.Heater = PowerOff
	return d
}

func (e *Engine) heaterOverride(in Input, delta float64) Decision {
	var d Decision
	action := ActionNoChange
	note := "Heater active; pump kept off"
	if e.state.Pump != PowerOff {
		d.Pump = CommandOff
		action = ActionOff
		note = "Heater active; pump turned off"
	}
	e.stopPump(in.Time)

	d.Record = e.record(in, Fahrenheit(delta), action, RuleHeaterOverride, note)
	return d
}

// stopPump marks the pump off. The off timestamp is only stamped on the transition
// so repeated overrides do not extend the minimum OFF time.
func (e *Engine) stopPump(now time.Time) {
	e.state.Pump = PowerOff
	e.state.OnSince = time.Time{}
	if e.state.OffSince.IsZero() {
		e.state.OffSince = now
	}
}

func (e *Engine) minimumDwell(in Input, delta float64) (Decision, bool) {
	switch {
	case e.state.Pump == PowerOn && !e.state.OnSince.IsZero():
		elapsed := in.Time.Sub(e.state.OnSince)
		if elapsed < e.cfg.MinOn {
			note := fmt.Sprintf("Within minimum ON time (%.1f/%.0f min)", elapsed.Minutes(), e.cfg.MinOn.Minutes())
			return Decision{Record: e.record(in, Fahrenheit(delta), ActionNoChange, RuleMinOn, note)}, true
		}
	case e.state.Pump == PowerOff && !e.state.OffSince.IsZero():
		elapsed := in.Time.Sub(e.state.OffSince)
		if elapsed < e.cfg.MinOff {
			note := fmt.Sprintf("Within minimum OFF time (%.1f/%.0f min)", elapsed.Minutes(), e.cfg.MinOff.Minutes())
			return Decision{Record: e.record(in, Fahrenheit(delta), ActionNoChange, RuleMinOff, note)}, true
		}
	}
	return Decision{}, false
}

func (e *Engine) hysteresis(in Input, delta float64) Decision {
	var d Decision
	action := ActionNoChange
	var note string

	pumpOn := e.state.Pump == PowerOn
	switch {
	case !pumpOn && delta > e.cfg.DeltaOn:
		d.Pump = CommandOn
		action = ActionOn
		note = fmt.Sprintf("Δ > %.1f°F; pump turned on", e.cfg.DeltaOn)
		e.state.Pump = PowerOn
		e.state.OnSince = in.Time
		e.state.OffSince = time.Time{}
	case pumpOn && delta < e.cfg.DeltaOff:
		d.Pump = CommandOff
		action = ActionOff
		note = fmt.Sprintf("Δ < %.1f°F; pump turned off", e.cfg.DeltaOff)
		e.state.Pump = PowerOff
		e.state.OffSince = in.Time
		e.state.OnSince = time.Time{}
	case e.state.Pump == PowerOff && delta <= 0:
		note = "Solar colder; pump remains off"
	case pumpOn && delta >= 0:
		note = "Solar still warmer; pump stays on"
	default:
		note = "Within hysteresis range"
	}

	d.Record = e.record(in, Fahrenheit(delta), action, RuleHysteresis, note)
	return d
}

// record builds a Record from the post-decision state.
func (e *Engine) record(in Input, delta Temperature, action Action, rule Rule, note string) Record {
	return Record{
		Timestamp: in.Time,
		HotTubF:   in.HotTub,
		SolarF:    in.Solar,
		AmbientF:  in.Ambient,
		Delta:     delta,
		Pump:      e.state.Pump,
		Heater:    heaterState(in.Heater),
		Action:    action,
		Rule:      rule,
		Note:      note,
		Duration:  e.dwellDuration(in.Time),
	}
}

func (e *Engine) dwellDuration(now time.Time) string {
	switch {
	case e.state.Pump == PowerOn && !e.state.OnSince.IsZero():
		return FormatDuration(now.Sub(e.state.OnSince))
	case e.state.Pump == PowerOff && !e.state.OffSince.IsZero():
		return FormatDuration(now.Sub(e.state.OffSince))
	}
	return ""
}

func heaterState(s PowerState) PowerState {
	if s == "" {
		return PowerUnknown
	}
	return s
}
