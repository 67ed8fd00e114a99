// Package logic contains the pure control logic for the hot tub controller.
// This package has NO external dependencies (no MQTT, GPIO, network, or time.Sleep).
// Time is always injectable via time.Time fields.
package logic

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// PowerState represents the logical state of a switched device.
type PowerState string

const (
	PowerUnknown PowerState = "UNKNOWN"
	PowerOn      PowerState = "ON"
	PowerOff     PowerState = "OFF"
)

// PowerStateOf converts a definite switch reading into a PowerState.
func PowerStateOf(on bool) PowerState {
	if on {
		return PowerOn
	}
	return PowerOff
}

// Action is the pump action recorded for a tick.
type Action string

const (
	ActionOn       Action = "ON"
	ActionOff      Action = "OFF"
	ActionNoChange Action = "No Change"
)

// Command is an instruction for a single switch.
type Command int

const (
	CommandNone Command = iota
	CommandOn
	CommandOff
)

func (c Command) String() string {
	switch c {
	case CommandOn:
		return "ON"
	case CommandOff:
		return "OFF"
	default:
		return "NONE"
	}
}

// Rule identifies which engine rule produced a record.
type Rule string

const (
	RuleDataMissing    Rule = "data_missing"
	RuleFailsafe       Rule = "failsafe"
	RuleSafety         Rule = "safety_ceiling"
	RuleHeaterOverride Rule = "heater_override"
	RuleMinOn          Rule = "min_on"
	RuleMinOff         Rule = "min_off"
	RuleHysteresis     Rule = "hysteresis"
)

// Temperature is a Fahrenheit reading that may be absent.
type Temperature struct {
	F     float64
	Valid bool
}

// Fahrenheit returns a present reading.
func Fahrenheit(f float64) Temperature {
	return Temperature{F: f, Valid: true}
}

// Celsius converts a Celsius value into a present Fahrenheit reading.
func Celsius(c float64) Temperature {
	return Fahrenheit(c*9/5 + 32)
}

// Missing is an absent reading.
var Missing = Temperature{}

// Usable reports whether the reading is present and finite.
func (t Temperature) Usable() bool {
	return t.Valid && !math.IsNaN(t.F) && !math.IsInf(t.F, 0)
}

// orMissing collapses a non-finite reading to Missing.
func (t Temperature) orMissing() Temperature {
	if !t.Usable() {
		return Missing
	}
	return t
}

func (t Temperature) String() string {
	if !t.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(t.F, 'f', 2, 64) + "°F"
}

// MarshalJSON encodes absent readings as null.
func (t Temperature) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.F)
}

// UnmarshalJSON accepts a number or null.
func (t *Temperature) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Missing
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*t = Fahrenheit(f)
	return nil
}

// Sample is one tick's worth of temperature readings.
type Sample struct {
	HotTub   Temperature
	SolarRaw Temperature
	Ambient  Temperature
}

// Complete reports whether both control readings are present.
func (s Sample) Complete() bool {
	return s.HotTub.Usable() && s.SolarRaw.Usable()
}

// Input is everything the engine needs for one tick.
type Input struct {
	Time    time.Time
	HotTub  Temperature
	Solar   Temperature // lag-buffered surface reading
	Ambient Temperature
	Heater  PowerState
	// WarmingUp is set while the lag buffer has not yet filled.
	WarmingUp bool
}

// Record is the structured result of one decision.
type Record struct {
	Timestamp    time.Time   `json:"timestamp"`
	HotTubF      Temperature `json:"hot_tub_f"`
	SolarF       Temperature `json:"solar_surface_f"`
	AmbientF     Temperature `json:"ambient_f"`
	Delta        Temperature `json:"delta"`
	Pump         PowerState  `json:"pump"`
	Heater       PowerState  `json:"heater"`
	Action       Action      `json:"action"`
	Rule         Rule        `json:"rule"`
	Note         string      `json:"note"`
	Duration     string      `json:"duration,omitempty"`
	ReadFailures int         `json:"read_failures,omitempty"`
}

// Decision is the engine output for one tick.
type Decision struct {
	Pump   Command
	Heater Command
	Record Record
}

// State is the persistent controller state owned by the Engine.
// A zero time means the timestamp is unset.
type State struct {
	Pump         PowerState
	OnSince      time.Time
	OffSince     time.Time
	ReadFailures int
}
