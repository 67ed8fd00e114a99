// Package sensor provides temperature acquisition with abstraction for testing.
// Sources never fail outright: unavailable readings surface as absent values.
package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// Source supplies the latest temperature readings.
type Source interface {
	// Read returns the most recent readings. Missing, stale or invalid
	// readings are returned as logic.Missing rather than as an error.
	Read(ctx context.Context) logic.Sample
}

// Unit is the scale a sensor publishes in.
type Unit string

const (
	UnitFahrenheit Unit = "F"
	UnitCelsius    Unit = "C"
	// UnitCentiCelsius is hundredths of a degree Celsius, as reported by Govee probes.
	UnitCentiCelsius Unit = "C100"
)

// ParseUnit validates a unit name.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitFahrenheit, UnitCelsius, UnitCentiCelsius:
		return Unit(s), nil
	}
	return "", fmt.Errorf("unknown unit %q (want F, C or C100)", s)
}

// Plausible range for a water or collector probe. Readings outside are sensor faults.
const (
	MinPlausibleF = -50.0
	MaxPlausibleF = 200.0
)

var errEmptyPayload = errors.New("empty payload")

// ParseTemperature decodes a sensor payload: either a bare number or a JSON
// object carrying "temperature", "value" or "temp" (optionally under "state").
func ParseTemperature(payload []byte, unit Unit) (logic.Temperature, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return logic.Missing, errEmptyPayload
	}

	raw, err := extractNumber(payload)
	if err != nil {
		return logic.Missing, err
	}

	var t logic.Temperature
	switch unit {
	case UnitCelsius:
		t = logic.Celsius(raw)
	case UnitCentiCelsius:
		t = logic.Celsius(raw / 100)
	default:
		t = logic.Fahrenheit(raw)
	}

	if math.IsNaN(t.F) || math.IsInf(t.F, 0) {
		return logic.Missing, fmt.Errorf("non-finite temperature %q", payload)
	}
	if t.F < MinPlausibleF || t.F > MaxPlausibleF {
		return logic.Missing, fmt.Errorf("implausible temperature %.2f°F", t.F)
	}
	return t, nil
}

func extractNumber(payload []byte) (float64, error) {
	if payload[0] != '{' {
		s := string(bytes.Trim(payload, `"`))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse number %q: %w", s, err)
		}
		return f, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, fmt.Errorf("decode payload: %w", err)
	}
	if inner, ok := obj["state"]; ok && len(inner) > 0 && inner[0] == '{' {
		return extractNumber(inner)
	}
	for _, key := range []string{"temperature", "value", "temp"} {
		if v, ok := obj[key]; ok {
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return extractNumber(v)
			}
			return f, nil
		}
	}
	return 0, errors.New("no temperature field in payload")
}
