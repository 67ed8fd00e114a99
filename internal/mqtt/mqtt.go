// Package mqtt publishes controller decisions and lifecycle events, with abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// Topic is the MQTT topic for per-tick decision records.
const Topic = "hottub/controller/decisions"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "hottub/controller/system"

// Publisher publishes decisions and lifecycle events to MQTT.
// It satisfies telemetry.Sink so it can sit alongside the other record sinks.
type Publisher interface {
	// Record sends a decision record to the broker.
	// Returns error if publishing fails (should not crash the process).
	Record(ctx context.Context, rec logic.Record) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the decision message body.
type Payload struct {
	HotTub DecisionPayload `json:"hottub"`
}

// DecisionPayload carries one decision record.
type DecisionPayload struct {
	Timestamp string            `json:"timestamp"`
	Session   string            `json:"session,omitempty"`
	HotTubF   logic.Temperature `json:"hot_tub_f"`
	SolarF    logic.Temperature `json:"solar_surface_f"`
	AmbientF  logic.Temperature `json:"ambient_f"`
	Delta     logic.Temperature `json:"delta"`
	Pump      string            `json:"pump"`
	Heater    string            `json:"heater"`
	Action    string            `json:"action"`
	Rule      string            `json:"rule"`
	Note      string            `json:"note"`
	Duration  string            `json:"duration,omitempty"`
}

// FormatPayload creates the JSON payload for a decision record.
func FormatPayload(rec logic.Record, session string) ([]byte, error) {
	payload := Payload{
		HotTub: DecisionPayload{
			Timestamp: rec.Timestamp.UTC().Format(time.RFC3339),
			Session:   session,
			HotTubF:   rec.HotTubF,
			SolarF:    rec.SolarF,
			AmbientF:  rec.AmbientF,
			Delta:     rec.Delta,
			Pump:      powerString(rec.Pump),
			Heater:    powerString(rec.Heater),
			Action:    string(rec.Action),
			Rule:      string(rec.Rule),
			Note:      rec.Note,
			Duration:  rec.Duration,
		},
	}
	return json.Marshal(payload)
}

func powerString(s logic.PowerState) string {
	if s == "" {
		return string(logic.PowerUnknown)
	}
	return string(s)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
