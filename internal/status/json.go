package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Pump          string        `json:"pump"`
	Heater        string        `json:"heater"`
	PumpOnSince   string        `json:"pump_on_since,omitempty"`
	PumpOffSince  string        `json:"pump_off_since,omitempty"`
	ReadFailures  int           `json:"read_failures"`
	Ready         bool          `json:"ready"`
	Lag           LagJSON       `json:"lag"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"decision_counts"`
	Last          *logic.Record `json:"last_decision,omitempty"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// LagJSON reports lag buffer fill.
type LagJSON struct {
	Fill  int `json:"fill"`
	Depth int `json:"depth"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of decision counts.
type CountsJSON struct {
	PumpOn   int `json:"pump_on"`
	PumpOff  int `json:"pump_off"`
	NoChange int `json:"no_change"`
	Failures int `json:"read_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	Session           string  `json:"session,omitempty"`
	IntervalMs        int64   `json:"interval_ms"`
	HeartbeatMs       int64   `json:"heartbeat_ms"`
	Broker            string  `json:"broker"`
	HTTPAddr          string  `json:"http_addr"`
	Gateway           string  `json:"gateway"`
	PumpID            string  `json:"pump"`
	HeaterID          string  `json:"heater"`
	DeltaOn           float64 `json:"delta_on_f"`
	DeltaOff          float64 `json:"delta_off_f"`
	MinOnMinutes      float64 `json:"min_on_minutes"`
	MinOffMinutes     float64 `json:"min_off_minutes"`
	MaxTempF          float64 `json:"max_temp_f"`
	FailsafeThreshold int     `json:"failsafe_threshold"`
}

func stateOrUnknown(s logic.PowerState) string {
	if s == "" {
		return string(logic.PowerUnknown)
	}
	return string(s)
}

func timeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Config.Control
	return StatusInner{
		Pump:          stateOrUnknown(snap.Engine.Pump),
		Heater:        stateOrUnknown(snap.Heater),
		PumpOnSince:   timeOrEmpty(snap.Engine.OnSince),
		PumpOffSince:  timeOrEmpty(snap.Engine.OffSince),
		ReadFailures:  snap.Engine.ReadFailures,
		Ready:         snap.Ready(),
		Lag:           LagJSON{Fill: snap.LagFill, Depth: snap.Config.LagDepth},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			PumpOn:   snap.Counts.PumpOn,
			PumpOff:  snap.Counts.PumpOff,
			NoChange: snap.Counts.NoChange,
			Failures: snap.Counts.Failures,
		},
		Last: snap.Last,
		Config: ConfigJSON{
			Session:           snap.Config.Session,
			IntervalMs:        snap.Config.IntervalMs,
			HeartbeatMs:       snap.Config.HeartbeatMs,
			Broker:            snap.Config.Broker,
			HTTPAddr:          snap.Config.HTTPAddr,
			Gateway:           snap.Config.Gateway,
			PumpID:            snap.Config.PumpID,
			HeaterID:          snap.Config.HeaterID,
			DeltaOn:           c.DeltaOn,
			DeltaOff:          c.DeltaOff,
			MinOnMinutes:      c.MinOn.Minutes(),
			MinOffMinutes:     c.MinOff.Minutes(),
			MaxTempF:          c.MaxTempF,
			FailsafeThreshold: c.FailsafeThreshold,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
