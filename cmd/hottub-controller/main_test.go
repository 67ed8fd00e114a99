package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/hottub-controller/internal/actuator"
	"github.com/sweeney/hottub-controller/internal/controller"
	"github.com/sweeney/hottub-controller/internal/logic"
	"github.com/sweeney/hottub-controller/internal/mqtt"
	"github.com/sweeney/hottub-controller/internal/sensor"
	"github.com/sweeney/hottub-controller/internal/status"
)

const (
	pumpID   = "192.168.1.50"
	heaterID = "192.168.1.51"
)

func TestEnvVarNames(t *testing.T) {
	// These must match the pi-helper env file format.
	want := map[string]string{
		"envNetworkType":       "NETWORK_TYPE",
		"envNetworkIP":         "NETWORK_IP",
		"envNetworkStatus":     "NETWORK_STATUS",
		"envNetworkGateway":    "NETWORK_GATEWAY",
		"envNetworkWifiStatus": "NETWORK_WIFI_STATUS",
		"envNetworkWifiSSID":   "NETWORK_WIFI_SSID",
	}
	got := map[string]string{
		"envNetworkType":       envNetworkType,
		"envNetworkIP":         envNetworkIP,
		"envNetworkStatus":     envNetworkStatus,
		"envNetworkGateway":    envNetworkGateway,
		"envNetworkWifiStatus": envNetworkWifiStatus,
		"envNetworkWifiSSID":   envNetworkWifiSSID,
	}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("%s = %q, want %q", name, got[name], w)
		}
	}
}

func TestReadNetworkInfoUnset(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if got := readNetworkInfo(); got != nil {
		t.Errorf("expected nil without NETWORK_STATUS, got %+v", got)
	}
}

func TestReadNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "up")
	t.Setenv(envNetworkWifiSSID, "Garden")

	got := readNetworkInfo()
	if got == nil {
		t.Fatal("expected network info")
	}
	want := status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", Gateway: "192.168.1.1", WifiStatus: "up", SSID: "Garden"}
	if *got != want {
		t.Errorf("got %+v, want %+v", *got, want)
	}
}

func validOptions() options {
	return options{
		interval:   10 * time.Minute,
		lagDepth:   -1,
		control:    logic.DefaultConfig(),
		timeout:    time.Second,
		gateway:    gatewayKasa,
		pump:       pumpID,
		heater:     heaterID,
		sensorUnit: "F",
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := validOptions().validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*options)
	}{
		{"inverted deltas", func(o *options) { o.control.DeltaOn, o.control.DeltaOff = 4, 6 }},
		{"zero interval", func(o *options) { o.interval = 0 }},
		{"bad gateway", func(o *options) { o.gateway = "zigbee" }},
		{"missing pump", func(o *options) { o.pump = "" }},
		{"missing heater", func(o *options) { o.heater = "" }},
		{"bad unit", func(o *options) { o.sensorUnit = "K" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.modify(&o)
			if err := o.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOptionsApplyDefaults(t *testing.T) {
	tests := []struct {
		name               string
		gateway            string
		pump, heater       string
		wantPump, wantHeat string
	}{
		{"gpio unset", gatewayGPIO, "", "", "17", "27"},
		{"gpio explicit", gatewayGPIO, "5", "6", "5", "6"},
		{"gpio pump only", gatewayGPIO, "22", "", "22", "27"},
		{"kasa unset", gatewayKasa, "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			o.gateway, o.pump, o.heater = tt.gateway, tt.pump, tt.heater
			o.applyDefaults()
			if o.pump != tt.wantPump || o.heater != tt.wantHeat {
				t.Errorf("got pump=%q heater=%q, want %q/%q", o.pump, o.heater, tt.wantPump, tt.wantHeat)
			}
		})
	}

	o := validOptions()
	o.gateway, o.pump, o.heater = gatewayGPIO, "", ""
	o.applyDefaults()
	if err := o.validate(); err != nil {
		t.Errorf("gpio defaults should validate: %v", err)
	}
}

func TestOptionsDepth(t *testing.T) {
	o := validOptions()
	if got := o.depth(); got != 0 {
		t.Errorf("no lag: got %d, want 0", got)
	}
	o.solarLag = 30 * time.Minute
	if got := o.depth(); got != 3 {
		t.Errorf("30m lag at 10m interval: got %d, want 3", got)
	}
	o.lagDepth = 1
	if got := o.depth(); got != 1 {
		t.Errorf("explicit depth: got %d, want 1", got)
	}
}

func TestPrintState(t *testing.T) {
	gw := actuator.NewFakeGateway(pumpID, heaterID)
	gw.Set(pumpID, true)
	if err := printState(context.Background(), gw, validOptions()); err != nil {
		t.Fatalf("printState: %v", err)
	}

	gw.GetErrors[heaterID] = errors.New("timeout")
	if err := printState(context.Background(), gw, validOptions()); err == nil {
		t.Error("expected error when a switch cannot be read")
	}
}

// fakeClock returns a clock that advances by step on every call.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type loopHarness struct {
	source  *sensor.FakeSource
	gateway *actuator.FakeGateway
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	ctrl    *controller.Controller
}

func newLoopHarness(t *testing.T, start time.Time, samples ...logic.Sample) *loopHarness {
	t.Helper()
	h := &loopHarness{
		source:  sensor.NewFakeSource(samples...),
		gateway: actuator.NewFakeGateway(pumpID, heaterID),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(start, status.Config{LagDepth: 1, Control: logic.DefaultConfig()}),
	}
	ctrl, err := controller.New(
		controller.Config{PumpID: pumpID, HeaterID: heaterID, Timeout: time.Second},
		controller.Deps{
			Source:  h.source,
			Gateway: h.gateway,
			Engine:  logic.NewEngine(logic.DefaultConfig()),
			Lag:     logic.NewLagBuffer(0),
			Sink:    h.pub,
			Tracker: h.tracker,
		},
	)
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// runRunLoop drives runLoop for nTicks and then delivers signal.
func runRunLoop(t *testing.T, h *loopHarness, heartbeat time.Duration, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.ctrl, h.pub, h.pub, h.tracker, heartbeat, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func countEvents(pub *mqtt.FakePublisher, event string) int {
	n := 0
	for _, se := range pub.SystemEvents {
		if se.Event == event {
			n++
		}
	}
	return n
}

func TestRunLoopDecidesEachTick(t *testing.T) {
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start, sensor.Reading(95, 103), sensor.Reading(95, 104))
	clock := fakeClock(start, 10*time.Minute)

	if err := runRunLoop(t, h, 0, clock, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Records) != 2 {
		t.Fatalf("expected 2 decision records, got %d", len(h.pub.Records))
	}
	if h.pub.Records[0].Action != logic.ActionOn {
		t.Errorf("first action: got %q, want ON", h.pub.Records[0].Action)
	}
	if h.pub.Records[1].Rule != logic.RuleMinOn {
		t.Errorf("second rule: got %q, want min_on", h.pub.Records[1].Rule)
	}
	if !h.gateway.Get(pumpID) {
		t.Error("pump switch should be on")
	}

	snap := h.tracker.Snapshot()
	if snap.Counts.PumpOn != 1 || snap.Counts.NoChange != 1 {
		t.Errorf("tracker counts: %+v", snap.Counts)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start, sensor.Reading(95, 96))
	h.pub.Connected = true

	if err := runRunLoop(t, h, 0, fakeClock(start, time.Minute), 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	se := h.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" || !se.Retained {
		t.Errorf("unexpected shutdown event: %+v", se)
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(se.RawPayload, &payload); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}
	if payload.Status.Event != "SHUTDOWN" || payload.Status.Reason != "SIGTERM" {
		t.Errorf("payload event: %q/%q", payload.Status.Event, payload.Status.Reason)
	}
	if !payload.Status.MQTT.Connected {
		t.Error("payload should report mqtt connected")
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start)

	if err := runRunLoop(t, h, 0, fakeClock(start, time.Minute), 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("expected SHUTDOWN/SIGINT, got %+v", h.pub.SystemEvents)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: start, then one per tick at 5-minute steps.
	// With a 15-minute heartbeat the third tick fires it, the sixth fires it again.
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start, sensor.Reading(95, 96))
	clock := fakeClock(start, 5*time.Minute)

	if err := runRunLoop(t, h, 15*time.Minute, clock, 7, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if got := countEvents(h.pub, "HEARTBEAT"); got != 2 {
		t.Errorf("expected 2 HEARTBEAT events, got %d", got)
	}
	if got := countEvents(h.pub, "SHUTDOWN"); got != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", got)
	}

	for _, se := range h.pub.SystemEvents {
		if se.Event != "HEARTBEAT" {
			continue
		}
		var payload status.StatusJSON
		if err := json.Unmarshal(se.RawPayload, &payload); err != nil {
			t.Fatalf("heartbeat payload: %v", err)
		}
		if payload.Status.Event != "HEARTBEAT" {
			t.Errorf("payload event: %q", payload.Status.Event)
		}
		if payload.Status.UptimeSeconds <= 0 {
			t.Errorf("expected positive uptime, got %d", payload.Status.UptimeSeconds)
		}
	}
}

func TestRunLoopHeartbeatIncludesNetwork(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.42")

	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start, sensor.Reading(95, 96))

	if err := runRunLoop(t, h, time.Minute, fakeClock(start, time.Minute), 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var hb *mqtt.SystemEvent
	for i := range h.pub.SystemEvents {
		if h.pub.SystemEvents[i].Event == "HEARTBEAT" {
			hb = &h.pub.SystemEvents[i]
		}
	}
	if hb == nil {
		t.Fatal("expected a HEARTBEAT event")
	}
	var payload status.StatusJSON
	if err := json.Unmarshal(hb.RawPayload, &payload); err != nil {
		t.Fatalf("heartbeat payload: %v", err)
	}
	if payload.Status.Network == nil || payload.Status.Network.IP != "192.168.1.42" {
		t.Errorf("expected network info in heartbeat, got %+v", payload.Status.Network)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start, sensor.Reading(95, 96))

	if err := runRunLoop(t, h, 0, fakeClock(start, time.Hour), 5, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if got := countEvents(h.pub, "HEARTBEAT"); got != 0 {
		t.Errorf("expected no heartbeats, got %d", got)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	// Record publishing fails, the loop keeps deciding and still shuts down cleanly.
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start, sensor.Reading(95, 103))
	h.pub.PublishError = errors.New("broker unavailable")

	if err := runRunLoop(t, h, 0, fakeClock(start, time.Minute), 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Records) != 0 {
		t.Errorf("expected 0 recorded decisions (publish failed), got %d", len(h.pub.Records))
	}
	if !h.gateway.Get(pumpID) {
		t.Error("pump should still be switched on")
	}
	if countEvents(h.pub, "SHUTDOWN") != 1 {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopSensorFailureRecovery(t *testing.T) {
	// Three missing readings trip the failsafe, then readings return.
	start := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	h := newLoopHarness(t, start,
		logic.Sample{}, logic.Sample{}, logic.Sample{},
		sensor.Reading(95, 103),
	)
	h.gateway.Set(pumpID, true)

	if err := runRunLoop(t, h, 0, fakeClock(start, 10*time.Minute), 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(h.pub.Records))
	}
	if h.pub.Records[2].Rule != logic.RuleFailsafe {
		t.Errorf("third tick rule: got %q, want failsafe", h.pub.Records[2].Rule)
	}
	if h.pub.Records[3].ReadFailures != 0 {
		t.Errorf("failure counter should reset on a good read, got %d", h.pub.Records[3].ReadFailures)
	}

	snap := h.tracker.Snapshot()
	if snap.Counts.Failures != 3 {
		t.Errorf("tracker failures: got %d, want 3", snap.Counts.Failures)
	}
}

func TestMergeTicks(t *testing.T) {
	first := make(chan time.Time, 1)
	rest := make(chan time.Time, 1)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	first <- t1
	rest <- t2
	out := mergeTicks(first, rest)

	if got := <-out; !got.Equal(t1) {
		t.Errorf("first tick: got %v, want %v", got, t1)
	}
	if got := <-out; !got.Equal(t2) {
		t.Errorf("second tick: got %v, want %v", got, t2)
	}
}
