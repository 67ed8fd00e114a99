package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/hottub-controller/internal/logic"
	"github.com/sweeney/hottub-controller/internal/metrics"
	"github.com/sweeney/hottub-controller/internal/status"
)

type fakeLister struct {
	records []logic.Record
	err     error
	asked   int
}

func (f *fakeLister) Recent(ctx context.Context, n int) ([]logic.Record, error) {
	f.asked = n
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.records) {
		return f.records[:n], nil
	}
	return f.records, nil
}

func newTestServer(t *testing.T, lister RecordLister) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		IntervalMs:  300000,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
		Gateway:     "kasa",
		PumpID:      "192.168.1.50",
		HeaterID:    "192.168.1.51",
		LagDepth:    1,
		Control:     logic.DefaultConfig(),
	}
	tr := status.NewTracker(start, cfg)
	reg := prometheus.NewRegistry()
	srv := New(":0", tr, lister, metrics.NewMetrics(reg, reg))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
	}
	return resp
}

func pumpOnRecord() logic.Record {
	return logic.Record{
		Timestamp: time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC),
		HotTubF:   logic.Fahrenheit(98),
		SolarF:    logic.Fahrenheit(106),
		Delta:     logic.Fahrenheit(8),
		Pump:      logic.PowerOn,
		Heater:    logic.PowerOff,
		Action:    logic.ActionOn,
		Rule:      logic.RuleHysteresis,
		Note:      "Δ > 6.0°F; pump turned on",
	}
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.SetLagFill(1)
	tr.Update(logic.State{Pump: logic.PowerOn}, pumpOnRecord())
	tr.SetMQTTConnected(true)

	var sj status.StatusJSON
	resp := getJSON(t, ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if sj.Status.Pump != "ON" {
		t.Errorf("Pump: got %q, want ON", sj.Status.Pump)
	}
	if sj.Status.Heater != "OFF" {
		t.Errorf("Heater: got %q, want OFF", sj.Status.Heater)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Counts.PumpOn != 1 {
		t.Errorf("Counts.PumpOn: got %d, want 1", sj.Status.Counts.PumpOn)
	}
	if sj.Status.Config.Gateway != "kasa" || sj.Status.Config.MaxTempF != 104 {
		t.Errorf("unexpected config: %+v", sj.Status.Config)
	}
	if sj.Status.Last == nil || sj.Status.Last.Rule != logic.RuleHysteresis {
		t.Errorf("unexpected last decision: %+v", sj.Status.Last)
	}
}

func TestJSONWarmingUp(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var sj status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj)

	if sj.Status.Ready {
		t.Error("expected Ready=false before the lag buffer fills")
	}
	if sj.Status.Pump != "UNKNOWN" || sj.Status.Heater != "UNKNOWN" {
		t.Errorf("states before first decision: %q/%q", sj.Status.Pump, sj.Status.Heater)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(logic.State{Pump: logic.PowerOn}, pumpOnRecord())
	tr.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "Garden"})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		for _, want := range []string{"Hot Tub Controller", "98.00°F", "pump turned on", "192.168.1.42"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s: body missing %q", path, want)
			}
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := getJSON(t, ts.URL+"/nonexistent", nil)
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}

	// records route is absent without a lister
	resp = getJSON(t, ts.URL+"/records.json", nil)
	if resp.StatusCode != 404 {
		t.Errorf("records without store: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/index.json", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestRecordsEndpoint(t *testing.T) {
	lister := &fakeLister{records: []logic.Record{pumpOnRecord(), pumpOnRecord(), pumpOnRecord()}}
	ts, _ := newTestServer(t, lister)

	var body struct {
		Records []logic.Record `json:"records"`
	}
	resp := getJSON(t, ts.URL+"/records.json?limit=2", &body)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if lister.asked != 2 || len(body.Records) != 2 {
		t.Errorf("limit: asked %d, got %d records", lister.asked, len(body.Records))
	}
	if body.Records[0].HotTubF != logic.Fahrenheit(98) {
		t.Errorf("record: %+v", body.Records[0])
	}

	getJSON(t, ts.URL+"/records.json", &body)
	if lister.asked != DefaultRecordLimit {
		t.Errorf("default limit: got %d", lister.asked)
	}

	getJSON(t, ts.URL+"/records.json?limit=999999", &body)
	if lister.asked != maxRecordLimit {
		t.Errorf("capped limit: got %d", lister.asked)
	}
}

func TestRecordsEndpointErrors(t *testing.T) {
	lister := &fakeLister{}
	ts, _ := newTestServer(t, lister)

	resp := getJSON(t, ts.URL+"/records.json?limit=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", resp.StatusCode)
	}

	var body map[string][]logic.Record
	getJSON(t, ts.URL+"/records.json", &body)
	if body["records"] == nil {
		t.Error("empty result should encode as [] not null")
	}

	lister.err = errors.New("db locked")
	resp = getJSON(t, ts.URL+"/records.json", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("store error: got %d, want 500", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	getJSON(t, ts.URL+"/index.json", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), `hottub_http_requests_total{route="/index.json",status="200"} 1`) {
		t.Errorf("expected request counter in metrics output:\n%s", body)
	}
}
