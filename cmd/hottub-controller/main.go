// Command hottub-controller drives the solar circulation pump and heater of a hot tub.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/sweeney/hottub-controller/internal/actuator"
	"github.com/sweeney/hottub-controller/internal/controller"
	"github.com/sweeney/hottub-controller/internal/gpio"
	"github.com/sweeney/hottub-controller/internal/logic"
	"github.com/sweeney/hottub-controller/internal/metrics"
	"github.com/sweeney/hottub-controller/internal/mqtt"
	"github.com/sweeney/hottub-controller/internal/sensor"
	"github.com/sweeney/hottub-controller/internal/status"
	"github.com/sweeney/hottub-controller/internal/store"
	"github.com/sweeney/hottub-controller/internal/telemetry"
	"github.com/sweeney/hottub-controller/internal/web"
)

// options holds the parsed command line.
type options struct {
	interval  time.Duration
	solarLag  time.Duration
	lagDepth  int
	control   logic.Config
	timeout   time.Duration
	heartbeat time.Duration

	gateway   string
	pump      string
	heater    string
	activeLow bool

	broker       string
	tubTopic     string
	solarTopic   string
	ambientTopic string
	sensorUnit   string
	sensorMaxAge time.Duration

	csvPath             string
	calibrationPath     string
	calibrationInterval time.Duration
	db                  string
	kafkaBrokers        string
	kafkaTopic          string
	webhook             string

	httpAddr   string
	printState bool
}

const (
	gatewayKasa = "kasa"
	gatewayGPIO = "gpio"
)

func main() {
	// Tee to stderr and glog's files unless overridden on the command line.
	flag.Set("alsologtostderr", "true")

	var o options
	o.control = logic.DefaultConfig()

	flag.DurationVar(&o.interval, "interval", 10*time.Minute, "Control tick interval")
	flag.DurationVar(&o.solarLag, "solar-lag", 0, "Thermal lag between the solar probe and the collector surface")
	flag.IntVar(&o.lagDepth, "lag-depth", -1, "Lag buffer depth in ticks (negative derives it from -solar-lag)")
	flag.Float64Var(&o.control.DeltaOn, "delta-on", logic.DefaultDeltaOn, "Turn the pump on when solar exceeds the tub by more than this (°F)")
	flag.Float64Var(&o.control.DeltaOff, "delta-off", logic.DefaultDeltaOff, "Turn the pump off when the difference drops below this (°F)")
	flag.DurationVar(&o.control.MinOn, "min-on", logic.DefaultMinOn, "Minimum pump run time")
	flag.DurationVar(&o.control.MinOff, "min-off", logic.DefaultMinOff, "Minimum pump rest time")
	flag.Float64Var(&o.control.MaxTempF, "max-temp", logic.DefaultMaxTempF, "Hot tub safety ceiling (°F)")
	flag.IntVar(&o.control.FailsafeThreshold, "failsafe", logic.DefaultFailsafeThreshold, "Consecutive read failures before the pump is forced off")
	flag.DurationVar(&o.timeout, "timeout", controller.DefaultTimeout, "Timeout for each sensor and switch call")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")

	flag.StringVar(&o.gateway, "gateway", gatewayKasa, "Switch backend: kasa or gpio")
	flag.StringVar(&o.pump, "pump", "", "Pump switch id (Kasa host[:port] or BCM pin, default 17 with -gateway=gpio)")
	flag.StringVar(&o.heater, "heater", "", "Heater switch id (Kasa host[:port] or BCM pin, default 27 with -gateway=gpio)")
	flag.BoolVar(&o.activeLow, "relay-active-low", false, "GPIO relay board energizes on a low line")

	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.tubTopic, "tub-topic", "gv2mqtt/sensor/hottub/temperature", "MQTT topic carrying the hot tub temperature")
	flag.StringVar(&o.solarTopic, "solar-topic", "gv2mqtt/sensor/solar/temperature", "MQTT topic carrying the solar collector temperature")
	flag.StringVar(&o.ambientTopic, "ambient-topic", "", "MQTT topic carrying the ambient temperature (optional)")
	flag.StringVar(&o.sensorUnit, "sensor-unit", string(sensor.UnitFahrenheit), "Unit of sensor payloads: F, C or C100")
	flag.DurationVar(&o.sensorMaxAge, "sensor-max-age", 30*time.Minute, "Readings older than this are treated as missing (0 disables)")

	flag.StringVar(&o.csvPath, "csv", "logs/hottub_log.csv", "Decision CSV file (empty to disable)")
	flag.StringVar(&o.calibrationPath, "calibration-csv", "", "Calibration CSV file (empty to disable)")
	flag.DurationVar(&o.calibrationInterval, "calibration-interval", 10*time.Minute, "Minimum spacing of calibration rows")
	flag.StringVar(&o.db, "db", "", `Decision database as driver:dsn, e.g. "sqlite:hottub.db" (empty to disable)`)
	flag.StringVar(&o.kafkaBrokers, "kafka-brokers", "", "Comma-separated Kafka brokers (empty to disable)")
	flag.StringVar(&o.kafkaTopic, "kafka-topic", "hottub.decisions", "Kafka topic for decision records")
	flag.StringVar(&o.webhook, "webhook", "", "Spreadsheet web app URL receiving each decision (empty to disable)")

	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.BoolVar(&o.printState, "print-state", false, "Print current switch state and exit")

	flag.Parse()
	defer glog.Flush()

	o.applyDefaults()

	if err := run(o); err != nil {
		glog.Exitf("fatal: %v", err)
	}
}

// applyDefaults fills the relay pins of a GPIO board left unset on the command line.
func (o *options) applyDefaults() {
	if o.gateway != gatewayGPIO {
		return
	}
	if o.pump == "" {
		o.pump = gpio.ID(gpio.DefaultPinPump)
	}
	if o.heater == "" {
		o.heater = gpio.ID(gpio.DefaultPinHeater)
	}
}

// validate checks the command line before anything is opened.
func (o options) validate() error {
	var errs []error
	if err := o.control.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", o.interval))
	}
	if o.gateway != gatewayKasa && o.gateway != gatewayGPIO {
		errs = append(errs, fmt.Errorf("gateway must be %s or %s, got %q", gatewayKasa, gatewayGPIO, o.gateway))
	}
	if o.pump == "" || o.heater == "" {
		errs = append(errs, errors.New("-pump and -heater are required"))
	}
	if _, err := sensor.ParseUnit(o.sensorUnit); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// depth resolves the lag buffer depth from the flags.
func (o options) depth() int {
	if o.lagDepth >= 0 {
		return o.lagDepth
	}
	return logic.LagDepth(o.solarLag, o.interval)
}

// newGateway opens the switch backend.
func newGateway(o options) (actuator.Gateway, error) {
	if o.gateway == gatewayKasa {
		return actuator.NewKasaGateway(o.timeout), nil
	}
	pump, err := gpio.ParsePin(o.pump)
	if err != nil {
		return nil, err
	}
	heater, err := gpio.ParsePin(o.heater)
	if err != nil {
		return nil, err
	}
	return gpio.NewRealRelays(o.activeLow, pump, heater)
}

// newSinks opens every configured telemetry destination.
// Destinations that fail to open are logged and skipped.
func newSinks(ctx context.Context, o options, session string, publisher *mqtt.RealPublisher) (*telemetry.Multi, *store.Store) {
	sinks := telemetry.NewMulti()
	if publisher != nil {
		sinks.Add("mqtt", publisher)
	}

	if o.csvPath != "" {
		if s, err := telemetry.NewCSVSink(o.csvPath); err != nil {
			glog.Warningf("csv sink disabled: %v", err)
		} else {
			sinks.Add("csv", s)
		}
	}
	if o.calibrationPath != "" {
		if s, err := telemetry.NewCalibrationSink(o.calibrationPath, o.calibrationInterval); err != nil {
			glog.Warningf("calibration sink disabled: %v", err)
		} else {
			sinks.Add("calibration", s)
		}
	}

	var db *store.Store
	if o.db != "" {
		driver, dsn, err := store.ParseDSN(o.db)
		if err == nil {
			db, err = store.Open(ctx, driver, dsn)
		}
		if err != nil {
			glog.Warningf("store disabled: %v", err)
			db = nil
		} else {
			sinks.Add("store", db)
		}
	}

	if o.kafkaBrokers != "" {
		sinks.Add("kafka", telemetry.NewKafkaSink(strings.Split(o.kafkaBrokers, ","), o.kafkaTopic, session))
	}
	if o.webhook != "" {
		if s, err := telemetry.NewWebhookSink(o.webhook, o.timeout); err != nil {
			glog.Warningf("webhook sink disabled: %v", err)
		} else {
			sinks.Add("webhook", s)
		}
	}
	return sinks, db
}

// printState reads both switches once and prints them.
func printState(ctx context.Context, gateway actuator.Gateway, o options) error {
	states := make([]logic.PowerState, 2)
	for i, id := range []string{o.pump, o.heater} {
		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		on, err := gateway.GetPower(ctx, id)
		cancel()
		if err != nil {
			return fmt.Errorf("read switch %s: %w", id, err)
		}
		states[i] = logic.PowerStateOf(on)
	}
	fmt.Printf("Pump: %s, Heater: %s\n", states[0], states[1])
	return nil
}

func run(o options) error {
	if err := o.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := context.Background()

	gateway, err := newGateway(o)
	if err != nil {
		return fmt.Errorf("init %s gateway: %w", o.gateway, err)
	}
	defer gateway.Close()

	// Print state mode
	if o.printState {
		return printState(ctx, gateway, o)
	}

	session := uuid.NewString()
	unit, _ := sensor.ParseUnit(o.sensorUnit)

	source, err := sensor.NewMQTTSource(sensor.MQTTConfig{
		Broker:       o.broker,
		ClientID:     "hottub-sensor-" + session[:8],
		TubTopic:     o.tubTopic,
		SolarTopic:   o.solarTopic,
		AmbientTopic: o.ambientTopic,
		Unit:         unit,
		MaxAge:       o.sensorMaxAge,
	})
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	defer source.Close()

	publisher, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker:   o.broker,
		ClientID: "hottub-controller-" + session[:8],
		Session:  session,
	})
	if err != nil {
		glog.Warningf("mqtt publisher disabled: %v", err)
		publisher = nil
	}

	sinks, db := newSinks(ctx, o, session, publisher)
	defer func() {
		if err := sinks.Close(); err != nil {
			glog.Warningf("closing sinks: %v", err)
		}
	}()
	glog.Infof("telemetry sinks: %v", sinks.Names())

	lag := logic.NewLagBuffer(o.depth())
	engine := logic.NewEngine(o.control)
	m := metrics.New()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Session:     session,
		IntervalMs:  o.interval.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
		Gateway:     o.gateway,
		PumpID:      o.pump,
		HeaterID:    o.heater,
		LagDepth:    lag.Depth() + 1,
		Control:     o.control,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ctrl, err := controller.New(
		controller.Config{PumpID: o.pump, HeaterID: o.heater, Timeout: o.timeout},
		controller.Deps{
			Source:  source,
			Gateway: gateway,
			Engine:  engine,
			Lag:     lag,
			Sink:    sinks,
			Tracker: tracker,
			Metrics: m,
		},
	)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(controller.StartupHeader(time.Now(), o.control, o.interval, lag.Depth()), "\n") {
		glog.Info(line)
	}

	var (
		sysPub     systemPublisher = noopPublisher{}
		mqttStatus mqtt.ConnectionStatus
	)
	if publisher != nil {
		sysPub = publisher
		mqttStatus = publisher
		tracker.SetMQTTConnected(publisher.IsConnected())
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := sysPub.PublishSystem(startupEvent); err != nil {
		glog.Warningf("failed to publish startup event: %v", err)
	} else {
		glog.Infof("published startup event (session %s)", session)
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		var records web.RecordLister
		if db != nil {
			records = db
		}
		srv := web.New(o.httpAddr, tracker, records, m)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("http server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		glog.Infof("http status server listening on %s", o.httpAddr)
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The first decision happens immediately rather than one interval in.
	first := make(chan time.Time, 1)
	first <- time.Now()

	return runLoop(ctrl, sysPub, mqttStatus, tracker, o.heartbeat, time.Now, mergeTicks(first, ticker.C), sigCh)
}

// systemPublisher publishes lifecycle events.
type systemPublisher interface {
	PublishSystem(event mqtt.SystemEvent) error
}

// noopPublisher stands in when the broker was unreachable at startup.
type noopPublisher struct{}

func (noopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }

// tickRunner runs one control cycle.
type tickRunner interface {
	Tick(ctx context.Context, now time.Time) *logic.Record
}

// mergeTicks yields the value on first and then every value on rest.
func mergeTicks(first <-chan time.Time, rest <-chan time.Time) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		out <- <-first
		for t := range rest {
			out <- t
		}
	}()
	return out
}

func runLoop(ctrl tickRunner, publisher systemPublisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	ctx := context.Background()
	lastHeartbeat := now()

	refresh := func() {
		if tracker != nil && mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			glog.Infof("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				glog.Warningf("failed to publish shutdown event: %v", err)
			} else {
				glog.Infof("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			ctrl.Tick(ctx, t)
			refresh()

			if heartbeat <= 0 || t.Sub(lastHeartbeat) < heartbeat {
				continue
			}
			lastHeartbeat = t

			hbEvent := mqtt.SystemEvent{
				Timestamp: t,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				glog.Infof("heartbeat: uptime=%v pump_on=%d pump_off=%d failures=%d",
					snap.Uptime().Round(time.Second), snap.Counts.PumpOn, snap.Counts.PumpOff, snap.Counts.Failures)
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				glog.Warningf("heartbeat publish error: %v", err)
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
