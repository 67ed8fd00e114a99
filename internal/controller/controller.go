// Package controller runs one control tick: read, decide, actuate, report.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/hottub-controller/internal/actuator"
	"github.com/sweeney/hottub-controller/internal/logic"
	"github.com/sweeney/hottub-controller/internal/metrics"
	"github.com/sweeney/hottub-controller/internal/sensor"
	"github.com/sweeney/hottub-controller/internal/status"
	"github.com/sweeney/hottub-controller/internal/telemetry"
)

// DefaultTimeout bounds every external call made during a tick.
const DefaultTimeout = 30 * time.Second

// Config identifies the switched devices.
type Config struct {
	PumpID   string
	HeaterID string
	Timeout  time.Duration
}

// Deps are the collaborators of a Controller.
// Sink, Tracker and Metrics are optional.
type Deps struct {
	Source  sensor.Source
	Gateway actuator.Gateway
	Engine  *logic.Engine
	Lag     *logic.LagBuffer
	Sink    telemetry.Sink
	Tracker *status.Tracker
	Metrics *metrics.Metrics
}

// Controller owns the per-tick pipeline. Tick must not be called concurrently.
type Controller struct {
	cfg  Config
	deps Deps
}

// New validates the configuration and returns a Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	var errs []error
	if cfg.PumpID == "" {
		errs = append(errs, errors.New("pump device id is required"))
	}
	if cfg.HeaterID == "" {
		errs = append(errs, errors.New("heater device id is required"))
	}
	if deps.Source == nil {
		errs = append(errs, errors.New("temperature source is required"))
	}
	if deps.Gateway == nil {
		errs = append(errs, errors.New("actuator gateway is required"))
	}
	if deps.Engine == nil || deps.Lag == nil {
		errs = append(errs, errors.New("engine and lag buffer are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Controller{cfg: cfg, deps: deps}, nil
}

// ReadSwitches reads the pump and heater switches in parallel.
// A failed read yields UNKNOWN for that device.
func (c *Controller) ReadSwitches(ctx context.Context) (pump, heater logic.PowerState) {
	pump, heater, err := c.readSwitches(ctx)
	if err != nil {
		glog.Warningf("switch read: %v", err)
	}
	return pump, heater
}

// readSwitches joins the errors of both reads.
func (c *Controller) readSwitches(ctx context.Context) (pump, heater logic.PowerState, err error) {
	var pumpErr, heaterErr error

	var g errgroup.Group
	g.Go(func() error {
		pump, pumpErr = c.readSwitch(ctx, "pump", c.cfg.PumpID)
		return nil
	})
	g.Go(func() error {
		heater, heaterErr = c.readSwitch(ctx, "heater", c.cfg.HeaterID)
		return nil
	})
	g.Wait()
	return pump, heater, errors.Join(pumpErr, heaterErr)
}

func (c *Controller) readSwitch(ctx context.Context, device, id string) (logic.PowerState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	on, err := c.deps.Gateway.GetPower(ctx, id)
	if err != nil {
		c.deps.Metrics.ActuatorError(device, "get")
		return logic.PowerUnknown, fmt.Errorf("%s (%s): %w", device, id, err)
	}
	return logic.PowerStateOf(on), nil
}

// Tick runs one control cycle at now and returns the decision record,
// or nil while the lag buffer is warming up.
func (c *Controller) Tick(ctx context.Context, now time.Time) *logic.Record {
	start := time.Now()
	defer func() { c.deps.Metrics.ObserveTick(time.Since(start)) }()

	readCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	sample := c.deps.Source.Read(readCtx)
	cancel()

	in := logic.Input{
		Time:    now,
		HotTub:  sample.HotTub,
		Solar:   logic.Missing,
		Ambient: sample.Ambient,
	}
	if sample.Complete() {
		if surface, ready := c.deps.Lag.Push(sample.SolarRaw.F); ready {
			in.Solar = logic.Fahrenheit(surface)
		} else {
			in.Solar = sample.SolarRaw
			in.WarmingUp = true
		}
	}
	if c.deps.Tracker != nil {
		c.deps.Tracker.SetLagFill(c.deps.Lag.Len())
	}
	c.deps.Metrics.SetLagFill(c.deps.Lag.Len())

	pump, heater := c.ReadSwitches(ctx)
	in.Heater = heater

	d, ok := c.deps.Engine.Decide(in)
	if !ok {
		glog.Infof("[WARMUP] Lag buffer %d/%d | Hot Tub: %s | Solar: %s",
			c.deps.Lag.Len(), c.deps.Lag.Depth()+1, sample.HotTub, sample.SolarRaw)
		return nil
	}

	state := c.deps.Engine.State()
	if pump != logic.PowerUnknown && state.Pump != logic.PowerUnknown && pump != state.Pump && d.Pump == logic.CommandNone {
		glog.Warningf("pump switch reports %s but controller expects %s", pump, state.Pump)
	}

	c.apply(ctx, "pump", c.cfg.PumpID, d.Pump)
	c.apply(ctx, "heater", c.cfg.HeaterID, d.Heater)

	rec := d.Record
	c.report(ctx, rec)
	logStatus(rec)

	if c.deps.Tracker != nil {
		c.deps.Tracker.Update(state, rec)
	}
	c.deps.Metrics.ObserveRecord(rec, state)
	return &rec
}

// apply issues a command once. Failures are logged and not retried this tick.
func (c *Controller) apply(ctx context.Context, device, id string, cmd logic.Command) {
	if cmd == logic.CommandNone {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.deps.Gateway.SetPower(ctx, id, cmd == logic.CommandOn); err != nil {
		glog.Errorf("actuator: %s (%s) %s failed: %v", device, id, cmd, err)
		c.deps.Metrics.ActuatorError(device, "set")
		return
	}
	glog.Infof("%s turned %s", capitalize(device), cmd)
}

func (c *Controller) report(ctx context.Context, rec logic.Record) {
	if c.deps.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := c.deps.Sink.Record(ctx, rec)
	if err == nil {
		return
	}
	failed := telemetry.FailedSinks(err)
	if len(failed) == 0 {
		failed = []string{"telemetry"}
	}
	for _, name := range failed {
		c.deps.Metrics.SinkError(name)
	}
	glog.Warningf("telemetry: %v", err)
}

func logStatus(rec logic.Record) {
	line := fmt.Sprintf("[STATUS] Hot Tub: %s | Solar Surface: %s | Δ = %s | Pump: %s | Heater: %s | Action: %s | %s",
		rec.HotTubF, rec.SolarF, rec.Delta, rec.Pump, rec.Heater, rec.Action, rec.Note)
	if rec.Duration != "" {
		line += " | " + rec.Duration
	}
	switch rec.Rule {
	case logic.RuleDataMissing, logic.RuleFailsafe, logic.RuleSafety:
		glog.Warning(line)
	default:
		glog.Info(line)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// StartupHeader describes the control rule for the log.
func StartupHeader(now time.Time, cfg logic.Config, interval time.Duration, lagDepth int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- Hot Tub Controller Started: %s ---\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Control rule: Δ = Solar - Tub | ON when Δ > %g°F | OFF when Δ < %g°F\n", cfg.DeltaOn, cfg.DeltaOff)
	fmt.Fprintf(&b, "Minimum ON time: %g min | Minimum OFF time: %g min\n", cfg.MinOn.Minutes(), cfg.MinOff.Minutes())
	fmt.Fprintf(&b, "Safety ceiling: %g°F | Interval: %s | Solar lag: %d ticks\n", cfg.MaxTempF, interval, lagDepth)
	fmt.Fprintf(&b, "Failsafe: shuts off pump after %d consecutive read failures.", cfg.FailsafeThreshold)
	return b.String()
}
