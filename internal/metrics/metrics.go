// Package metrics exposes controller state as Prometheus metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/hottub-controller/internal/logic"
)

const namespace = "hottub"

type Metrics struct {
	gatherer prometheus.Gatherer

	temperature    *prometheus.GaugeVec
	delta          prometheus.Gauge
	pumpOn         prometheus.Gauge
	heaterState    *prometheus.GaugeVec
	readFailures   prometheus.Gauge
	lagFill        prometheus.Gauge
	decisions      *prometheus.CounterVec
	actuatorErrors *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	httpRequests   *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
// gatherer serves the /metrics endpoint; pass a *prometheus.Registry for both.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_fahrenheit",
			Help:      "Last temperature reading by sensor (tub, solar_surface, ambient).",
		}, []string{"sensor"}),
		delta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delta_fahrenheit",
			Help:      "Solar surface minus hot tub temperature.",
		}),
		pumpOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_on",
			Help:      "1 when the engine believes the pump is on.",
		}),
		heaterState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heater_state",
			Help:      "1 for the heater's current observed state.",
		}, []string{"state"}),
		readFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_read_failures",
			Help:      "Consecutive ticks with missing temperature data.",
		}),
		lagFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lag_buffer_fill",
			Help:      "Samples held in the solar lag buffer.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions made by action and rule.",
		}, []string{"action", "rule"}),
		actuatorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_errors_total",
			Help:      "Failed switch reads or commands by device.",
		}, []string{"device", "op"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed record deliveries by sink.",
		}, []string{"sink"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one control tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.temperature,
		m.delta,
		m.pumpOn,
		m.heaterState,
		m.readFailures,
		m.lagFill,
		m.decisions,
		m.actuatorErrors,
		m.sinkErrors,
		m.tickDuration,
		m.httpRequests,
	)
	return m
}

// New registers on a fresh registry that also carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewMetrics(reg, reg)
}

func setTemp(g prometheus.Gauge, t logic.Temperature) {
	if t.Valid {
		g.Set(t.F)
	}
}

// ObserveRecord updates gauges and counters from a decision.
func (m *Metrics) ObserveRecord(rec logic.Record, state logic.State) {
	if m == nil {
		return
	}
	setTemp(m.temperature.WithLabelValues("tub"), rec.HotTubF)
	setTemp(m.temperature.WithLabelValues("solar_surface"), rec.SolarF)
	setTemp(m.temperature.WithLabelValues("ambient"), rec.AmbientF)
	setTemp(m.delta, rec.Delta)

	if state.Pump == logic.PowerOn {
		m.pumpOn.Set(1)
	} else {
		m.pumpOn.Set(0)
	}
	for _, s := range []logic.PowerState{logic.PowerOn, logic.PowerOff, logic.PowerUnknown} {
		v := 0.0
		if rec.Heater == s {
			v = 1
		}
		m.heaterState.WithLabelValues(string(s)).Set(v)
	}
	m.readFailures.Set(float64(state.ReadFailures))
	m.decisions.WithLabelValues(string(rec.Action), string(rec.Rule)).Inc()
}

// SetLagFill reports the lag buffer fill level.
func (m *Metrics) SetLagFill(n int) {
	if m == nil {
		return
	}
	m.lagFill.Set(float64(n))
}

// ActuatorError counts a failed switch operation.
func (m *Metrics) ActuatorError(device, op string) {
	if m == nil {
		return
	}
	m.actuatorErrors.WithLabelValues(device, op).Inc()
}

// SinkError counts a failed record delivery.
func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// ObserveTick records how long a tick took.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to route by response status.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
