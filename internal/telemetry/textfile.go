package telemetry

import (
	"context"
	"sync"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ipmifanctl"

// TextfileExporter keeps Prometheus gauges and counters for the control
// loop and rewrites a node_exporter textfile after every cycle.
type TextfileExporter struct {
	path     string
	log      logger.Logger
	mu       sync.Mutex
	registry *prometheus.Registry

	temperature *prometheus.GaugeVec
	fanPercent  prometheus.Gauge
	lastCycle   prometheus.Gauge
	cycles      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	adjustments prometheus.Counter
}

func NewTextfileExporter(cfg TextfileConfig, log logger.Logger) *TextfileExporter {
	e := &TextfileExporter{
		path:     cfg.Path,
		log:      log,
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last temperature read from the watched sensor.",
		}, []string{"sensor"}),
		fanPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_percent",
			Help:      "Fan duty cycle currently commanded.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last control cycle.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Control cycles by result.",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Failed control cycles by error code.",
		}, []string{"code"}),
		adjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fan_adjustments_total",
			Help:      "Changes of the commanded fan duty cycle.",
		}),
	}

	e.registry.MustRegister(e.temperature, e.fanPercent, e.lastCycle, e.cycles, e.failures, e.adjustments)

	return e
}

func (e *TextfileExporter) Record(_ context.Context, snapshot *metrics.Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(metrics.ErrInvalidMetrics)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastCycle.Set(float64(snapshot.Timestamp.Unix()))
	e.fanPercent.Set(float64(snapshot.FanSpeed.Target))

	if snapshot.Failed() {
		e.cycles.WithLabelValues("error").Inc()
		e.failures.WithLabelValues(snapshot.Failure.Code).Inc()
	} else {
		e.cycles.WithLabelValues("ok").Inc()
	}

	if snapshot.Temperature.Valid {
		e.temperature.WithLabelValues(snapshot.Sensor).Set(float64(snapshot.Temperature.Value))
	}

	if snapshot.FanSpeed.Changed {
		e.adjustments.Inc()
	}

	if err := prometheus.WriteToTextfile(e.path, e.registry); err != nil {
		return errFactory.Wrap(ErrWriteTextfile, err).WithData(e.path)
	}

	return nil
}

func (e *TextfileExporter) Close() error {
	return nil
}
