// Package metric provides Prometheus metrics for meshkv.
package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshkv"

// Registry holds all application metrics on a private prometheus registry.
//
// All methods are safe on a nil *Registry so callers can run without
// metrics in tests.
type Registry struct {
	registry *prometheus.Registry

	// Persistence
	SavesTotal        *prometheus.CounterVec
	SaveDuration      *prometheus.HistogramVec
	SaveBytes         *prometheus.CounterVec
	LastSaveTimestamp prometheus.Gauge
	LastSaveRecords   prometheus.Gauge
	LoadsTotal        *prometheus.CounterVec
	LoadDuration      prometheus.Histogram
	Loading           prometheus.Gauge
	ScheduleTriggers  *prometheus.CounterVec

	// Keyspace
	Keys prometheus.Gauge

	// Front-end
	CommandsTotal *prometheus.CounterVec
}

// NewRegistry creates a registry with Go runtime and process collectors
// plus the persistence metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "saves_total",
			Help:      "Snapshot saves by format and result.",
		}, []string{"format", "result"}),
		SaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "save_duration_seconds",
			Help:      "Wall time of successful snapshot saves.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"format"}),
		SaveBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "save_bytes_total",
			Help:      "Bytes written by snapshot saves.",
		}, []string{"format"}),
		LastSaveTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "last_save_timestamp_seconds",
			Help:      "Unix time of the last successful save.",
		}),
		LastSaveRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "last_save_records",
			Help:      "Records written by the last successful save.",
		}),
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "loads_total",
			Help:      "Snapshot loads by result.",
		}, []string{"result"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "load_duration_seconds",
			Help:      "Wall time of successful snapshot loads.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Loading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "loading",
			Help:      "1 while a snapshot load is in progress.",
		}),
		ScheduleTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "schedule_triggers_total",
			Help:      "Scheduled save attempts by outcome (fired, skipped, failed).",
		}, []string{"outcome"}),
		Keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Keys in the dataset after the last save or load.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Front-end commands by name and status.",
		}, []string{"command", "status"}),
	}

	reg.MustRegister(
		r.SavesTotal,
		r.SaveDuration,
		r.SaveBytes,
		r.LastSaveTimestamp,
		r.LastSaveRecords,
		r.LoadsTotal,
		r.LoadDuration,
		r.Loading,
		r.ScheduleTriggers,
		r.Keys,
		r.CommandsTotal,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler exposing this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Register adds extra collectors, such as a backend's own gauges.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	if r == nil {
		return nil
	}
	for _, c := range cs {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveSave records one save attempt.
func (r *Registry) ObserveSave(format string, d time.Duration, bytes int64, records int, err error) {
	if r == nil {
		return
	}
	r.SavesTotal.WithLabelValues(format, result(err)).Inc()
	if err != nil {
		return
	}
	r.SaveDuration.WithLabelValues(format).Observe(d.Seconds())
	r.SaveBytes.WithLabelValues(format).Add(float64(bytes))
	r.LastSaveTimestamp.SetToCurrentTime()
	r.LastSaveRecords.Set(float64(records))
	r.Keys.Set(float64(records))
}

// ObserveLoad records one load attempt.
func (r *Registry) ObserveLoad(d time.Duration, records int, err error) {
	if r == nil {
		return
	}
	r.LoadsTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		r.LoadDuration.Observe(d.Seconds())
		r.Keys.Set(float64(records))
	}
}

// SetLoading mirrors the loading flag.
func (r *Registry) SetLoading(loading bool) {
	if r == nil {
		return
	}
	if loading {
		r.Loading.Set(1)
	} else {
		r.Loading.Set(0)
	}
}

// RecordTrigger counts a scheduler decision.
func (r *Registry) RecordTrigger(outcome string) {
	if r == nil {
		return
	}
	r.ScheduleTriggers.WithLabelValues(outcome).Inc()
}

// RecordCommand counts a front-end command.
func (r *Registry) RecordCommand(command, status string) {
	if r == nil {
		return
	}
	r.CommandsTotal.WithLabelValues(command, status).Inc()
}
