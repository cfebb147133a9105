package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "fleeti_sensors_"

	resultSuccess = "success"
	resultError   = "error"

	catalogHit  = "hit"
	catalogMiss = "miss"
)

var (
	registerOnce sync.Once

	derivations      *prometheus.CounterVec
	deriveLatency    *prometheus.HistogramVec
	entriesTotal     *prometheus.CounterVec
	accessorySkipped *prometheus.CounterVec

	catalogLookups *prometheus.CounterVec
	samplesTotal   *prometheus.CounterVec
	publishTotal   *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init(logger *logrus.Logger) {
	registerOnce.Do(func() {
		derivations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "derivations_total",
				Help: "Total sensor derivations by family",
			},
			[]string{"family"},
		)
		deriveLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "derive_latency_seconds",
				Help:    "Derivation latency in seconds, lookups included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"family"},
		)
		entriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "entries_total",
				Help: "Total sensor entries produced by family",
			},
			[]string{"family"},
		)
		accessorySkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "accessories_skipped_total",
				Help: "Accessories with sensors that produced no usable measurement",
			},
			[]string{"family"},
		)
		catalogLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "catalog_lookups_total",
				Help: "Tracker sensor catalog lookups by result",
			},
			[]string{"result"},
		)
		samplesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_total",
				Help: "Telemetry records read by result",
			},
			[]string{"result"},
		)
		publishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_total",
				Help: "Derived results published by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			derivations,
			deriveLatency,
			entriesTotal,
			accessorySkipped,
			catalogLookups,
			samplesTotal,
			publishTotal,
		)
		if logger != nil {
			logger.Debug("Prometheus collectors registered")
		}
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDerivation records one derivation of a family.
func ObserveDerivation(family string, entries, skipped int, duration time.Duration) {
	if family == "" {
		family = "unknown"
	}
	if derivations != nil {
		derivations.WithLabelValues(family).Inc()
	}
	if deriveLatency != nil {
		deriveLatency.WithLabelValues(family).Observe(duration.Seconds())
	}
	if entriesTotal != nil && entries > 0 {
		entriesTotal.WithLabelValues(family).Add(float64(entries))
	}
	if accessorySkipped != nil && skipped > 0 {
		accessorySkipped.WithLabelValues(family).Add(float64(skipped))
	}
}

// IncCatalogLookup counts a catalog lookup result (hit, miss, error).
func IncCatalogLookup(result string) {
	if result == "" {
		result = "unknown"
	}
	if catalogLookups != nil {
		catalogLookups.WithLabelValues(result).Inc()
	}
}

// IncSample counts a telemetry record by parse result.
func IncSample(result string) {
	if result == "" {
		result = resultSuccess
	}
	if samplesTotal != nil {
		samplesTotal.WithLabelValues(result).Inc()
	}
}

// IncPublish counts a publish attempt by result.
func IncPublish(result string) {
	if result == "" {
		result = resultSuccess
	}
	if publishTotal != nil {
		publishTotal.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	CatalogHit   = catalogHit
	CatalogMiss  = catalogMiss
	CatalogError = resultError
)
