package gopyramid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tile outcomes recorded by Metrics.
const (
	tileCopied     = "copied"
	tileEmpty      = "empty"
	tileClipped    = "clipped"
	tileOutOfRange = "out_of_range"
)

// Metrics holds the Prometheus collectors updated by an Assembler.
type Metrics struct {
	reads            *prometheus.CounterVec
	tiles            *prometheus.CounterVec
	readDuration     prometheus.Histogram
	geometryWarnings prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyramid_reads_total",
				Help: "Raster reads by result.",
			},
			[]string{"result"},
		),
		tiles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyramid_tiles_total",
				Help: "Tiles received from the store by outcome.",
			},
			[]string{"outcome"},
		),
		readDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pyramid_read_duration_seconds",
				Help:    "Duration of raster reads in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
		),
		geometryWarnings: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pyramid_geometry_warnings_total",
				Help: "Reads whose region was partly or fully outside the level.",
			},
		),
	}
}

func (m *Metrics) observeRead(err error, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reads.WithLabelValues(result).Inc()
	m.readDuration.Observe(seconds)
}

func (m *Metrics) incTile(outcome string) {
	if m == nil {
		return
	}
	m.tiles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incGeometryWarning() {
	if m == nil {
		return
	}
	m.geometryWarnings.Inc()
}
