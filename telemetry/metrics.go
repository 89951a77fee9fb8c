package telemetry

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors window stats into a private Prometheus registry that is
// dumped in text exposition format at the end of a run.
type Metrics struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	population prometheus.Gauge
	demes      prometheus.Gauge
	genotypes  prometheus.Gauge
	methMean   prometheus.Gauge
	elapsed    prometheus.Gauge
	bookmarks  *prometheus.CounterVec
}

// NewMetrics creates and registers every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "methdemon",
			Name:      "events_total",
			Help:      "Simulation events by kind.",
		}, []string{"kind"}),
		population: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "methdemon",
			Name:      "population",
			Help:      "Live cells at the last sample.",
		}),
		demes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "methdemon",
			Name:      "demes",
			Help:      "Demes at the last sample.",
		}),
		genotypes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "methdemon",
			Name:      "genotypes",
			Help:      "Live genotypes at the last sample.",
		}),
		methMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "methdemon",
			Name:      "methylated_fraction_mean",
			Help:      "Mean per-cell methylated fraction at the last sample.",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "methdemon",
			Name:      "elapsed_generations",
			Help:      "Simulated time at the last sample.",
		}),
		bookmarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "methdemon",
			Name:      "bookmarks_total",
			Help:      "Bookmarks triggered by type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.events, m.population, m.demes, m.genotypes, m.methMean, m.elapsed, m.bookmarks)
	return m
}

// Observe records one window.
func (m *Metrics) Observe(s WindowStats) {
	if m == nil {
		return
	}
	m.events.WithLabelValues("birth").Add(float64(s.Births))
	m.events.WithLabelValues("death").Add(float64(s.Deaths))
	m.events.WithLabelValues("fission").Add(float64(s.Fissions))
	m.events.WithLabelValues("mutation").Add(float64(s.Mutations))
	m.events.WithLabelValues("methylation").Add(float64(s.Methylations))
	m.events.WithLabelValues("demethylation").Add(float64(s.Demethylations))
	m.events.WithLabelValues("discarded").Add(float64(s.Discarded))
	m.population.Set(float64(s.Population))
	m.demes.Set(float64(s.Demes))
	m.genotypes.Set(float64(s.Genotypes))
	m.methMean.Set(s.MethMean)
	m.elapsed.Set(s.WindowEnd)
}

// ObserveBookmark counts a bookmark.
func (m *Metrics) ObserveBookmark(b Bookmark) {
	if m == nil {
		return
	}
	m.bookmarks.WithLabelValues(string(b.Type)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes metrics.prom into dir.
func (m *Metrics) WriteTextfile(dir string) error {
	if m == nil {
		return nil
	}
	path := filepath.Join(dir, "metrics.prom")
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
