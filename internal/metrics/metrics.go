// Package metrics exposes scheduler activity as prometheus collectors.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/relocate"
)

const namespace = "keepsake"

// Metrics holds the collectors. Each instance owns its registry so tests
// and multiple servers never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	commits        *prometheus.CounterVec
	commitPaths    *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	relocations    *prometheus.CounterVec
	folders        prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits recorded, by folder and source.",
		}, []string{"folder", "source"}),
		commitPaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_paths_total",
			Help:      "Paths included in recorded commits.",
		}, []string{"folder"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent recording a commit.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"folder"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Scheduler errors, by folder and kind (commit, observer, fatal).",
		}, []string{"folder", "kind"}),
		relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocations_total",
			Help:      "History store relocations, by action.",
		}, []string{"action"}),
		folders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_folders",
			Help:      "Folders currently registered.",
		}),
	}

	m.registry.MustRegister(
		m.commits,
		m.commitPaths,
		m.commitDuration,
		m.errors,
		m.relocations,
		m.folders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetFolders records the number of registered folders.
func (m *Metrics) SetFolders(n int) {
	m.folders.Set(float64(n))
}

func (m *Metrics) OnCommit(e engine.CommitEvent) {
	m.commits.WithLabelValues(e.FolderID, e.Source).Inc()
	m.commitPaths.WithLabelValues(e.FolderID).Add(float64(len(e.Paths)))
	m.commitDuration.WithLabelValues(e.FolderID).Observe(e.Duration.Seconds())
}

func (m *Metrics) OnError(e engine.ErrorEvent) {
	m.errors.WithLabelValues(e.FolderID, errorKind(e)).Inc()
}

func (m *Metrics) OnRelocate(e engine.RelocateEvent) {
	action := string(e.Result.Action)
	if e.Err != "" {
		action = "failed"
	} else if action == "" {
		action = string(relocate.ActionNone)
	}
	m.relocations.WithLabelValues(action).Inc()
}

func errorKind(e engine.ErrorEvent) string {
	switch {
	case e.Fatal:
		return "fatal"
	case strings.HasPrefix(e.Message, "observer:"):
		return "observer"
	default:
		return "commit"
	}
}
