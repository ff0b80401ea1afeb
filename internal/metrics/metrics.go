package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the interceptor's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	searches      prometheus.Counter
	searchSeconds prometheus.Histogram
	candidates    prometheus.Histogram
	moveDelay     prometheus.Histogram
	movesSent     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	evalGap       prometheus.Histogram
	games         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		searches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "limbot",
			Subsystem: "engine",
			Name:      "searches_total",
			Help:      "Engine searches issued",
		}),
		searchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "limbot",
			Subsystem: "engine",
			Name:      "search_seconds",
			Help:      "Time from search start to best move",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		candidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "limbot",
			Subsystem: "engine",
			Name:      "candidates",
			Help:      "Candidate moves per completed search",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8},
		}),
		moveDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "limbot",
			Subsystem: "moves",
			Name:      "delay_seconds",
			Help:      "Scheduled delay before a move is sent",
			Buckets:   []float64{0, 0.2, 0.5, 1, 1.5, 2, 3, 5},
		}),
		movesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "limbot",
			Subsystem: "moves",
			Name:      "released_total",
			Help:      "Scheduled moves by outcome",
		}, []string{"outcome"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "limbot",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Inbound events dropped by reason",
		}, []string{"reason"}),
		evalGap: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "limbot",
			Subsystem: "moves",
			Name:      "target_gap_pawns",
			Help:      "Absolute distance between the chosen evaluation and the target",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		games: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "limbot",
			Subsystem: "games",
			Name:      "finished_total",
			Help:      "Finished games by result from the bot's side",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SearchStarted() {
	if m == nil {
		return
	}
	m.searches.Inc()
}

func (m *Metrics) SearchCompleted(d time.Duration, candidates int) {
	if m == nil {
		return
	}
	m.searchSeconds.Observe(d.Seconds())
	m.candidates.Observe(float64(candidates))
}

func (m *Metrics) MoveScheduled(delay time.Duration, gapPawns float64) {
	if m == nil {
		return
	}
	m.moveDelay.Observe(delay.Seconds())
	m.evalGap.Observe(gapPawns)
}

// MoveReleased counts a fired send; outcome is "sent", "offline" or "error".
func (m *Metrics) MoveReleased(outcome string) {
	if m == nil {
		return
	}
	m.movesSent.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// GameFinished counts a finished game; result is "win", "draw" or "loss".
func (m *Metrics) GameFinished(result string) {
	if m == nil {
		return
	}
	m.games.WithLabelValues(result).Inc()
}
