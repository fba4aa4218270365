// Package metrics provides Prometheus instrumentation for the scoring engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesApplied counts applied matches, partitioned by scoring mode.
	MatchesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_matches_applied_total",
		Help: "Total number of matches applied",
	}, []string{"mode"})

	// MatchesUndone counts reversed matches.
	MatchesUndone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_matches_undone_total",
		Help: "Total number of matches undone",
	})

	// ApplyLatency tracks match application latency by scoring mode.
	ApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_match_apply_seconds",
		Help:    "Match application latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// BetsPlaced counts accepted bets.
	BetsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_bets_placed_total",
		Help: "Total number of bets placed",
	})

	// BetVolume tracks cumulative staked tickets.
	BetVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_bet_volume_total",
		Help: "Cumulative staked ticket volume",
	})

	// LedgerTransfers counts ledger transactions, partitioned by reason.
	LedgerTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_ledger_transfers_total",
		Help: "Total ledger transactions written",
	}, []string{"reason"})

	// LedgerReplays counts idempotent replays of already-applied refs.
	LedgerReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_ledger_replays_total",
		Help: "Ledger operations replayed via external ref",
	})

	// ScoreSubmissions counts leaderboard score submissions.
	ScoreSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_score_submissions_total",
		Help: "Total leaderboard score submissions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label with the matched route pattern, not the raw path: ids in the
		// URL would explode label cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
