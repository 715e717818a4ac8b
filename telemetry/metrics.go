// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsProcessed   prometheus.Counter
	SubmissionsAccepted prometheus.Counter
	SubmissionsRejected prometheus.Counter
	RacesStarted        prometheus.Counter
	RacesStopped        prometheus.Counter
	LeaderboardEdits    prometheus.Counter
	SideEffectFailures  prometheus.Counter

	// Histograms (seconds)
	CommandDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "race_commands_processed_total", Help: "Number of chat commands processed"})
		SubmissionsAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "race_submissions_accepted_total", Help: "Number of submissions accepted"})
		SubmissionsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "race_submissions_rejected_total", Help: "Number of submissions rejected"})
		RacesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "race_races_started_total", Help: "Number of races started"})
		RacesStopped = promauto.NewCounter(prometheus.CounterOpts{Name: "race_races_stopped_total", Help: "Number of races stopped"})
		LeaderboardEdits = promauto.NewCounter(prometheus.CounterOpts{Name: "race_leaderboard_edits_total", Help: "Number of leaderboard messages posted or edited"})
		SideEffectFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "race_side_effect_failures_total", Help: "Number of post-commit chat side effects that failed"})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "race_command_duration_seconds", Help: "Command handling duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// Inc increments a counter if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
