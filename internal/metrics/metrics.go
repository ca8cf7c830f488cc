// Package metrics exposes the prometheus collectors tracked across a
// database's lifetime: commits, checkpoints, index mutations, and
// backup/restore operations.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entidb_commits_total",
			Help: "Total number of transaction commits by outcome",
		},
		[]string{"outcome"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entidb_commit_duration_seconds",
			Help:    "Time taken to commit a transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entidb_entities_total",
			Help: "Total number of live entities by collection",
		},
		[]string{"collection"},
	)

	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entidb_checkpoint_duration_seconds",
			Help:    "Time taken to compact the log into a checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entidb_checkpoints_total",
			Help: "Total number of checkpoints taken",
		},
	)

	LogBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entidb_log_bytes",
			Help: "Current size of the append-only log in bytes since the last checkpoint",
		},
	)

	IndexOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entidb_index_ops_total",
			Help: "Total number of secondary index operations by kind and operation",
		},
		[]string{"kind", "op"},
	)

	IndexConstraintViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entidb_index_constraint_violations_total",
			Help: "Total number of unique-index constraint violations by kind",
		},
		[]string{"kind"},
	)

	BackupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entidb_backups_total",
			Help: "Total number of backups taken",
		},
	)

	BackupBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entidb_backup_bytes",
			Help:    "Size of produced backups in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	RestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entidb_restores_total",
			Help: "Total number of restore operations by outcome",
		},
		[]string{"outcome"},
	)

	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entidb_restore_duration_seconds",
			Help:    "Time taken to restore a backup in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default prometheus
// registry. Safe to call from every Database.Open: only the first call
// in the process actually registers anything, so opening more than one
// database never panics on a duplicate registration.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(CommitsTotal)
		prometheus.MustRegister(CommitDuration)
		prometheus.MustRegister(EntitiesTotal)
		prometheus.MustRegister(CheckpointDuration)
		prometheus.MustRegister(CheckpointsTotal)
		prometheus.MustRegister(LogBytes)
		prometheus.MustRegister(IndexOpsTotal)
		prometheus.MustRegister(IndexConstraintViolationsTotal)
		prometheus.MustRegister(BackupsTotal)
		prometheus.MustRegister(BackupBytes)
		prometheus.MustRegister(RestoresTotal)
		prometheus.MustRegister(RestoreDuration)
	})
}

// Handler returns the Prometheus HTTP handler for a process that wants
// to expose these collectors on its own mux.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's wall-clock duration and reports it to
// either a plain histogram or a labeled one.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration reports the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
