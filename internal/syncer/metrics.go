package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailcache_sync_runs_total",
			Help: "Mailbox sync runs by outcome.",
		},
		[]string{
			"result", // ok, connect_error, auth_error, error
		},
	)
	metricFolders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailcache_folder_syncs_total",
			Help: "Folder syncs by status.",
		},
		[]string{"status"},
	)
	metricFolderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailcache_folder_sync_duration_seconds",
			Help:    "Time spent syncing one folder.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
	metricMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailcache_messages_synced_total",
			Help: "Message envelopes written to the cache.",
		},
	)
)
