// Package metrics exposes Prometheus collectors for the coordinator.
// Served on the control API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitions counts lifecycle transitions by target state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "state_transitions_total",
		Help:      "Lifecycle state transitions by target state.",
	}, []string{"state"})

	BackupBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "backup_bytes_total",
		Help:      "Bytes uploaded by completed backups.",
	})

	RestoreBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "restore_bytes_total",
		Help:      "Bytes downloaded by completed restores.",
	})

	BackupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden",
		Name:      "backup_duration_seconds",
		Help:      "Wall time of backup archive+upload.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	RestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden",
		Name:      "restore_duration_seconds",
		Help:      "Wall time of restore download+extract.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// CommandRetries counts console reconnect attempts.
	CommandRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "command_reconnects_total",
		Help:      "Console channel reconnect attempts.",
	})

	// ProxyChannelsLeased tracks currently leased proxy data channels.
	ProxyChannelsLeased = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "proxy_channels_leased",
		Help:      "Currently leased storage proxy data channels.",
	})
)
