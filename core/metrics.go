package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts snapshot fetches from the tracker by outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackerstats",
			Name:      "fetch_total",
			Help:      "Total number of stats snapshot fetches",
		},
		[]string{"status"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trackerstats",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of stats snapshot fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ChartRequests counts chart API requests by chart and outcome.
	ChartRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackerstats",
			Name:      "chart_requests_total",
			Help:      "Total number of chart requests",
		},
		[]string{"chart", "status"},
	)

	SnapshotTorrents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trackerstats",
			Name:      "snapshot_torrents",
			Help:      "Registered torrents in the latest snapshot",
		},
	)

	SnapshotItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trackerstats",
			Name:      "snapshot_items",
			Help:      "Tracked torrents with peer history in the latest snapshot",
		},
	)
)
