package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coviditaly_feed_api_calls_total",
			Help: "Total upstream feed API calls",
		},
		[]string{"endpoint", "status"},
	)

	FeedAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coviditaly_feed_api_latency_seconds",
			Help:    "Upstream feed call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coviditaly_records_ingested_total",
			Help: "Province records written to the store",
		},
		[]string{"category"},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coviditaly_refreshes_total",
			Help: "Refresh attempts by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	StrategyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coviditaly_strategy_decisions_total",
			Help: "Refresh strategy decisions",
		},
		[]string{"strategy"},
	)
)
