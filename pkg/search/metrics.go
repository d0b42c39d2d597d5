package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for search operations.
var (
	searchPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_search_pages_total",
		Help: "Total decoded search pages by protocol version",
	}, []string{"version"})

	searchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_search_items_total",
		Help: "Total decoded search items by protocol version",
	}, []string{"version"})

	searchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_search_errors_total",
		Help: "Total failed searches by error kind",
	}, []string{"kind"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_search_duration_seconds",
		Help:    "Search duration in seconds by protocol version and mode",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"version", "mode"})
)
