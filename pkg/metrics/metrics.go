package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResearchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deep_research_runs_total",
		Help: "Research runs by outcome",
	}, []string{"outcome"})

	ResearchIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deep_research_iterations",
		Help:    "Search iterations performed per completed run",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deep_research_stage_duration_seconds",
		Help:    "Time spent in each research stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deep_research_chat_messages_total",
		Help: "Chat turns by routing mode",
	}, []string{"mode"})
)
