package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal counts executed batches by strategy and outcome.
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionflow_batches_total",
		Help: "Executed batches by strategy and outcome",
	}, []string{"strategy", "outcome"})

	// ActionsTotal counts terminal action results.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionflow_actions_total",
		Help: "Terminal action results by tool and status",
	}, []string{"tool", "status"})

	// ToolInvocations counts registry invocations, including retries.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionflow_tool_invocations_total",
		Help: "Tool invocations by category, tool and outcome",
	}, []string{"category", "tool", "outcome"})

	// ToolDuration observes invocation latency.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "actionflow_tool_duration_seconds",
		Help:    "Tool invocation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"category", "tool"})

	// Extractions counts placeholder extractions by outcome.
	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionflow_extractions_total",
		Help: "Placeholder extractions by extractor and outcome",
	}, []string{"extractor", "outcome"})

	// OrchestratorRounds observes rounds per dependent batch.
	OrchestratorRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actionflow_orchestrator_rounds",
		Help:    "Scheduling rounds per dependent batch",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
	})
)
