package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "classifications_total",
		Help:      "Classification results by detected context.",
	}, []string{"context"})

	ambiguousTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "ambiguous_classifications_total",
		Help:      "Classification passes where more than one signal matched.",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "transitions_total",
		Help:      "Context transitions by target and outcome.",
	}, []string{"target", "outcome"})

	retryDelaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "retry_backoff_sleeps_total",
		Help:      "Backoff sleeps taken by retry-wrapped operations.",
	})

	interactionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "interaction_failures_total",
		Help:      "Guarded interaction failures by classified kind.",
	}, []string{"kind"})
)

func recordClassification(c Context) {
	classificationsTotal.WithLabelValues(c.String()).Inc()
}

func recordAmbiguous() {
	ambiguousTotal.Inc()
}

func recordTransition(target Context, outcome Outcome) {
	transitionsTotal.WithLabelValues(target.String(), outcome.String()).Inc()
}

func recordRetryDelay() {
	retryDelaysTotal.Inc()
}

func recordInteractionFailure(kind string) {
	interactionFailures.WithLabelValues(kind).Inc()
}
