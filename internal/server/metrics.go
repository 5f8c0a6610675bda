package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anibalchinley/extractor-proveedores/internal/engine"
	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "runs_total",
		Help:      "Extraction runs by terminal status.",
	}, []string{"status"})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "extractor",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one extraction run.",
		Buckets:   prometheus.ExponentialBuckets(15, 2, 9),
	})
	metricClaimsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "claims_extracted_total",
		Help:      "Claim rows harvested per insurer and portal tab.",
	}, []string{"company", "section"})
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "context_transitions_total",
		Help:      "Platform context switches by target and outcome.",
	}, []string{"to", "outcome"})
	metricTransitionAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "extractor",
		Name:      "context_transition_attempts",
		Help:      "Interaction attempts spent per context switch.",
		Buckets:   prometheus.LinearBuckets(1, 1, 6),
	})
	metricNotionSync = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extractor",
		Name:      "notion_sync_total",
		Help:      "Notion sync outcomes per claim.",
	}, []string{"outcome"})
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// observeRun folds one finished run into the exported metrics.
func observeRun(summary *engine.RunSummary) {
	metricRuns.WithLabelValues(summary.Status).Inc()
	metricRunDuration.Observe(summary.Duration.Seconds())
	for _, p := range summary.Platforms {
		metricClaimsExtracted.WithLabelValues(p.Company, scrape.SectionAssigned.String()).Add(float64(p.Assigned))
		metricClaimsExtracted.WithLabelValues(p.Company, scrape.SectionSettlement.String()).Add(float64(p.Settlement))
	}
	for _, tr := range summary.Transitions {
		metricTransitions.WithLabelValues(tr.To, tr.Outcome).Inc()
		metricTransitionAttempts.Observe(float64(tr.Attempts))
	}
	metricNotionSync.WithLabelValues("created").Add(float64(summary.Created))
	metricNotionSync.WithLabelValues("skipped").Add(float64(summary.Skipped))
	metricNotionSync.WithLabelValues("failed").Add(float64(summary.Failed))
}
