package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Verdicts by final category
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_classifier_verdicts_total",
			Help: "Total number of classification verdicts by category",
		},
		[]string{"category"},
	)

	// Per-rule evaluation time
	RuleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_classifier_rule_duration_seconds",
			Help:    "Rule evaluation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~20ms
		},
		[]string{"rule"},
	)

	// Degraded network lookups
	TrustLookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_classifier_trust_lookup_failures_total",
			Help: "Total number of trust lookups that fell back to a default score",
		},
		[]string{"lookup"},
	)

	// Threat levels assigned
	ThreatLevels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_classifier_threat_levels_total",
			Help: "Total number of trust assessments by threat level",
		},
		[]string{"level"},
	)

	// Vendor intents resolved
	VendorIntents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_classifier_vendor_intents_total",
			Help: "Total number of vendor intent classifications",
		},
		[]string{"vendor", "intent"},
	)

	// Pattern hits dropped because the recorder queue was full
	PatternHitsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mail_classifier_pattern_hits_dropped_total",
			Help: "Total number of subcategory pattern hits dropped",
		},
	)

	// Feedback corrections queued
	FeedbackEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_classifier_feedback_enqueued_total",
			Help: "Total number of feedback corrections queued for training",
		},
		[]string{"sink"},
	)

	// Training runs by outcome
	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_classifier_training_runs_total",
			Help: "Total number of training runs by status",
		},
		[]string{"status"}, // status: ok, failed, rejected
	)
)

// ObserveRule records how long a rule took
func ObserveRule(rule string, duration time.Duration) {
	RuleDuration.WithLabelValues(rule).Observe(duration.Seconds())
}

// IncrementVerdict counts a final verdict
func IncrementVerdict(category string) {
	VerdictsTotal.WithLabelValues(category).Inc()
}

// IncrementLookupFailure counts a degraded lookup
func IncrementLookupFailure(lookup string) {
	TrustLookupFailures.WithLabelValues(lookup).Inc()
}

// IncrementThreatLevel counts an assessment
func IncrementThreatLevel(level string) {
	ThreatLevels.WithLabelValues(level).Inc()
}

// IncrementVendorIntent counts a vendor classification
func IncrementVendorIntent(vendor, intent string) {
	VendorIntents.WithLabelValues(vendor, intent).Inc()
}

// IncrementFeedback counts a queued correction
func IncrementFeedback(sink string) {
	FeedbackEnqueued.WithLabelValues(sink).Inc()
}

// IncrementTrainingRun counts a finished training run
func IncrementTrainingRun(status string) {
	TrainingRuns.WithLabelValues(status).Inc()
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
