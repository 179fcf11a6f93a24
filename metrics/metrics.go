package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ClassifierRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moderation_classifier_request_duration_seconds",
		Help:    "Latency of classifier chat completion calls",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"model", "status"})

	ClassifierTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_classifier_tokens_total",
		Help: "Tokens consumed by classifier calls",
	}, []string{"model", "type"})

	VerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_verdicts_total",
		Help: "Verdicts by content type and outcome (passed, rejected, failed_open, skipped)",
	}, []string{"content_type", "outcome"})

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_scan_duration_seconds",
		Help:    "Duration of one batch moderation pass",
		Buckets: prometheus.DefBuckets,
	})

	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_scans_total",
		Help: "Batch moderation passes by result",
	}, []string{"result"})

	PendingItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moderation_pending_items",
		Help: "Unmoderated rows found at the start of the last pass",
	}, []string{"content_type"})

	CascadeDeletedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_cascade_deleted_rows_total",
		Help: "Rows removed by rejection cascades",
	}, []string{"table"})

	FloorAllocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "forum_floor_allocation_seconds",
		Help:    "Time spent holding the thread row lock while allocating a floor",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	PushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_push_failures_total",
		Help: "Notification pushes that failed",
	})
)

var registerOnce sync.Once

// MustRegister registers all collectors once.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			ClassifierRequestDuration,
			ClassifierTokensTotal,
			VerdictsTotal,
			ScanDuration,
			ScansTotal,
			PendingItems,
			CascadeDeletedRows,
			FloorAllocationDuration,
			PushFailures,
		)
	})
}

// ObserveClassifierCall records latency and token usage of one classifier call.
func ObserveClassifierCall(model string, start time.Time, promptTokens, completionTokens int64, err error) {
	if model == "" {
		model = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ClassifierRequestDuration.WithLabelValues(model, status).Observe(time.Since(start).Seconds())
	if promptTokens > 0 {
		ClassifierTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		ClassifierTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveVerdict counts one verdict outcome.
func ObserveVerdict(contentType, outcome string) {
	VerdictsTotal.WithLabelValues(contentType, outcome).Inc()
}

// ObserveScan records one finished pass.
func ObserveScan(start time.Time, err error) {
	ScanDuration.Observe(time.Since(start).Seconds())
	result := "committed"
	if err != nil {
		result = "rolled_back"
	}
	ScansTotal.WithLabelValues(result).Inc()
}
