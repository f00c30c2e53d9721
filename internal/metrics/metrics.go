// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TradesProcessed counts trades run through the pipeline by result
// (scored, clean, rejected).
var TradesProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polywatch_trades_processed_total",
		Help: "Total number of trades processed by the pipeline",
	},
	[]string{"result"},
)

// SignalsTriggered counts triggered signals by detector.
var SignalsTriggered = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polywatch_signals_triggered_total",
		Help: "Total number of detector signals triggered",
	},
	[]string{"detector"},
)

// DetectorErrors counts isolated per-detector failures.
var DetectorErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polywatch_detector_errors_total",
		Help: "Total number of detector failures isolated by the pipeline",
	},
	[]string{"detector"},
)

// VerdictsEmitted counts emitted verdicts by confidence level.
var VerdictsEmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polywatch_verdicts_emitted_total",
		Help: "Total number of risk verdicts emitted",
	},
	[]string{"confidence"},
)

// AlertsSuppressed counts verdicts held back by the dispatch cooldown.
var AlertsSuppressed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "polywatch_alerts_suppressed_total",
		Help: "Total number of alerts suppressed by the per-wallet cooldown",
	},
)

// StaleServes counts cache reads answered with a stale snapshot.
var StaleServes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polywatch_cache_stale_serves_total",
		Help: "Total number of cache reads served past their TTL",
	},
	[]string{"cache"},
)

// PipelineLatency records per-trade pipeline latency.
var PipelineLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "polywatch_pipeline_latency_seconds",
		Help:    "Latency in seconds to profile, detect, and score one trade",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(
		TradesProcessed, SignalsTriggered, DetectorErrors,
		VerdictsEmitted, AlertsSuppressed, StaleServes, PipelineLatency,
	)
}

// Serve starts the /metrics HTTP listener on the given port. It blocks,
// so callers run it in a goroutine.
func Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
