// Package metrics holds the pipeline's Prometheus collectors.
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

// Message outcomes.
const (
	OutcomePersisted = "persisted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
)

// Stage results.
const (
	StageOK      = "ok"
	StageSkipped = "skipped"
	StageFailed  = "failed"
)

var (
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_messages_total",
			Help: "Feed messages processed, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	StageResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_enrich_stage_total",
			Help: "Enrichment stage invocations, by stage and result",
		},
		[]string{"stage", "result"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leakwatch_enrich_stage_seconds",
			Help:    "Enrichment stage latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"stage"},
	)

	KnowledgeBaseFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_kb_fetch_total",
			Help: "Knowledge base load attempts, by result",
		},
		[]string{"result"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_sink_errors_total",
			Help: "Persistence sink write failures",
		},
		[]string{"sink"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("📈 Metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}
