package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collection sources used as metric labels
const (
	sourceTopic      = "topic"
	sourceInfluencer = "influencer"
	sourceHistory    = "history"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwriter_runs_total",
		Help: "Dispatcher runs by final status",
	}, []string{"status"})

	collectedPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwriter_collected_posts_total",
		Help: "Candidate posts collected by source",
	}, []string{"source"})

	collectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwriter_collection_errors_total",
		Help: "Isolated per-topic or per-handle collection failures",
	}, []string{"source"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwriter_stage_failures_total",
		Help: "Synthesis chain stage failures",
	}, []string{"stage"})

	compressionAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postwriter_compression_attempts",
		Help:    "Compression completions needed per run",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postwriter_run_duration_seconds",
		Help:    "Wall time of dispatcher runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// ServeMetrics exposes /metrics on addr until ctx is done
func ServeMetrics(ctx context.Context, addr string, logger Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
}
