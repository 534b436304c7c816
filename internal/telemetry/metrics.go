// Package telemetry provides application-level observability for the AutoThreat backend.
//
// All metrics are registered against the default Prometheus registry and served
// on the side-channel HTTP port started by cmd/server (default 9090, path
// /metrics). The endpoint is not part of the Gin router, so it is never subject
// to authentication or rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/tokens/:id)
// rather than the raw URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Ingestion pipeline metrics.
var (
	// SbomSyncsTotal counts completed sync requests by outcome:
	// "success", "invalid_request", "error".
	SbomSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbom_syncs_total",
			Help: "Total number of SBOM sync requests, by outcome.",
		},
		[]string{"outcome"},
	)

	// SbomComponentsIngested counts components seen across all ingested SBOMs.
	SbomComponentsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbom_components_ingested_total",
			Help: "Total number of SBOM components extracted during ingestion.",
		},
	)

	// VulnLookupsTotal counts vulnerability correlation calls by result:
	// "ok", "error", "timeout", "disabled".
	VulnLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vuln_lookups_total",
			Help: "Total number of vulnerability correlation calls, by result.",
		},
		[]string{"result"},
	)

	// ArtifactUploadsTotal counts artifact store writes by backend and result.
	ArtifactUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_uploads_total",
			Help: "Total number of SBOM artifact uploads, by backend and result.",
		},
		[]string{"backend", "result"},
	)
)

// Rate limiting metrics.
var (
	// RateLimitDenialsTotal counts denied requests by layer ("ip" or "user").
	RateLimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter, by layer.",
		},
		[]string{"layer"},
	)

	// RateLimitFailOpenTotal counts degraded-mode admissions: the counter store
	// was unreachable and the request was allowed through. A non-zero rate here
	// is an infrastructure alert, not an application bug.
	RateLimitFailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_fail_open_total",
			Help: "Total number of requests admitted because the rate-limit store was unreachable, by layer.",
		},
		[]string{"layer"},
	)
)

// Authentication metrics, labelled by the verifier scheme that decided the
// request: "local", "oidc", "token", or "none" for rejections.
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "Total number of authentication decisions, by scheme and result.",
	},
	[]string{"scheme", "result"},
)

// Database connection pool gauges, polled periodically.
var (
	dbOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Number of established connections both in use and idle.",
	})
	dbInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_in_use_connections",
		Help: "Number of connections currently in use.",
	})
	dbWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
)

// StartDBStatsCollector polls db.Stats() every 30 seconds and exports the pool
// gauges. The goroutine runs for the lifetime of the process.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			dbOpenConnections.Set(float64(stats.OpenConnections))
			dbInUseConnections.Set(float64(stats.InUse))
			dbWaitCount.Set(float64(stats.WaitCount))
		}
	}()
	slog.Debug("database stats collector started")
}
