// Package telemetry provides logging setup and Prometheus metrics for the control plane.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served
// by the side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<MINIAWS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not part of the public API router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Instance lifecycle: launches, state transitions, provisioning latency, fleet gauge
//   - Network fabric conflicts (overlap, containment, dependency ordering)
//   - Authentication failures
//   - Lifecycle event delivery
//   - Database connection pool gauge (polled every 30 s when Postgres is enabled)
//
// # Label Cardinality
//
// No metric is labelled with a resource id or account id. HTTP metrics use the Gin
// route template (/instances/:id) rather than the raw URL.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate:       rate(http_requests_total[5m])
//   - 5xx ratio:          sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m]))
//   - p95 launch latency: histogram_quantile(0.95, sum by (le) (rate(http_request_duration_seconds_bucket{path="/instances"}[5m])))
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

// Instance lifecycle metrics.
//
// InstanceTransitionsTotal counts committed state changes; "deleted" is used as the
// target label for removals. InstanceProvisioningDuration measures launch-to-commit
// latency per outcome (running, error, cancelled).
//
// Example PromQL queries:
//   - Provisioning failure ratio: sum(rate(instance_transitions_total{to="error"}[15m])) / sum(rate(instances_launched_total[15m]))
//   - p99 time to running:        histogram_quantile(0.99, rate(instance_provisioning_duration_seconds_bucket{outcome="running"}[15m]))
var (
	InstancesLaunchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "instances_launched_total",
			Help: "Total number of accepted instance launch requests.",
		},
	)

	InstanceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instance_transitions_total",
			Help: "Total number of committed instance state transitions, by source and target status.",
		},
		[]string{"from", "to"},
	)

	InstanceProvisioningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instance_provisioning_duration_seconds",
			Help:    "Time from launch acceptance to the provisioning outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	Instances = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "instances",
			Help: "Current number of live instances, by status. Sampled by the fleet gauge collector.",
		},
		[]string{"status"},
	)
)

// NetworkConflictsTotal counts rejected network mutations by kind:
// "overlap", "outside_vpc", "vpc_has_subnets", "subnet_has_instances".
var NetworkConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "network_conflicts_total",
		Help: "Total number of rejected network mutations, by kind.",
	},
	[]string{"kind"},
)

// AuthFailuresTotal counts rejected credentials by reason:
// "missing_key", "invalid_key", "bad_password".
var AuthFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Total number of rejected authentication attempts, by reason.",
	},
	[]string{"reason"},
)

// Event delivery metrics. A dropped event never reached any sink; a sink error
// is counted once per failed Ship call.
var (
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of lifecycle events dropped because the delivery queue was full.",
		},
	)

	EventSinkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "event_sink_errors_total",
			Help: "Total number of failed event deliveries across all sinks.",
		},
	)
)

// DBOpenConnections tracks the open connections of the sql.DB pool.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples the pool every 30 seconds until ctx is cancelled
// or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
