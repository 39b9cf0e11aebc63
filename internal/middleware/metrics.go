package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// noRoute labels requests that matched no registered route (404/405).
const noRoute = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// for every request, except those whose route template is listed in skip
// (typically the probes, which would otherwise dominate the series).
//
// The path label is c.FullPath(), the matched route template such as
// /instances/:id, never the raw URL, so resource ids do not become labels.
//
// Register it after gin.Recovery() and RequestIDMiddleware so the final status
// written by error handlers is the one recorded.
func MetricsMiddleware(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		if _, ok := skipped[path]; ok {
			return
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
