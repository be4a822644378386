package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/rewards/internal/metrics"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// MetricsHandler handles metrics-related HTTP requests
type MetricsHandler struct {
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(m *metrics.Metrics, checks map[string]HealthCheck) *MetricsHandler {
	return &MetricsHandler{
		metrics: m,
		checks:  checks,
	}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	h.metrics.SetGauge(metrics.GaugeGoroutines, int64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck probes every dependency and reports overall health
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		h.metrics.SetHealth(name, check(ctx) == nil)
	}

	healthChecks := h.metrics.GetHealthChecks()
	healthy := true
	for _, ok := range healthChecks {
		if !ok {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":  healthy,
		"details": healthChecks,
	})
}

// RegisterRoutes registers the handler's routes. The metrics route is only
// exposed when enabled.
func (h *MetricsHandler) RegisterRoutes(router gin.IRouter, exposeMetrics bool) {
	if exposeMetrics {
		router.GET("/metrics", h.HandleGetMetrics)
	}
	router.GET("/health", h.HandleGetHealthCheck)
}
