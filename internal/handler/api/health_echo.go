package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	xhttp "KronosCast/pkg/http"
	xlogger "KronosCast/pkg/logger"
)

const healthCheckTimeout = 3 * time.Second

type HealthChecker interface {
	Health(ctx context.Context) error
}

type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

type HealthEchoHandler struct {
	logger *xlogger.Logger
	checks map[string]HealthChecker
}

func NewHealthEchoHandler(logger *xlogger.Logger, checks map[string]HealthChecker) *HealthEchoHandler {
	return &HealthEchoHandler{logger: logger, checks: checks}
}

func (h *HealthEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/health", h.Health)
}

// Health answers 503 when any component check fails.
func (h *HealthEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	report := HealthReport{Status: "healthy", Components: make(map[string]string, len(h.checks)), CheckedAt: time.Now().UTC()}
	for name, chk := range h.checks {
		if chk == nil {
			continue
		}
		if err := chk.Health(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("component", name), xlogger.Error(err))
			report.Components[name] = err.Error()
			report.Status = "degraded"
			continue
		}
		report.Components[name] = "ok"
	}
	if report.Status != "healthy" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, report)
	}
	return xhttp.SuccessResponse(c, report)
}
