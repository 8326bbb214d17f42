package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/lexrag/internal/api"
	"github.com/cloo-solutions/lexrag/internal/service"
)

type HealthChecker interface {
	Check(ctx context.Context) service.HealthReport
}

type HealthHandler struct {
	checker HealthChecker
}

func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Get reports dependency health. Only an unavailable index answers 503.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == service.HealthUnavailable {
		status = http.StatusServiceUnavailable
	}
	api.JSON(w, status, report)
}
