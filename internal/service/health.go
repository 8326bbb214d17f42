package service

import (
	"context"
	"time"
)

// Health statuses.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// Individual check results.
const (
	CheckOK            = "ok"
	CheckError         = "error"
	CheckNotConfigured = "not_configured"
)

const defaultHealthTimeout = 3 * time.Second

// Pinger is anything whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is the result of one check.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthReport is the overall health of the pipeline's dependencies.
type HealthReport struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// HealthService reports reachability and configuration of the embedding
// service, the generation providers and the vector index.
type HealthService struct {
	index               Pinger
	embeddingConfigured bool
	providers           *ProviderRegistry
	timeout             time.Duration
}

func NewHealthService(index Pinger, embeddingConfigured bool, providers *ProviderRegistry) *HealthService {
	return &HealthService{
		index:               index,
		embeddingConfigured: embeddingConfigured,
		providers:           providers,
		timeout:             defaultHealthTimeout,
	}
}

// Check runs all checks. An index failure makes the service unavailable;
// embedding or generation problems only degrade it.
func (h *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{Status: HealthOK, Checks: make(map[string]HealthCheck, 3)}

	if h.embeddingConfigured {
		report.Checks["embedding"] = HealthCheck{Status: CheckOK}
	} else {
		report.Checks["embedding"] = HealthCheck{Status: CheckNotConfigured, Message: "no embedding provider configured"}
		report.Status = HealthDegraded
	}

	if h.providers != nil && len(h.providers.Names()) > 0 {
		report.Checks["generation"] = HealthCheck{Status: CheckOK, Message: "default " + h.providers.DefaultName()}
	} else {
		report.Checks["generation"] = HealthCheck{Status: CheckNotConfigured, Message: "no generation provider configured"}
		report.Status = HealthDegraded
	}

	if h.index == nil {
		report.Checks["vector_index"] = HealthCheck{Status: CheckNotConfigured}
		report.Status = HealthUnavailable
		return report
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.index.Ping(pingCtx); err != nil {
		report.Checks["vector_index"] = HealthCheck{Status: CheckError, Message: err.Error()}
		report.Status = HealthUnavailable
		return report
	}
	report.Checks["vector_index"] = HealthCheck{Status: CheckOK}
	return report
}
