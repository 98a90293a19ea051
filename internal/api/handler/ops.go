// Package handler provides HTTP handlers for the raincheck API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/api/models"
	"github.com/raincheck/raincheck/internal/api/response"
	"github.com/raincheck/raincheck/internal/provider/resilience"
)

// readyTimeout bounds the store ping of the readiness check.
const readyTimeout = 2 * time.Second

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	store     Pinger
	registry  *resilience.Registry
	logger    zerolog.Logger
}

// OpsHandlerConfig holds configuration for the OpsHandler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	Store     Pinger
	Registry  *resilience.Registry
	Logger    zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		store:     cfg.Store,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready - the store must answer a ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("readiness check failed")
			response.ServiceUnavailable(w, r, "store unavailable")
			return
		}
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	})
}

// ProviderStatus handles GET /v1/ops/providers - circuit breaker state of
// every registered provider client. Overall status is the worst provider.
func (h *OpsHandler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	status := models.ProvidersStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Providers: []models.ProviderStatus{},
	}

	if h.registry != nil {
		for _, health := range h.registry.GetAllHealth() {
			ps := models.ProviderStatus{
				Provider:      health.Name,
				Status:        providerHealthStatus(health),
				CircuitState:  health.CircuitState.String(),
				Requests:      health.Counts.Requests,
				Failures:      health.Counts.ConsecutiveFailures,
				LastSuccessAt: models.TimestampPtr(health.LastSuccessAt),
				LastFailureAt: models.TimestampPtr(health.LastFailureAt),
			}
			if health.LastError != "" {
				msg := health.LastError
				ps.Message = &msg
			}
			status.Providers = append(status.Providers, ps)
			status.Status = worst(status.Status, ps.Status)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerHealthStatus(h *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case h.IsUnhealthy():
		return models.HealthStatusFail
	case h.IsDegraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
