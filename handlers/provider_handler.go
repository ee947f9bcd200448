package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-failover/middleware"
	"github.com/upb/llm-failover/services/health"
	"github.com/upb/llm-failover/utils"
)

// HealthMonitor reports provider health and resets circuits
type HealthMonitor interface {
	Summary() health.Summary
	ResetProvider(providerID string) error
	ResetAll()
}

// ProviderHandler exposes provider health and circuit administration
type ProviderHandler struct {
	monitor HealthMonitor
	logger  *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(monitor HealthMonitor, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		monitor: monitor,
		logger:  logger,
	}
}

// HandleHealth handles GET /api/v1/providers/health
func (h *ProviderHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.monitor.Summary()); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleResetProvider handles POST /api/v1/providers/{id}/reset
func (h *ProviderHandler) HandleResetProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")

	if err := h.monitor.ResetProvider(providerID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.audit(r, providerID)
	if err := utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{
		Data:    h.monitor.Summary(),
		Message: "circuit breaker reset",
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleResetAll handles POST /api/v1/providers/reset
func (h *ProviderHandler) HandleResetAll(w http.ResponseWriter, r *http.Request) {
	h.monitor.ResetAll()

	h.audit(r, "*")
	if err := utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{
		Data:    h.monitor.Summary(),
		Message: "all circuit breakers reset",
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *ProviderHandler) audit(r *http.Request, providerID string) {
	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("provider", providerID),
	}
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		fields = append(fields, zap.String("sub", claims.Sub))
	}
	h.logger.Info("circuit reset requested", fields...)
}
