package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/memcrypt/console-gateway/utils"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// DatabaseChecker reports whether a database answers queries
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// BreakerState exposes the identity provider circuit breaker
type BreakerState interface {
	State() gobreaker.State
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      DatabaseChecker
	breaker BreakerState
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and breaker may be nil.
func NewHealthHandler(db DatabaseChecker, breaker BreakerState, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		breaker: breaker,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only: returns 200 whenever the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	// An open breaker means key set fetches fail fast, so no new token can verify
	if h.breaker != nil {
		state := h.breaker.State()
		checks["identity_provider"] = state.String()
		if state == gobreaker.StateOpen {
			allHealthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
