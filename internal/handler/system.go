package handler

import (
	"context"
	"net/http"
	"time"

	"mlm/internal/domain"
	"mlm/pkg/logger"
)

// Pinger is anything whose availability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IntegritySource yields the latest background tree audit, nil before the
// first one completes.
type IntegritySource interface {
	LastReport() *domain.IntegrityReport
}

// SystemHandler serves liveness and readiness checks.
type SystemHandler struct {
	service   string
	deps      map[string]Pinger
	integrity IntegritySource
	logger    logger.Logger
}

// NewSystemHandler checks every dependency in deps when asked for readiness.
func NewSystemHandler(service string, deps map[string]Pinger, log logger.Logger) *SystemHandler {
	return &SystemHandler{service: service, deps: deps, logger: log}
}

// WithIntegrity makes Health summarise the latest audit from src.
func (h *SystemHandler) WithIntegrity(src IntegritySource) *SystemHandler {
	h.integrity = src
	return h
}

// Health always answers 200; a failed tree audit is reported, not fatal.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": h.service,
	}
	if h.integrity != nil {
		if report := h.integrity.LastReport(); report != nil {
			body["integrity"] = map[string]interface{}{
				"healthy":    report.Healthy(),
				"checked_at": report.CheckedAt,
				"node_count": report.NodeCount,
				"violations": len(report.Violations),
			}
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Error("Readiness check failed", map[string]interface{}{
				"dependency": name,
				"error":      err.Error(),
			})
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"service": h.service,
	})
}
