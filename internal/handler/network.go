package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"mlm/internal/domain"
	"mlm/internal/network"
	"mlm/pkg/cache"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
	"mlm/pkg/validator"
)

// ReportCache stores rendered reports. *cache.RedisCache satisfies it.
type ReportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Increment(ctx context.Context, key string) (int64, error)
}

const downlineVersionKey = "downline:version"

type DownlineOptions struct {
	DefaultDepth int
	MaxDepth     int
	CacheTTL     time.Duration
}

// NetworkHandler manages placement and tree endpoints.
type NetworkHandler struct {
	service   *network.Service
	cache     ReportCache
	opts      DownlineOptions
	validator *validator.Validator
	logger    logger.Logger
}

// NewNetworkHandler creates a NetworkHandler. reports may be nil to disable
// downline caching.
func NewNetworkHandler(service *network.Service, reports ReportCache, opts DownlineOptions, val *validator.Validator, log logger.Logger) *NetworkHandler {
	return &NetworkHandler{
		service:   service,
		cache:     reports,
		opts:      opts,
		validator: val,
		logger:    log,
	}
}

func (h *NetworkHandler) Register(r *mux.Router) {
	r.Handle("/network/placements", operatorOnly(h.PlaceParticipant)).Methods(http.MethodPost)
	r.HandleFunc("/network/integrity", h.VerifyIntegrity).Methods(http.MethodGet)
	r.HandleFunc("/network/nodes/{id}", h.GetNode).Methods(http.MethodGet)
	r.HandleFunc("/network/nodes/{id}/upline", h.GetUpline).Methods(http.MethodGet)
	r.HandleFunc("/network/nodes/{id}/downline", h.GetDownline).Methods(http.MethodGet)
	r.Handle("/network/nodes/{id}/active", operatorOnly(h.SetActive)).Methods(http.MethodPut)
}

// PlaceParticipant places a participant, optionally below a given node.
func (h *NetworkHandler) PlaceParticipant(w http.ResponseWriter, r *http.Request) {
	var req network.PlaceParticipantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	result, err := h.service.PlaceParticipant(r.Context(), req.ParticipantID, req.StartNodeID)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to place participant", map[string]interface{}{
			"participant_id": req.ParticipantID,
		})
		return
	}

	// every cached downline report is stale now
	if h.cache != nil {
		if _, err := h.cache.Increment(r.Context(), downlineVersionKey); err != nil {
			h.logger.Warn("Failed to invalidate downline cache", map[string]interface{}{"error": err.Error()})
		}
	}

	respondJSON(w, http.StatusCreated, result)
}

func (h *NetworkHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	node, err := h.service.GetNode(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch node", nil)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

// GetUpline lists ancestors nearest first; levels=0 walks to the root.
func (h *NetworkHandler) GetUpline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	levels, err := queryInt(r, "levels", 0)
	if err != nil || levels < 0 {
		respondError(w, http.StatusBadRequest, "levels must be a non-negative integer")
		return
	}

	upline, err := h.service.GetUpline(r.Context(), id, levels)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch upline", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": id,
		"upline":         upline,
		"count":          len(upline),
	})
}

// DownlineReport is the subtree of a node down to Depth levels.
type DownlineReport struct {
	ParticipantID uuid.UUID              `json:"participant_id"`
	Depth         int                    `json:"depth"`
	Count         int                    `json:"count"`
	Entries       []domain.DownlineEntry `json:"entries"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

// GetDownline returns the subtree report, served from cache when possible.
func (h *NetworkHandler) GetDownline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	depth, err := queryInt(r, "depth", h.opts.DefaultDepth)
	if err != nil || depth < 1 || depth > h.opts.MaxDepth {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("depth must be between 1 and %d", h.opts.MaxDepth))
		return
	}

	key := h.downlineKey(r.Context(), id, depth)
	if key != "" {
		var cached DownlineReport
		if err := h.cache.Get(r.Context(), key, &cached); err == nil {
			w.Header().Set("X-Cache", "HIT")
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	entries, err := h.service.GetDownline(r.Context(), id, depth)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch downline", nil)
		return
	}
	report := DownlineReport{
		ParticipantID: id,
		Depth:         depth,
		Count:         len(entries),
		Entries:       entries,
		GeneratedAt:   time.Now().UTC(),
	}

	if key != "" {
		if err := h.cache.Set(r.Context(), key, report, h.opts.CacheTTL); err != nil {
			h.logger.Warn("Failed to cache downline report", map[string]interface{}{"error": err.Error()})
		}
		w.Header().Set("X-Cache", "MISS")
	}
	respondJSON(w, http.StatusOK, report)
}

// downlineKey embeds the placement version so that a placement retires
// every cached report at once. Empty means caching is off.
func (h *NetworkHandler) downlineKey(ctx context.Context, id uuid.UUID, depth int) string {
	if h.cache == nil {
		return ""
	}
	var version int64
	if err := h.cache.Get(ctx, downlineVersionKey, &version); err != nil && !errors.Is(err, cache.ErrMiss) {
		h.logger.Warn("Downline cache unavailable", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return fmt.Sprintf("downline:%d:%s:%d", version, id, depth)
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetActive activates or deactivates a node. Nodes are never deleted.
func (h *NetworkHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	node, err := h.service.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to update node", nil)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

func (h *NetworkHandler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VerifyIntegrity(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to verify network integrity", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": report.Healthy(),
		"report":  report,
	})
}
