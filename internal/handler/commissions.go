package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"mlm/internal/commission"
	"mlm/internal/middleware"
	"mlm/pkg/logger"
)

// CommissionHandler manages commission lifecycle endpoints.
type CommissionHandler struct {
	engine *commission.Engine
	logger logger.Logger
}

func NewCommissionHandler(engine *commission.Engine, log logger.Logger) *CommissionHandler {
	return &CommissionHandler{engine: engine, logger: log}
}

func (h *CommissionHandler) Register(r *mux.Router) {
	r.HandleFunc("/commissions/{id}", h.GetCommission).Methods(http.MethodGet)
	r.Handle("/commissions/{id}/approve", operatorOnly(h.Approve)).Methods(http.MethodPost)
	r.Handle("/commissions/{id}/paid", operatorOnly(h.MarkPaid)).Methods(http.MethodPost)
	r.HandleFunc("/participants/{id}/commissions", h.ListByParticipant).Methods(http.MethodGet)
}

func (h *CommissionHandler) GetCommission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.engine.GetCommission(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch commission", nil)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Approve approves a commission on behalf of the authenticated operator. The
// operator id is recorded as is; operators are not network participants.
func (h *CommissionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var approver *uuid.UUID
	if callerID, ok := middleware.CallerIDFromContext(r.Context()); ok {
		approver = &callerID
	}

	c, err := h.engine.Approve(r.Context(), id, approver)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to approve commission", map[string]interface{}{
			"commission_id": id,
		})
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *CommissionHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.engine.MarkPaid(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to mark commission paid", map[string]interface{}{
			"commission_id": id,
		})
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListByParticipant returns the participant's commission history.
func (h *CommissionHandler) ListByParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.engine.ListByBeneficiary(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch commissions", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"commissions": list,
		"count":       len(list),
	})
}
