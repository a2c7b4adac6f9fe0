package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"mlm/internal/commission"
	"mlm/internal/domain"
	"mlm/internal/intake"
	"mlm/pkg/logger"
	"mlm/pkg/validator"
)

// SalesHandler accepts sale events and reports their processing status.
type SalesHandler struct {
	engine    *commission.Engine
	gate      *intake.Gate
	validator *validator.Validator
	logger    logger.Logger
}

func NewSalesHandler(engine *commission.Engine, gate *intake.Gate, val *validator.Validator, log logger.Logger) *SalesHandler {
	return &SalesHandler{
		engine:    engine,
		gate:      gate,
		validator: val,
		logger:    log,
	}
}

func (h *SalesHandler) Register(r *mux.Router) {
	r.HandleFunc("/sales", h.RecordSale).Methods(http.MethodPost)
	r.HandleFunc("/sales/{reference:.+}", h.GetSale).Methods(http.MethodGet)
}

// RecordSale turns one sale into commissions.
func (h *SalesHandler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req commission.RecordSaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	created, err := h.engine.RecordSale(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to record sale", map[string]interface{}{
			"sale_reference": req.SaleReference,
			"seller_id":      req.SellerID,
		})
		return
	}
	if created == nil {
		created = []*domain.Commission{}
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"sale_reference": req.SaleReference,
		"commissions":    created,
		"count":          len(created),
	})
}

// GetSale shows whether a reference was processed and what it produced.
func (h *SalesHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	status, err := h.gate.Lookup(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch sale", nil)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
