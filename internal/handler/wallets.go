package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"mlm/internal/ledger"
	"mlm/pkg/logger"
	"mlm/pkg/validator"
)

// WalletHandler manages wallet endpoints.
type WalletHandler struct {
	ledger    *ledger.Service
	validator *validator.Validator
	logger    logger.Logger
	// debitGuard wraps the debit route, typically with idempotency.
	debitGuard func(http.Handler) http.Handler
}

// NewWalletHandler creates a WalletHandler. guard may be nil.
func NewWalletHandler(ledgerSvc *ledger.Service, val *validator.Validator, log logger.Logger, guard func(http.Handler) http.Handler) *WalletHandler {
	return &WalletHandler{
		ledger:     ledgerSvc,
		validator:  val,
		logger:     log,
		debitGuard: guard,
	}
}

func (h *WalletHandler) Register(r *mux.Router) {
	r.HandleFunc("/wallets/{participant_id}/balance", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{participant_id}/transactions", h.ListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{participant_id}/reconcile", h.Reconcile).Methods(http.MethodGet)

	var debit http.Handler = http.HandlerFunc(h.Debit)
	if h.debitGuard != nil {
		debit = h.debitGuard(debit)
	}
	r.Handle("/wallets/{participant_id}/debits", operatorOnly(debit.ServeHTTP)).Methods(http.MethodPost)
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "participant_id")
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch balance", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": id,
		"balance":        balance.StringFixed(2),
	})
}

// ListTransactions returns the wallet ledger, oldest first.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "participant_id")
	if !ok {
		return
	}
	lines, err := h.ledger.ListTransactions(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch transactions", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": lines,
		"count":        len(lines),
	})
}

func (h *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "participant_id")
	if !ok {
		return
	}
	report, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to reconcile wallet", nil)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type debitRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,money"`
	Note   string          `json:"note" validate:"max=255"`
}

// Debit records a payout against the wallet.
func (h *WalletHandler) Debit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "participant_id")
	if !ok {
		return
	}
	var req debitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	line, err := h.ledger.Debit(r.Context(), id, req.Amount, validator.Sanitize(req.Note))
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to debit wallet", map[string]interface{}{
			"participant_id": id,
		})
		return
	}
	respondJSON(w, http.StatusCreated, line)
}
