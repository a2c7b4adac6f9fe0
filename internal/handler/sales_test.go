package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm/internal/domain"
	"mlm/internal/intake"
	"mlm/internal/middleware"
)

type saleResponse struct {
	Commissions []*domain.Commission `json:"commissions"`
	Count       int                  `json:"count"`
}

func TestRecordSale(t *testing.T) {
	s := newTestServer(t)
	parent := s.member(t)
	seller := s.member(t)

	rec := s.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"amount":         "100.00",
		"seller_id":      seller,
		"sale_reference": "ORDER-1",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"amount":"10.00"`)
	assert.Contains(t, rec.Body.String(), `"amount":"5.00"`)

	var resp saleResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, seller, resp.Commissions[0].BeneficiaryID)
	assert.True(t, decimal.RequireFromString("10.00").Equal(resp.Commissions[0].Amount))
	assert.Equal(t, parent, resp.Commissions[1].BeneficiaryID)
	assert.True(t, decimal.RequireFromString("5.00").Equal(resp.Commissions[1].Amount))
	assert.Equal(t, domain.CommissionStatusPending, resp.Commissions[0].Status)

	rec = s.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"amount":         "100.00",
		"seller_id":      seller,
		"sale_reference": "ORDER-1",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/sales/ORDER-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status intake.SaleStatus
	decodeBody(t, rec, &status)
	assert.Equal(t, seller, status.Sale.SellerID)
	assert.Len(t, status.Commissions, 2)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/sales/ORDER-404", nil, nil).Code)
}

func TestRecordSale_EmptyResult(t *testing.T) {
	s := newTestServer(t)
	seller := s.member(t)

	// 0.04 * 10% rounds to zero and the seller has no parent
	rec := s.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{"amount": "0.04", "seller_id": seller}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[]`, extractField(t, rec.Body.Bytes(), "commissions"))
}

func TestRecordSale_Validation(t *testing.T) {
	s := newTestServer(t)
	seller := s.member(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"zero amount", map[string]interface{}{"amount": "0", "seller_id": seller}, http.StatusBadRequest},
		{"three decimals", map[string]interface{}{"amount": "1.005", "seller_id": seller}, http.StatusBadRequest},
		{"missing seller", map[string]interface{}{"amount": "10.00"}, http.StatusBadRequest},
		{"bad reference", map[string]interface{}{"amount": "10.00", "seller_id": seller, "sale_reference": "a b"}, http.StatusBadRequest},
		{"unknown seller", map[string]interface{}{"amount": "10.00", "seller_id": uuid.New()}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/sales", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCommissionLifecycle(t *testing.T) {
	s := newTestServer(t)
	seller := s.member(t)
	approver := uuid.New()

	rec := s.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{"amount": "50.00", "seller_id": seller}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sale saleResponse
	decodeBody(t, rec, &sale)
	require.Equal(t, 1, sale.Count)
	id := sale.Commissions[0].ID.String()

	// paying before approval is rejected
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/commissions/"+id+"/paid", nil, nil).Code)

	req := approveRequest(t, s, id, approver)
	require.Equal(t, http.StatusOK, req.Code, req.Body.String())
	var approved domain.Commission
	decodeBody(t, req, &approved)
	assert.Equal(t, domain.CommissionStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, approver, *approved.ApprovedBy)

	// approving twice credits once
	require.Equal(t, http.StatusOK, approveRequest(t, s, id, approver).Code)
	balance, err := s.ledger.Balance(context.Background(), seller)
	require.NoError(t, err)
	assert.Equal(t, "5.00", balance.StringFixed(2))

	rec = s.do(t, http.MethodPost, "/api/v1/commissions/"+id+"/paid", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paid domain.Commission
	decodeBody(t, rec, &paid)
	assert.Equal(t, domain.CommissionStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	rec = s.do(t, http.MethodGet, "/api/v1/commissions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/participants/"+seller.String()+"/commissions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list saleResponse
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/commissions/"+uuid.New().String(), nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/commissions/"+uuid.New().String()+"/approve", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/participants/"+uuid.New().String()+"/commissions", nil, nil).Code)
}

func approveRequest(t *testing.T, s *testServer, id string, approver uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	header := http.Header{"Authorization": {s.bearer(t, approver, middleware.RoleOperator)}}
	return s.do(t, http.MethodPost, "/api/v1/commissions/"+id+"/approve", nil, header)
}
