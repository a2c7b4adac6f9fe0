package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/pkg/errors"
)

func (t *tx) CreateCommission(_ context.Context, c *domain.Commission) error {
	if _, exists := t.st.commissions[c.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, ok := t.st.participants[c.BeneficiaryID]; !ok {
		return errors.ErrParticipantNotFound
	}
	t.st.commissions[c.ID] = *c
	t.st.commissionOrder = append(t.st.commissionOrder, c.ID)
	return nil
}

func (t *tx) GetCommission(_ context.Context, id uuid.UUID) (*domain.Commission, error) {
	c, ok := t.st.commissions[id]
	if !ok {
		return nil, errors.ErrCommissionNotFound
	}
	return &c, nil
}

func (t *tx) GetCommissionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Commission, error) {
	return t.GetCommission(ctx, id)
}

func (t *tx) UpdateCommissionStatus(_ context.Context, c *domain.Commission) error {
	stored, ok := t.st.commissions[c.ID]
	if !ok {
		return errors.ErrCommissionNotFound
	}
	stored.Status = c.Status
	stored.ApprovedAt = c.ApprovedAt
	stored.ApprovedBy = c.ApprovedBy
	stored.PaidAt = c.PaidAt
	t.st.commissions[c.ID] = stored
	return nil
}

func (t *tx) ListCommissionsBySale(_ context.Context, saleReference string) ([]*domain.Commission, error) {
	var result []*domain.Commission
	for _, id := range t.st.commissionOrder {
		c := t.st.commissions[id]
		if c.SaleReference != nil && *c.SaleReference == saleReference {
			result = append(result, &c)
		}
	}
	return result, nil
}

func (t *tx) ListCommissionsByBeneficiary(_ context.Context, beneficiaryID uuid.UUID) ([]*domain.Commission, error) {
	var result []*domain.Commission
	for i := len(t.st.commissionOrder) - 1; i >= 0; i-- {
		c := t.st.commissions[t.st.commissionOrder[i]]
		if c.BeneficiaryID == beneficiaryID {
			result = append(result, &c)
		}
	}
	return result, nil
}

func (t *tx) GetWallet(_ context.Context, participantID uuid.UUID) (*domain.Wallet, error) {
	w, ok := t.st.wallets[participantID]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	return &w, nil
}

func (t *tx) EnsureWalletForUpdate(_ context.Context, participantID uuid.UUID, now time.Time) (*domain.Wallet, error) {
	if w, ok := t.st.wallets[participantID]; ok {
		return &w, nil
	}
	if _, ok := t.st.participants[participantID]; !ok {
		return nil, errors.ErrParticipantNotFound
	}
	w := domain.Wallet{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Balance:       decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.st.wallets[participantID] = w
	return &w, nil
}

func (t *tx) SetWalletBalance(_ context.Context, walletID uuid.UUID, from, to decimal.Decimal, now time.Time) error {
	for pid, w := range t.st.wallets {
		if w.ID != walletID {
			continue
		}
		if !w.Balance.Equal(from) {
			return storage.ErrStaleWrite
		}
		w.Balance = to
		w.UpdatedAt = now
		t.st.wallets[pid] = w
		return nil
	}
	return errors.ErrWalletNotFound
}

func (t *tx) AppendWalletTransaction(_ context.Context, line *domain.WalletTransaction) error {
	lines := t.st.walletLines[line.WalletID]
	if int64(len(lines))+1 != line.Sequence {
		return storage.ErrDuplicateKey
	}
	t.st.walletLines[line.WalletID] = append(lines, *line)
	return nil
}

func (t *tx) LastWalletTransaction(_ context.Context, walletID uuid.UUID) (*domain.WalletTransaction, error) {
	lines := t.st.walletLines[walletID]
	if len(lines) == 0 {
		return nil, nil
	}
	last := lines[len(lines)-1]
	return &last, nil
}

func (t *tx) ListWalletTransactions(_ context.Context, walletID uuid.UUID) ([]*domain.WalletTransaction, error) {
	lines := t.st.walletLines[walletID]
	result := make([]*domain.WalletTransaction, 0, len(lines))
	for i := range lines {
		line := lines[i]
		result = append(result, &line)
	}
	return result, nil
}

func (t *tx) CreateSaleRecord(_ context.Context, s *domain.SaleRecord) error {
	if _, exists := t.st.sales[s.SaleReference]; exists {
		return storage.ErrDuplicateKey
	}
	t.st.sales[s.SaleReference] = *s
	return nil
}

func (t *tx) GetSaleRecord(_ context.Context, saleReference string) (*domain.SaleRecord, error) {
	s, ok := t.st.sales[saleReference]
	if !ok {
		return nil, errors.ErrSaleNotFound
	}
	return &s, nil
}
