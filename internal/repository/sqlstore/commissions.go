package sqlstore

import (
	"context"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/pkg/errors"
)

const commissionColumns = `id, beneficiary_id, amount, source, sale_reference, status, created_at, approved_at, approved_by, paid_at`

func (t *tx) CreateCommission(ctx context.Context, c *domain.Commission) error {
	query := t.q(`
		INSERT INTO commissions (` + commissionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query,
		c.ID, c.BeneficiaryID, money(c.Amount), c.Source, c.SaleReference, c.Status,
		c.CreatedAt.UTC(), utcPtr(c.ApprovedAt), c.ApprovedBy, utcPtr(c.PaidAt),
	)
	if err != nil && isForeignKeyViolation(err) {
		return errors.ErrParticipantNotFound
	}
	return translate(err, "failed to create commission")
}

func (t *tx) GetCommission(ctx context.Context, id uuid.UUID) (*domain.Commission, error) {
	return t.getCommission(ctx, id, "")
}

func (t *tx) GetCommissionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Commission, error) {
	return t.getCommission(ctx, id, t.forUpdate())
}

func (t *tx) getCommission(ctx context.Context, id uuid.UUID, lock string) (*domain.Commission, error) {
	c := &domain.Commission{}
	query := t.q(`SELECT ` + commissionColumns + ` FROM commissions WHERE id = ?` + lock)
	if err := t.tx.GetContext(ctx, c, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrCommissionNotFound
		}
		return nil, errors.Wrap(err, "failed to find commission")
	}
	return c, nil
}

func (t *tx) UpdateCommissionStatus(ctx context.Context, c *domain.Commission) error {
	query := t.q(`
		UPDATE commissions
		SET status = ?, approved_at = ?, approved_by = ?, paid_at = ?
		WHERE id = ?
	`)
	result, err := t.tx.ExecContext(ctx, query, c.Status, utcPtr(c.ApprovedAt), c.ApprovedBy, utcPtr(c.PaidAt), c.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update commission")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update commission")
	}
	if rows == 0 {
		return errors.ErrCommissionNotFound
	}
	return nil
}

func (t *tx) ListCommissionsBySale(ctx context.Context, saleReference string) ([]*domain.Commission, error) {
	var commissions []*domain.Commission
	query := t.q(`
		SELECT ` + commissionColumns + `
		FROM commissions
		WHERE sale_reference = ?
		ORDER BY created_at ASC, source DESC
	`)
	if err := t.tx.SelectContext(ctx, &commissions, query, saleReference); err != nil {
		return nil, errors.Wrap(err, "failed to list commissions by sale")
	}
	return commissions, nil
}

func (t *tx) ListCommissionsByBeneficiary(ctx context.Context, beneficiaryID uuid.UUID) ([]*domain.Commission, error) {
	var commissions []*domain.Commission
	query := t.q(`
		SELECT ` + commissionColumns + `
		FROM commissions
		WHERE beneficiary_id = ?
		ORDER BY created_at DESC, id DESC
	`)
	if err := t.tx.SelectContext(ctx, &commissions, query, beneficiaryID); err != nil {
		return nil, errors.Wrap(err, "failed to list commissions by beneficiary")
	}
	return commissions, nil
}
