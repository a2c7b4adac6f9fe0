package sqlstore

import (
	"context"

	"mlm/internal/domain"
	"mlm/pkg/errors"
)

const saleColumns = `sale_reference, seller_id, amount, created_at`

// CreateSaleRecord relies on the primary key of sale_records; a second
// insert of the same reference fails with storage.ErrDuplicateKey.
func (t *tx) CreateSaleRecord(ctx context.Context, s *domain.SaleRecord) error {
	query := t.q(`
		INSERT INTO sale_records (` + saleColumns + `)
		VALUES (?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query, s.SaleReference, s.SellerID, money(s.Amount), s.CreatedAt.UTC())
	return translate(err, "failed to create sale record")
}

func (t *tx) GetSaleRecord(ctx context.Context, saleReference string) (*domain.SaleRecord, error) {
	s := &domain.SaleRecord{}
	query := t.q(`SELECT ` + saleColumns + ` FROM sale_records WHERE sale_reference = ?`)
	if err := t.tx.GetContext(ctx, s, query, saleReference); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrSaleNotFound
		}
		return nil, errors.Wrap(err, "failed to find sale record")
	}
	return s, nil
}
