// Package intake guarantees that a sale reference is turned into
// commissions at most once.
package intake

import (
	"context"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/pkg/errors"
)

// Gate admits sales by inserting their reference. The store's unique
// constraint decides; there is no read-then-write pre-check.
type Gate struct {
	store storage.Store
}

func NewGate(store storage.Store) *Gate {
	return &Gate{store: store}
}

// Admit records sale inside tx. An empty reference is not tracked and is
// always admitted. A reference seen before yields ErrDuplicateSale and the
// caller's transaction must abort.
func (g *Gate) Admit(ctx context.Context, tx storage.Tx, sale *domain.SaleRecord) error {
	if sale.SaleReference == "" {
		return nil
	}
	err := tx.CreateSaleRecord(ctx, sale)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return errors.Wrap(errors.ErrDuplicateSale, sale.SaleReference)
	}
	return err
}

// SaleStatus is a processed sale with the commissions it produced.
type SaleStatus struct {
	Sale        *domain.SaleRecord   `json:"sale"`
	Commissions []*domain.Commission `json:"commissions"`
}

// Lookup returns the processed sale and its commissions in creation order.
func (g *Gate) Lookup(ctx context.Context, reference string) (*SaleStatus, error) {
	status := &SaleStatus{}
	err := g.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sale, err := tx.GetSaleRecord(ctx, reference)
		if err != nil {
			return err
		}
		commissions, err := tx.ListCommissionsBySale(ctx, reference)
		if err != nil {
			return err
		}
		status.Sale = sale
		status.Commissions = commissions
		if status.Commissions == nil {
			status.Commissions = []*domain.Commission{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}
