package intake

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/internal/storage/memory"
	"mlm/pkg/errors"
)

func sale(ref string) *domain.SaleRecord {
	return &domain.SaleRecord{
		SaleReference: ref,
		SellerID:      uuid.New(),
		Amount:        decimal.RequireFromString("100.00"),
		CreatedAt:     time.Now().UTC(),
	}
}

func admit(store storage.Store, gate *Gate, s *domain.SaleRecord) error {
	return store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return gate.Admit(ctx, tx, s)
	})
}

func TestAdmit(t *testing.T) {
	store := memory.NewStore()
	gate := NewGate(store)

	require.NoError(t, admit(store, gate, sale("ORD-1")))

	err := admit(store, gate, sale("ORD-1"))
	assert.ErrorIs(t, err, errors.ErrDuplicateSale)

	require.NoError(t, admit(store, gate, sale("ORD-2")))

	// untracked sales are never deduplicated
	require.NoError(t, admit(store, gate, sale("")))
	require.NoError(t, admit(store, gate, sale("")))
	_, err = gate.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, errors.ErrSaleNotFound)
}

func TestAdmitIsUndoneWithCallerTransaction(t *testing.T) {
	store := memory.NewStore()
	gate := NewGate(store)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := gate.Admit(ctx, tx, sale("ORD-9")); err != nil {
			return err
		}
		return errors.ErrParticipantNotFound
	})
	require.ErrorIs(t, err, errors.ErrParticipantNotFound)

	require.NoError(t, admit(store, gate, sale("ORD-9")))
}

func TestLookup(t *testing.T) {
	store := memory.NewStore()
	gate := NewGate(store)
	ctx := context.Background()

	_, err := gate.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrSaleNotFound)

	s := sale("ORD-7")
	require.NoError(t, admit(store, gate, s))

	status, err := gate.Lookup(ctx, "ORD-7")
	require.NoError(t, err)
	assert.Equal(t, s.SellerID, status.Sale.SellerID)
	assert.Empty(t, status.Commissions)
	assert.NotNil(t, status.Commissions)
}
