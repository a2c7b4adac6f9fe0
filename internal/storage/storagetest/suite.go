// Package storagetest holds the behavioural checks every storage.Store
// driver must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"mlm/internal/domain"
	"mlm/internal/storage"
	pkgerrors "mlm/pkg/errors"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) storage.Store

// Run executes the whole contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("participants", func(t *testing.T) { testParticipants(t, newStore(t)) })
	t.Run("nodes", func(t *testing.T) { testNodes(t, newStore(t)) })
	t.Run("slot uniqueness", func(t *testing.T) { testSlotUniqueness(t, newStore(t)) })
	t.Run("root uniqueness", func(t *testing.T) { testRootUniqueness(t, newStore(t)) })
	t.Run("racing roots", func(t *testing.T) { testRacingRoots(t, newStore(t)) })
	t.Run("commissions", func(t *testing.T) { testCommissions(t, newStore(t)) })
	t.Run("wallets", func(t *testing.T) { testWallets(t, newStore(t)) })
	t.Run("sales", func(t *testing.T) { testSales(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

// Now returns a wall clock value the SQL drivers round-trip exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// SeedParticipant inserts a participant created at the given time.
func SeedParticipant(t *testing.T, store storage.Store, createdAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateParticipant(ctx, &domain.Participant{
			ID:          id,
			DisplayName: "participant-" + id.String()[:8],
			CreatedAt:   createdAt,
		})
	})
	require.NoError(t, err)
	return id
}

func inTx(t *testing.T, store storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), fn))
}

func testParticipants(t *testing.T, store storage.Store) {
	now := Now()
	id := SeedParticipant(t, store, now)

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		p, err := tx.GetParticipant(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, p.ID)
		assert.Nil(t, p.ReferrerID)
		return nil
	})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateParticipant(ctx, &domain.Participant{ID: id, CreatedAt: now})
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetParticipant(ctx, uuid.New())
		return err
	})
	assert.ErrorIs(t, err, pkgerrors.ErrParticipantNotFound)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func testNodes(t *testing.T, store storage.Store) {
	base := Now()
	rootID := SeedParticipant(t, store, base)
	leftID := SeedParticipant(t, store, base.Add(time.Second))
	rightID := SeedParticipant(t, store, base.Add(2*time.Second))
	left, right := domain.PositionLeft, domain.PositionRight

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		for i, id := range []uuid.UUID{rootID, leftID, rightID} {
			require.NoError(t, tx.CreateNode(ctx, &domain.NetworkNode{
				ParticipantID: id,
				CreatedAt:     base.Add(time.Duration(i) * time.Second),
			}))
		}
		_, err := tx.OldestPlacedRoot(ctx, uuid.Nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNodeNotFound)

		require.NoError(t, tx.AttachNode(ctx, rootID, nil, nil, base))
		// right first to prove ListChildren orders by position
		require.NoError(t, tx.AttachNode(ctx, rightID, &rootID, &right, base))
		require.NoError(t, tx.AttachNode(ctx, leftID, &rootID, &left, base))
		return nil
	})

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		root, err := tx.OldestPlacedRoot(ctx, uuid.Nil)
		require.NoError(t, err)
		assert.Equal(t, rootID, root.ParticipantID)

		_, err = tx.OldestPlacedRoot(ctx, rootID)
		assert.ErrorIs(t, err, pkgerrors.ErrNodeNotFound)

		children, err := tx.ListChildren(ctx, rootID)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, leftID, children[0].ParticipantID)
		assert.Equal(t, domain.PositionLeft, *children[0].Position)
		assert.Equal(t, rightID, children[1].ParticipantID)

		n, err := tx.GetNodeForUpdate(ctx, leftID)
		require.NoError(t, err)
		assert.True(t, n.IsPlaced())
		assert.Equal(t, rootID, *n.ParentID)
		assert.False(t, n.Active)

		assert.ErrorIs(t, tx.AttachNode(ctx, leftID, nil, nil, base), pkgerrors.ErrAlreadyPlaced)

		require.NoError(t, tx.SetNodeActive(ctx, leftID, true))
		n, err = tx.GetNode(ctx, leftID)
		require.NoError(t, err)
		assert.True(t, n.Active)

		assert.ErrorIs(t, tx.SetNodeActive(ctx, uuid.New(), true), pkgerrors.ErrNodeNotFound)

		nodes, err := tx.ListNodes(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		assert.Equal(t, rootID, nodes[0].ParticipantID)
		assert.Equal(t, rightID, nodes[2].ParticipantID)
		return nil
	})
}

func testSlotUniqueness(t *testing.T, store storage.Store) {
	base := Now()
	rootID := SeedParticipant(t, store, base)
	a := SeedParticipant(t, store, base.Add(time.Second))
	b := SeedParticipant(t, store, base.Add(2*time.Second))
	left := domain.PositionLeft

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		for _, id := range []uuid.UUID{rootID, a, b} {
			require.NoError(t, tx.CreateNode(ctx, &domain.NetworkNode{ParticipantID: id, CreatedAt: base}))
		}
		require.NoError(t, tx.AttachNode(ctx, rootID, nil, nil, base))
		require.NoError(t, tx.AttachNode(ctx, a, &rootID, &left, base))
		return nil
	})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.AttachNode(ctx, b, &rootID, &left, base)
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		n, err := tx.GetNode(ctx, b)
		require.NoError(t, err)
		assert.False(t, n.IsPlaced())
		return nil
	})
}

func testRootUniqueness(t *testing.T, store storage.Store) {
	base := Now()
	rootID := SeedParticipant(t, store, base)
	second := SeedParticipant(t, store, base.Add(time.Second))
	stray := SeedParticipant(t, store, base.Add(2*time.Second))

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		for _, id := range []uuid.UUID{rootID, second, stray} {
			require.NoError(t, tx.CreateNode(ctx, &domain.NetworkNode{ParticipantID: id, CreatedAt: base}))
		}
		return tx.AttachNode(ctx, rootID, nil, nil, base)
	})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.AttachNode(ctx, second, nil, nil, base)
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		return tx.AttachUnattached(ctx, stray, base)
	})

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		n, err := tx.GetNode(ctx, stray)
		require.NoError(t, err)
		assert.True(t, n.IsPlaced())
		assert.True(t, n.IsRoot())
		assert.True(t, n.Unattached)

		root, err := tx.OldestPlacedRoot(ctx, uuid.Nil)
		require.NoError(t, err)
		assert.Equal(t, rootID, root.ParticipantID)

		_, err = tx.OldestPlacedRoot(ctx, rootID)
		assert.ErrorIs(t, err, pkgerrors.ErrNodeNotFound, "unattached roots are never a search start")

		assert.ErrorIs(t, tx.AttachUnattached(ctx, stray, base), pkgerrors.ErrAlreadyPlaced)
		assert.ErrorIs(t, tx.AttachUnattached(ctx, uuid.New(), base), pkgerrors.ErrNodeNotFound)
		return nil
	})
}

// testRacingRoots attaches several roots from concurrent transactions;
// exactly one may win.
func testRacingRoots(t *testing.T, store storage.Store) {
	base := Now()
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = SeedParticipant(t, store, base.Add(time.Duration(i)*time.Second))
	}
	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		for _, id := range ids {
			require.NoError(t, tx.CreateNode(ctx, &domain.NetworkNode{ParticipantID: id, CreatedAt: base}))
		}
		return nil
	})

	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			errs[i] = store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
				return tx.AttachNode(ctx, id, nil, nil, base)
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	}
	assert.Equal(t, 1, winners)
}

func testCommissions(t *testing.T, store storage.Store) {
	now := Now()
	beneficiary := SeedParticipant(t, store, now)
	ref := "SALE-1"
	first := &domain.Commission{
		ID:            uuid.New(),
		BeneficiaryID: beneficiary,
		Amount:        decimal.RequireFromString("10.00"),
		Source:        domain.CommissionSourceDirectSale,
		SaleReference: &ref,
		Status:        domain.CommissionStatusPending,
		CreatedAt:     now,
	}
	second := &domain.Commission{
		ID:            uuid.New(),
		BeneficiaryID: beneficiary,
		Amount:        decimal.RequireFromString("2.50"),
		Source:        domain.CommissionSourceBinaryMatch,
		Status:        domain.CommissionStatusPending,
		CreatedAt:     now.Add(time.Second),
	}

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.CreateCommission(ctx, first))
		require.NoError(t, tx.CreateCommission(ctx, second))
		return nil
	})

	approver := uuid.New()
	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.GetCommissionForUpdate(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, c.Amount.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, ref, *c.SaleReference)

		c.Status = domain.CommissionStatusApproved
		c.ApprovedAt = &now
		c.ApprovedBy = &approver
		return tx.UpdateCommissionStatus(ctx, c)
	})

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.GetCommission(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CommissionStatusApproved, c.Status)
		require.NotNil(t, c.ApprovedBy)
		assert.Equal(t, approver, *c.ApprovedBy)
		assert.Nil(t, c.PaidAt)

		bySale, err := tx.ListCommissionsBySale(ctx, ref)
		require.NoError(t, err)
		require.Len(t, bySale, 1)
		assert.Equal(t, first.ID, bySale[0].ID)

		byBeneficiary, err := tx.ListCommissionsByBeneficiary(ctx, beneficiary)
		require.NoError(t, err)
		require.Len(t, byBeneficiary, 2)
		assert.Equal(t, second.ID, byBeneficiary[0].ID)

		_, err = tx.GetCommission(ctx, uuid.New())
		assert.ErrorIs(t, err, pkgerrors.ErrCommissionNotFound)
		return nil
	})
}

func testWallets(t *testing.T, store storage.Store) {
	now := Now()
	owner := SeedParticipant(t, store, now)

	var walletID uuid.UUID
	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetWallet(ctx, owner)
		assert.ErrorIs(t, err, pkgerrors.ErrWalletNotFound)

		w, err := tx.EnsureWalletForUpdate(ctx, owner, now)
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
		walletID = w.ID

		again, err := tx.EnsureWalletForUpdate(ctx, owner, now)
		require.NoError(t, err)
		assert.Equal(t, walletID, again.ID)

		last, err := tx.LastWalletTransaction(ctx, walletID)
		require.NoError(t, err)
		assert.Nil(t, last)

		ten := decimal.RequireFromString("10.00")
		require.NoError(t, tx.SetWalletBalance(ctx, walletID, decimal.Zero, ten, now))
		assert.ErrorIs(t, tx.SetWalletBalance(ctx, walletID, decimal.Zero, ten, now), storage.ErrStaleWrite)

		line := &domain.WalletTransaction{
			ID:           uuid.New(),
			WalletID:     walletID,
			Sequence:     1,
			Amount:       ten,
			Type:         domain.WalletTransactionCredit,
			Note:         "Commission credit",
			PreviousHash: "genesis",
			Hash:         "h1",
			CreatedAt:    now,
		}
		return tx.AppendWalletTransaction(ctx, line)
	})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.AppendWalletTransaction(ctx, &domain.WalletTransaction{
			ID:           uuid.New(),
			WalletID:     walletID,
			Sequence:     1,
			Amount:       decimal.NewFromInt(1),
			Type:         domain.WalletTransactionCredit,
			PreviousHash: "genesis",
			Hash:         "h1-dup",
			CreatedAt:    now,
		})
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		w, err := tx.GetWallet(ctx, owner)
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(10)), w.Balance.String())

		lines, err := tx.ListWalletTransactions(ctx, walletID)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, int64(1), lines[0].Sequence)
		assert.Equal(t, "h1", lines[0].Hash)
		assert.Nil(t, lines[0].CommissionID)

		last, err := tx.LastWalletTransaction(ctx, walletID)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, lines[0].ID, last.ID)
		return nil
	})

	err = store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.EnsureWalletForUpdate(ctx, uuid.New(), now)
		return err
	})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func testSales(t *testing.T, store storage.Store) {
	now := Now()
	seller := SeedParticipant(t, store, now)
	record := &domain.SaleRecord{
		SaleReference: "ORDER-42",
		SellerID:      seller,
		Amount:        decimal.RequireFromString("100.00"),
		CreatedAt:     now,
	}

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateSaleRecord(ctx, record)
	})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateSaleRecord(ctx, record)
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetSaleRecord(ctx, "ORDER-42")
		require.NoError(t, err)
		assert.Equal(t, seller, got.SellerID)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))

		_, err = tx.GetSaleRecord(ctx, "ORDER-43")
		assert.ErrorIs(t, err, pkgerrors.ErrSaleNotFound)
		return nil
	})
}

func testRollback(t *testing.T, store storage.Store) {
	now := Now()
	seller := SeedParticipant(t, store, now)
	boom := errors.New("boom")

	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.CreateSaleRecord(ctx, &domain.SaleRecord{
			SaleReference: "ROLLED-BACK",
			SellerID:      seller,
			Amount:        decimal.NewFromInt(5),
			CreatedAt:     now,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	inTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetSaleRecord(ctx, "ROLLED-BACK")
		assert.ErrorIs(t, err, pkgerrors.ErrSaleNotFound)
		return nil
	})
}
