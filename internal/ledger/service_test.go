package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"mlm/internal/domain"
	"mlm/internal/metrics"
	"mlm/internal/repository/sqlstore"
	"mlm/internal/storage"
	"mlm/internal/storage/memory"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService(t *testing.T, store storage.Store) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New("test", prometheus.NewRegistry())
	return NewService(store, nil, m, logger.NewNop()), m
}

func seedParticipant(t *testing.T, store storage.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateParticipant(ctx, &domain.Participant{ID: id, DisplayName: "p", CreatedAt: time.Now().UTC()})
	}))
	return id
}

func TestCreditCreatesWalletLazily(t *testing.T) {
	store := memory.NewStore()
	svc, m := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	balance, err := svc.Balance(ctx, pid)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	lines, err := svc.ListTransactions(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, lines)

	commissionID := uuid.New()
	line, err := svc.Credit(ctx, pid, dec("10.00"), "", &commissionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.Sequence)
	assert.Equal(t, GenesisHash, line.PreviousHash)
	assert.Equal(t, DefaultCreditNote, line.Note)
	assert.Equal(t, domain.WalletTransactionCredit, line.Type)
	assert.Equal(t, commissionID, *line.CommissionID)

	balance, err = svc.Balance(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "10.00", balance.StringFixed(2))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerEntries.WithLabelValues("CREDIT")))
}

func TestDebit(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	_, err := svc.Debit(ctx, pid, dec("1.00"), "")
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	_, err = svc.Credit(ctx, pid, dec("25.50"), "bonus", nil)
	require.NoError(t, err)

	line, err := svc.Debit(ctx, pid, dec("20.00"), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultDebitNote, line.Note)
	assert.Equal(t, int64(2), line.Sequence)

	_, err = svc.Debit(ctx, pid, dec("5.51"), "too much")
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	_, err = svc.Debit(ctx, pid, dec("5.50"), "rest")
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, pid)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	lines, err := svc.ListTransactions(ctx, pid)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{lines[0].Sequence, lines[1].Sequence, lines[2].Sequence})
}

func TestRejectsInvalidAmounts(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	for _, amount := range []string{"0", "-1.00", "0.001"} {
		_, err := svc.Credit(ctx, pid, dec(amount), "", nil)
		assert.ErrorIs(t, err, errors.ErrInvalidAmount, amount)
		_, err = svc.Debit(ctx, pid, dec(amount), "")
		assert.ErrorIs(t, err, errors.ErrInvalidAmount, amount)
	}

	lines, err := svc.ListTransactions(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestUnknownParticipant(t *testing.T) {
	svc, _ := newService(t, memory.NewStore())
	ctx := context.Background()
	unknown := uuid.New()

	_, err := svc.Credit(ctx, unknown, dec("1.00"), "", nil)
	assert.ErrorIs(t, err, errors.ErrParticipantNotFound)

	_, err = svc.Balance(ctx, unknown)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = svc.ListTransactions(ctx, unknown)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = svc.Reconcile(ctx, unknown)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCreditTxRollsBackWithCaller(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	boom := errors.ErrInvalidTransition
	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := svc.CreditTx(ctx, tx, pid, dec("3.00"), "", nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	balance, err := svc.Balance(ctx, pid)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestReconcile(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	report, err := svc.Reconcile(ctx, pid)
	require.NoError(t, err)
	assert.Nil(t, report.WalletID)
	assert.True(t, report.Consistent)

	_, err = svc.Credit(ctx, pid, dec("10.00"), "", nil)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, pid, dec("2.50"), "", nil)
	require.NoError(t, err)
	_, err = svc.Debit(ctx, pid, dec("4.00"), "")
	require.NoError(t, err)

	report, err = svc.Reconcile(ctx, pid)
	require.NoError(t, err)
	assert.NotNil(t, report.WalletID)
	assert.Equal(t, "12.50", report.Credits.StringFixed(2))
	assert.Equal(t, "4.00", report.Debits.StringFixed(2))
	assert.Equal(t, "8.50", report.Balance.StringFixed(2))
	assert.Equal(t, 3, report.TransactionCount)
	assert.True(t, report.ChainValid)
	assert.True(t, report.Consistent)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	for _, amount := range []string{"1.00", "2.00", "3.00"} {
		_, err := svc.Credit(ctx, pid, dec(amount), "", nil)
		require.NoError(t, err)
	}
	lines, err := svc.ListTransactions(ctx, pid)
	require.NoError(t, err)
	require.NoError(t, VerifyChain(lines))

	lines[1].Amount = dec("200.00")
	assert.ErrorContains(t, VerifyChain(lines), "hash mismatch at sequence 2")

	lines[1].Amount = dec("2.00")
	lines[2].PreviousHash = GenesisHash
	assert.ErrorContains(t, VerifyChain(lines), "chain broken at sequence 3")

	assert.ErrorContains(t, VerifyChain(lines[1:]), "sequence gap")
}

func TestConcurrentMovementsKeepLedgerConsistent(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	_, err := svc.Credit(ctx, pid, dec("100.00"), "", nil)
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := svc.Credit(gctx, pid, dec("1.25"), "", nil)
			return err
		})
		g.Go(func() error {
			_, err := svc.Debit(gctx, pid, dec("2.00"), "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	report, err := svc.Reconcile(ctx, pid)
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.ChainError)
	assert.Equal(t, 41, report.TransactionCount)
	assert.Equal(t, "85.00", report.Balance.StringFixed(2))
}

func TestChainSurvivesSQLiteRoundTrip(t *testing.T) {
	store, err := sqlstore.Open(context.Background(), sqlstore.Options{
		Dialect: sqlstore.DialectSQLite,
		URL:     filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, _ := newService(t, store)
	ctx := context.Background()
	pid := seedParticipant(t, store)

	_, err = svc.Credit(ctx, pid, dec("7.10"), "", nil)
	require.NoError(t, err)
	_, err = svc.Debit(ctx, pid, dec("0.10"), "fee")
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, pid)
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.ChainError)
	assert.Equal(t, "7.00", report.Balance.StringFixed(2))
}
