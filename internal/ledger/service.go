// ==============================================================================
// LEDGER SERVICE - internal/ledger/service.go
// ==============================================================================
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm/internal/domain"
	"mlm/internal/metrics"
	"mlm/internal/notification"
	"mlm/internal/storage"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
)

const (
	DefaultCreditNote = "Commission credit"
	DefaultDebitNote  = "Payout"
)

// Service keeps one append-only, hash-chained ledger per participant
// wallet. Wallets are created on the first movement.
type Service struct {
	store    storage.Store
	notifier notification.Service
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time
}

func NewService(store storage.Store, notifier notification.Service, m *metrics.Metrics, log logger.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Credit adds amount to the participant's wallet in its own transaction.
func (s *Service) Credit(ctx context.Context, participantID uuid.UUID, amount decimal.Decimal, note string, commissionID *uuid.UUID) (*domain.WalletTransaction, error) {
	start := time.Now()
	var line *domain.WalletTransaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		line, err = s.CreditTx(ctx, tx, participantID, amount, note, commissionID)
		return err
	})
	s.metrics.Observe("wallet_credit", start, err)
	if err != nil {
		return nil, err
	}

	s.metrics.LedgerEntry(string(domain.WalletTransactionCredit))
	s.logger.Info("Wallet credited", map[string]interface{}{
		"participant_id": participantID,
		"wallet_id":      line.WalletID,
		"amount":         line.Amount.StringFixed(2),
		"sequence":       line.Sequence,
	})
	return line, nil
}

// CreditTx is Credit inside the caller's transaction.
func (s *Service) CreditTx(ctx context.Context, tx storage.Tx, participantID uuid.UUID, amount decimal.Decimal, note string, commissionID *uuid.UUID) (*domain.WalletTransaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if note == "" {
		note = DefaultCreditNote
	}
	return s.post(ctx, tx, participantID, domain.WalletTransactionCredit, amount, note, commissionID)
}

// Debit removes amount from the participant's wallet in its own transaction.
func (s *Service) Debit(ctx context.Context, participantID uuid.UUID, amount decimal.Decimal, note string) (*domain.WalletTransaction, error) {
	start := time.Now()
	var line *domain.WalletTransaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		line, err = s.DebitTx(ctx, tx, participantID, amount, note)
		return err
	})
	s.metrics.Observe("wallet_debit", start, err)
	if err != nil {
		if errors.Is(err, errors.ErrInsufficientBalance) {
			s.logger.Warn("Debit rejected", map[string]interface{}{
				"participant_id": participantID,
				"amount":         amount.String(),
			})
		}
		return nil, err
	}

	s.metrics.LedgerEntry(string(domain.WalletTransactionDebit))
	s.logger.Info("Wallet debited", map[string]interface{}{
		"participant_id": participantID,
		"wallet_id":      line.WalletID,
		"amount":         line.Amount.StringFixed(2),
		"sequence":       line.Sequence,
	})
	notification.Dispatch(s.notifier, s.logger, participantID, notification.EventWalletDebited, map[string]interface{}{
		"amount": line.Amount.StringFixed(2),
		"note":   line.Note,
	})
	return line, nil
}

// DebitTx is Debit inside the caller's transaction.
func (s *Service) DebitTx(ctx context.Context, tx storage.Tx, participantID uuid.UUID, amount decimal.Decimal, note string) (*domain.WalletTransaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if note == "" {
		note = DefaultDebitNote
	}
	return s.post(ctx, tx, participantID, domain.WalletTransactionDebit, amount, note, nil)
}

// post locks the wallet, moves its balance and appends the next chained line.
func (s *Service) post(ctx context.Context, tx storage.Tx, participantID uuid.UUID, typ domain.WalletTransactionType, amount decimal.Decimal, note string, commissionID *uuid.UUID) (*domain.WalletTransaction, error) {
	now := s.now()
	wallet, err := tx.EnsureWalletForUpdate(ctx, participantID, now)
	if err != nil {
		return nil, err
	}

	balance := wallet.Balance.Add(amount)
	if typ == domain.WalletTransactionDebit {
		if wallet.Balance.LessThan(amount) {
			return nil, errors.ErrInsufficientBalance
		}
		balance = wallet.Balance.Sub(amount)
	}

	last, err := tx.LastWalletTransaction(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	line := &domain.WalletTransaction{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		Sequence:     1,
		Amount:       amount,
		Type:         typ,
		Note:         note,
		CommissionID: commissionID,
		PreviousHash: GenesisHash,
		CreatedAt:    now,
	}
	if last != nil {
		line.Sequence = last.Sequence + 1
		line.PreviousHash = last.Hash
	}
	line.Hash = ComputeHash(line)

	if err := tx.SetWalletBalance(ctx, wallet.ID, wallet.Balance, balance, now); err != nil {
		return nil, errors.Wrap(err, "failed to update wallet balance")
	}
	if err := tx.AppendWalletTransaction(ctx, line); err != nil {
		return nil, errors.Wrap(err, "failed to append wallet transaction")
	}
	return line, nil
}

// Balance returns the participant's balance, zero when no wallet exists yet.
func (s *Service) Balance(ctx context.Context, participantID uuid.UUID) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := walletOf(ctx, tx, participantID)
		if err != nil || wallet == nil {
			return err
		}
		balance = wallet.Balance
		return nil
	})
	return balance, err
}

// ListTransactions returns the wallet's lines, oldest first.
func (s *Service) ListTransactions(ctx context.Context, participantID uuid.UUID) ([]*domain.WalletTransaction, error) {
	lines := []*domain.WalletTransaction{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := walletOf(ctx, tx, participantID)
		if err != nil || wallet == nil {
			return err
		}
		lines, err = tx.ListWalletTransactions(ctx, wallet.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Reconcile recomputes the balance from the ledger and verifies the chain.
func (s *Service) Reconcile(ctx context.Context, participantID uuid.UUID) (*domain.ReconciliationReport, error) {
	report := &domain.ReconciliationReport{
		ParticipantID: participantID,
		Balance:       decimal.Zero,
		Credits:       decimal.Zero,
		Debits:        decimal.Zero,
	}
	var lines []*domain.WalletTransaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := walletOf(ctx, tx, participantID)
		if err != nil || wallet == nil {
			return err
		}
		report.WalletID = &wallet.ID
		report.Balance = wallet.Balance
		lines, err = tx.ListWalletTransactions(ctx, wallet.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		switch line.Type {
		case domain.WalletTransactionCredit:
			report.Credits = report.Credits.Add(line.Amount)
		case domain.WalletTransactionDebit:
			report.Debits = report.Debits.Add(line.Amount)
		}
	}
	report.TransactionCount = len(lines)
	report.ChainValid = true
	if err := VerifyChain(lines); err != nil {
		report.ChainValid = false
		report.ChainError = err.Error()
	}
	report.Consistent = report.ChainValid && report.Balance.Equal(report.Credits.Sub(report.Debits))

	if !report.Consistent {
		s.logger.Error("Wallet reconciliation failed", map[string]interface{}{
			"participant_id": participantID,
			"balance":        report.Balance.StringFixed(2),
			"credits":        report.Credits.StringFixed(2),
			"debits":         report.Debits.StringFixed(2),
			"chain_error":    report.ChainError,
		})
	}
	return report, nil
}

// walletOf returns nil without error for a known participant that has no
// wallet yet.
func walletOf(ctx context.Context, tx storage.Tx, participantID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := tx.GetWallet(ctx, participantID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, errors.ErrWalletNotFound) {
		return nil, err
	}
	if _, err := tx.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}
	return nil, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrap(errors.ErrInvalidAmount, "amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return errors.Wrap(errors.ErrInvalidAmount, "amount has more than two decimals")
	}
	return nil
}
