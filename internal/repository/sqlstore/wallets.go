package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/pkg/errors"
)

const walletColumns = `id, participant_id, balance, created_at, updated_at`

const walletTransactionColumns = `id, wallet_id, sequence, amount, type, note, commission_id, previous_hash, hash, created_at`

func (t *tx) GetWallet(ctx context.Context, participantID uuid.UUID) (*domain.Wallet, error) {
	return t.getWallet(ctx, participantID, "")
}

func (t *tx) getWallet(ctx context.Context, participantID uuid.UUID, lock string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	query := t.q(`SELECT ` + walletColumns + ` FROM wallets WHERE participant_id = ?` + lock)
	if err := t.tx.GetContext(ctx, w, query, participantID); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrWalletNotFound
		}
		return nil, errors.Wrap(err, "failed to find wallet")
	}
	return w, nil
}

// EnsureWalletForUpdate inserts the wallet if absent, tolerating a
// concurrent insert, then locks the row.
func (t *tx) EnsureWalletForUpdate(ctx context.Context, participantID uuid.UUID, now time.Time) (*domain.Wallet, error) {
	if _, err := t.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}

	insert := t.q(`
		INSERT INTO wallets (` + walletColumns + `)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (participant_id) DO NOTHING
	`)
	if _, err := t.tx.ExecContext(ctx, insert, uuid.New(), participantID, money(decimal.Zero), now.UTC(), now.UTC()); err != nil {
		return nil, translate(err, "failed to create wallet")
	}
	return t.getWallet(ctx, participantID, t.forUpdate())
}

func (t *tx) SetWalletBalance(ctx context.Context, walletID uuid.UUID, from, to decimal.Decimal, now time.Time) error {
	query := t.q(`
		UPDATE wallets
		SET balance = ?, updated_at = ?
		WHERE id = ? AND balance = ?
	`)
	result, err := t.tx.ExecContext(ctx, query, money(to), now.UTC(), walletID, money(from))
	if err != nil {
		return errors.Wrap(err, "failed to update wallet balance")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update wallet balance")
	}
	if rows == 0 {
		return storage.ErrStaleWrite
	}
	return nil
}

func (t *tx) AppendWalletTransaction(ctx context.Context, line *domain.WalletTransaction) error {
	query := t.q(`
		INSERT INTO wallet_transactions (` + walletTransactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query,
		line.ID, line.WalletID, line.Sequence, money(line.Amount), line.Type, line.Note,
		line.CommissionID, line.PreviousHash, line.Hash, line.CreatedAt.UTC(),
	)
	return translate(err, "failed to append wallet transaction")
}

func (t *tx) LastWalletTransaction(ctx context.Context, walletID uuid.UUID) (*domain.WalletTransaction, error) {
	line := &domain.WalletTransaction{}
	query := t.q(`
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`)
	if err := t.tx.GetContext(ctx, line, query, walletID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find last wallet transaction")
	}
	return line, nil
}

func (t *tx) ListWalletTransactions(ctx context.Context, walletID uuid.UUID) ([]*domain.WalletTransaction, error) {
	lines := []*domain.WalletTransaction{}
	query := t.q(`
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = ?
		ORDER BY sequence ASC
	`)
	if err := t.tx.SelectContext(ctx, &lines, query, walletID); err != nil {
		return nil, errors.Wrap(err, "failed to list wallet transactions")
	}
	return lines, nil
}
