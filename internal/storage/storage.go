// Package storage defines the persistence boundary of the network service.
// Every unit of work runs inside Store.WithTx; drivers live in
// internal/storage/memory and internal/repository/sqlstore.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm/internal/domain"
)

// Store opens transactions against a backing database.
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, including on panic.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Tx is the set of repositories visible inside a transaction.
type Tx interface {
	ParticipantRepository
	NodeRepository
	CommissionRepository
	WalletRepository
	SaleRepository
}

// ParticipantRepository resolves identities.
type ParticipantRepository interface {
	// CreateParticipant returns ErrDuplicateKey if the id exists.
	CreateParticipant(ctx context.Context, p *domain.Participant) error

	// GetParticipant returns errors.ErrParticipantNotFound if missing.
	GetParticipant(ctx context.Context, id uuid.UUID) (*domain.Participant, error)
}

// NodeRepository persists the placement tree.
type NodeRepository interface {
	// CreateNode returns ErrDuplicateKey if the participant already has a node.
	CreateNode(ctx context.Context, n *domain.NetworkNode) error

	// GetNode returns errors.ErrNodeNotFound if missing.
	GetNode(ctx context.Context, participantID uuid.UUID) (*domain.NetworkNode, error)

	// GetNodeForUpdate is GetNode plus a row lock held until the end of the
	// transaction.
	GetNodeForUpdate(ctx context.Context, participantID uuid.UUID) (*domain.NetworkNode, error)

	// ListChildren returns the children of parentID, LEFT before RIGHT.
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*domain.NetworkNode, error)

	// OldestPlacedRoot returns the earliest created placed node without a
	// parent that is not Unattached, ignoring exclude. Returns errors.ErrNodeNotFound if none exists.
	OldestPlacedRoot(ctx context.Context, exclude uuid.UUID) (*domain.NetworkNode, error)

	// AttachNode records the placement of an unplaced node. A nil parent
	// makes it the tree root. Returns ErrDuplicateKey when (parent, position)
	// is taken or, for a root, when another placed root exists, and
	// errors.ErrAlreadyPlaced when the node was placed already.
	AttachNode(ctx context.Context, participantID uuid.UUID, parentID *uuid.UUID, position *domain.Position, placedAt time.Time) error

	// AttachUnattached places a node as a parentless root flagged
	// Unattached. It is exempt from the single-root rule.
	AttachUnattached(ctx context.Context, participantID uuid.UUID, placedAt time.Time) error

	// SetNodeActive returns errors.ErrNodeNotFound if missing.
	SetNodeActive(ctx context.Context, participantID uuid.UUID, active bool) error

	// ListNodes returns every node ordered by creation time.
	ListNodes(ctx context.Context) ([]*domain.NetworkNode, error)
}

// CommissionRepository persists commissions.
type CommissionRepository interface {
	CreateCommission(ctx context.Context, c *domain.Commission) error

	// GetCommission returns errors.ErrCommissionNotFound if missing.
	GetCommission(ctx context.Context, id uuid.UUID) (*domain.Commission, error)

	// GetCommissionForUpdate is GetCommission plus a row lock.
	GetCommissionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Commission, error)

	// UpdateCommissionStatus writes status, approval and payment fields.
	UpdateCommissionStatus(ctx context.Context, c *domain.Commission) error

	// ListCommissionsBySale returns commissions in creation order.
	ListCommissionsBySale(ctx context.Context, saleReference string) ([]*domain.Commission, error)

	// ListCommissionsByBeneficiary returns commissions newest first.
	ListCommissionsByBeneficiary(ctx context.Context, beneficiaryID uuid.UUID) ([]*domain.Commission, error)
}

// WalletRepository persists wallets and their ledger lines.
type WalletRepository interface {
	// GetWallet returns errors.ErrWalletNotFound if the participant has none.
	GetWallet(ctx context.Context, participantID uuid.UUID) (*domain.Wallet, error)

	// EnsureWalletForUpdate creates the wallet when missing and returns it
	// locked for the rest of the transaction.
	EnsureWalletForUpdate(ctx context.Context, participantID uuid.UUID, now time.Time) (*domain.Wallet, error)

	// SetWalletBalance moves the balance from one value to another. Returns
	// ErrStaleWrite when the stored balance no longer equals from.
	SetWalletBalance(ctx context.Context, walletID uuid.UUID, from, to decimal.Decimal, now time.Time) error

	// AppendWalletTransaction returns ErrDuplicateKey if the sequence is taken.
	AppendWalletTransaction(ctx context.Context, t *domain.WalletTransaction) error

	// LastWalletTransaction returns nil when the wallet has no lines.
	LastWalletTransaction(ctx context.Context, walletID uuid.UUID) (*domain.WalletTransaction, error)

	// ListWalletTransactions returns lines in sequence order.
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID) ([]*domain.WalletTransaction, error)
}

// SaleRepository persists processed sale references.
type SaleRepository interface {
	// CreateSaleRecord returns ErrDuplicateKey if the reference exists.
	CreateSaleRecord(ctx context.Context, s *domain.SaleRecord) error

	// GetSaleRecord returns errors.ErrSaleNotFound if missing.
	GetSaleRecord(ctx context.Context, saleReference string) (*domain.SaleRecord, error)
}
