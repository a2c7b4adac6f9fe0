package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Participant is an identity known to the network. Registration happens
// elsewhere; this service only resolves participants by id.
type Participant struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	DisplayName string     `json:"display_name" db:"display_name"`
	ReferrerID  *uuid.UUID `json:"referrer_id,omitempty" db:"referrer_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Position is the slot a node occupies under its parent.
type Position string

const (
	PositionLeft  Position = "LEFT"
	PositionRight Position = "RIGHT"
)

// Positions lists slots in fill order.
var Positions = []Position{PositionLeft, PositionRight}

func (p Position) Valid() bool {
	return p == PositionLeft || p == PositionRight
}

// NetworkNode is a participant's slot in the binary placement tree.
type NetworkNode struct {
	ParticipantID uuid.UUID  `json:"participant_id" db:"participant_id"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Position      *Position  `json:"position,omitempty" db:"position"`
	Active        bool       `json:"active" db:"active"`
	PlacedAt      *time.Time `json:"placed_at,omitempty" db:"placed_at"`
	// Unattached marks a root left over from an exhausted placement search.
	Unattached bool      `json:"unattached,omitempty" db:"unattached"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// IsPlaced reports whether placement already ran for the node.
func (n *NetworkNode) IsPlaced() bool { return n.PlacedAt != nil }

// IsRoot reports whether the node has no parent.
func (n *NetworkNode) IsRoot() bool { return n.ParentID == nil }

type CommissionSource string

const (
	CommissionSourceDirectSale  CommissionSource = "DIRECT_SALE"
	CommissionSourceBinaryMatch CommissionSource = "BINARY_MATCH"
)

type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "PENDING"
	CommissionStatusApproved CommissionStatus = "APPROVED"
	CommissionStatusPaid     CommissionStatus = "PAID"
)

// Commission is money owed to a beneficiary because of a sale.
type Commission struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	BeneficiaryID uuid.UUID        `json:"beneficiary_id" db:"beneficiary_id"`
	Amount        decimal.Decimal  `json:"amount" db:"amount"`
	Source        CommissionSource `json:"source" db:"source"`
	SaleReference *string          `json:"sale_reference,omitempty" db:"sale_reference"`
	Status        CommissionStatus `json:"status" db:"status"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	ApprovedAt    *time.Time       `json:"approved_at,omitempty" db:"approved_at"`
	ApprovedBy    *uuid.UUID       `json:"approved_by,omitempty" db:"approved_by"`
	PaidAt        *time.Time       `json:"paid_at,omitempty" db:"paid_at"`
}

// Wallet holds a participant's commission balance.
type Wallet struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	ParticipantID uuid.UUID       `json:"participant_id" db:"participant_id"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

type WalletTransactionType string

const (
	WalletTransactionCredit WalletTransactionType = "CREDIT"
	WalletTransactionDebit  WalletTransactionType = "DEBIT"
)

// WalletTransaction is one append-only ledger line. Sequence is dense per
// wallet and each Hash covers the previous line's Hash.
type WalletTransaction struct {
	ID           uuid.UUID             `json:"id" db:"id"`
	WalletID     uuid.UUID             `json:"wallet_id" db:"wallet_id"`
	Sequence     int64                 `json:"sequence" db:"sequence"`
	Amount       decimal.Decimal       `json:"amount" db:"amount"`
	Type         WalletTransactionType `json:"type" db:"type"`
	Note         string                `json:"note" db:"note"`
	CommissionID *uuid.UUID            `json:"commission_id,omitempty" db:"commission_id"`
	PreviousHash string                `json:"previous_hash" db:"previous_hash"`
	Hash         string                `json:"hash" db:"hash"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
}

// SaleRecord marks a sale reference as processed.
type SaleRecord struct {
	SaleReference string          `json:"sale_reference" db:"sale_reference"`
	SellerID      uuid.UUID       `json:"seller_id" db:"seller_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// PlacementResult describes where a participant ended up.
type PlacementResult struct {
	Node       *NetworkNode `json:"node"`
	Attempts   int          `json:"attempts"`
	Unattached bool         `json:"unattached"`
}

// DownlineEntry is a node found below another node, with its distance.
type DownlineEntry struct {
	Node  *NetworkNode `json:"node"`
	Depth int          `json:"depth"`
}

// IntegrityViolation is one structural problem found in the tree.
type IntegrityViolation struct {
	NodeID uuid.UUID `json:"node_id"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// IntegrityReport is the outcome of a whole-tree structural check.
type IntegrityReport struct {
	NodeCount  int                  `json:"node_count"`
	Roots      []uuid.UUID          `json:"roots"`
	Violations []IntegrityViolation `json:"violations"`
	CheckedAt  time.Time            `json:"checked_at"`
}

// Healthy reports a tree with a single root and no violations.
func (r *IntegrityReport) Healthy() bool {
	return len(r.Violations) == 0 && len(r.Roots) <= 1
}

// ReconciliationReport compares a wallet balance against its ledger.
type ReconciliationReport struct {
	ParticipantID    uuid.UUID       `json:"participant_id"`
	WalletID         *uuid.UUID      `json:"wallet_id,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	Credits          decimal.Decimal `json:"credits"`
	Debits           decimal.Decimal `json:"debits"`
	TransactionCount int             `json:"transaction_count"`
	ChainValid       bool            `json:"chain_valid"`
	ChainError       string          `json:"chain_error,omitempty"`
	Consistent       bool            `json:"consistent"`
}
