// Package domain re-exports core domain types so internal code can import
// `mlm/internal/domain` while using definitions from `mlm/pkg/domain`.
package domain

import pkg "mlm/pkg/domain"

// Participant is a resolvable network identity.
type Participant = pkg.Participant

// Position is LEFT or RIGHT under a parent.
type Position = pkg.Position

const (
	PositionLeft  = pkg.PositionLeft
	PositionRight = pkg.PositionRight
)

// Positions lists slots in fill order.
var Positions = pkg.Positions

// NetworkNode is a slot in the placement tree.
type NetworkNode = pkg.NetworkNode

// CommissionSource is why a commission was created.
type CommissionSource = pkg.CommissionSource

const (
	CommissionSourceDirectSale  = pkg.CommissionSourceDirectSale
	CommissionSourceBinaryMatch = pkg.CommissionSourceBinaryMatch
)

// CommissionStatus is the lifecycle state of a commission.
type CommissionStatus = pkg.CommissionStatus

const (
	CommissionStatusPending  = pkg.CommissionStatusPending
	CommissionStatusApproved = pkg.CommissionStatusApproved
	CommissionStatusPaid     = pkg.CommissionStatusPaid
)

// Commission is money owed because of a sale.
type Commission = pkg.Commission

// Wallet is a participant's balance holder.
type Wallet = pkg.Wallet

// WalletTransactionType is CREDIT or DEBIT.
type WalletTransactionType = pkg.WalletTransactionType

const (
	WalletTransactionCredit = pkg.WalletTransactionCredit
	WalletTransactionDebit  = pkg.WalletTransactionDebit
)

// WalletTransaction is an append-only ledger line.
type WalletTransaction = pkg.WalletTransaction

// SaleRecord proves a sale reference was processed.
type SaleRecord = pkg.SaleRecord

type PlacementResult = pkg.PlacementResult

type DownlineEntry = pkg.DownlineEntry

type IntegrityViolation = pkg.IntegrityViolation

type IntegrityReport = pkg.IntegrityReport

type ReconciliationReport = pkg.ReconciliationReport
