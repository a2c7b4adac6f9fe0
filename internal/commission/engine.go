// ==============================================================================
// COMMISSION ENGINE - internal/commission/engine.go
// ==============================================================================
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm/internal/domain"
	"mlm/internal/intake"
	"mlm/internal/ledger"
	"mlm/internal/metrics"
	"mlm/internal/network"
	"mlm/internal/notification"
	"mlm/internal/storage"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
)

type Config struct {
	DirectRate  decimal.Decimal
	BinaryRate  decimal.Decimal
	AutoApprove bool
}

// Engine turns sales into commissions and approved commissions into
// wallet credits.
type Engine struct {
	store    storage.Store
	gate     *intake.Gate
	ledger   *ledger.Service
	cfg      Config
	notifier notification.Service
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time
}

func NewEngine(store storage.Store, gate *intake.Gate, ledgerSvc *ledger.Service, cfg Config, notifier notification.Service, m *metrics.Metrics, log logger.Logger) *Engine {
	return &Engine{
		store:    store,
		gate:     gate,
		ledger:   ledgerSvc,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// RecordSaleRequest is one sale event. AutoApprove overrides the configured
// default when set.
type RecordSaleRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"required,money"`
	SellerID      uuid.UUID       `json:"seller_id" validate:"required"`
	SaleReference string          `json:"sale_reference,omitempty" validate:"max=128,sale_ref"`
	AutoApprove   *bool           `json:"auto_approve,omitempty"`
}

// RecordSale admits the sale and creates the seller's direct commission and
// the binary match for the seller's parent, approving both when requested.
// Everything happens in one transaction. Commissions that round to zero are
// not created.
func (e *Engine) RecordSale(ctx context.Context, req RecordSaleRequest) ([]*domain.Commission, error) {
	start := time.Now()
	if !req.Amount.IsPositive() {
		return nil, errors.Wrap(errors.ErrInvalidAmount, "sale amount must be positive")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, errors.Wrap(errors.ErrInvalidAmount, "sale amount has more than two decimals")
	}
	autoApprove := e.cfg.AutoApprove
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}

	var created []*domain.Commission
	err := e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		created = nil
		if _, err := tx.GetParticipant(ctx, req.SellerID); err != nil {
			return err
		}

		now := e.now()
		err := e.gate.Admit(ctx, tx, &domain.SaleRecord{
			SaleReference: req.SaleReference,
			SellerID:      req.SellerID,
			Amount:        req.Amount,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}

		var ref *string
		if req.SaleReference != "" {
			r := req.SaleReference
			ref = &r
		}

		direct := req.Amount.Mul(e.cfg.DirectRate).Round(2)
		if c, err := e.create(ctx, tx, req.SellerID, direct, domain.CommissionSourceDirectSale, ref, now); err != nil {
			return err
		} else if c != nil {
			created = append(created, c)
		}

		parentID, err := network.ParentTx(ctx, tx, req.SellerID)
		if err != nil {
			return err
		}
		if parentID != nil {
			match := req.Amount.Mul(e.cfg.BinaryRate).Round(2)
			if c, err := e.create(ctx, tx, *parentID, match, domain.CommissionSourceBinaryMatch, ref, now); err != nil {
				return err
			} else if c != nil {
				created = append(created, c)
			}
		}

		if autoApprove {
			for _, c := range created {
				if _, err := e.approveTx(ctx, tx, c, nil, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	e.metrics.Observe("record_sale", start, err)
	if err != nil {
		if errors.Is(err, errors.ErrDuplicateSale) {
			e.metrics.SaleDuplicate()
			e.logger.Warn("Duplicate sale rejected", map[string]interface{}{
				"sale_reference": req.SaleReference,
				"seller_id":      req.SellerID,
			})
		}
		return nil, err
	}

	e.metrics.SaleRecorded()
	e.logger.Info("Sale recorded", map[string]interface{}{
		"sale_reference": req.SaleReference,
		"seller_id":      req.SellerID,
		"amount":         req.Amount.String(),
		"commissions":    len(created),
		"auto_approved":  autoApprove,
	})
	notification.Dispatch(e.notifier, e.logger, req.SellerID, notification.EventSaleRecorded, map[string]interface{}{
		"sale_reference": req.SaleReference,
		"amount":         req.Amount.String(),
	})
	for _, c := range created {
		e.metrics.CommissionCreated(string(c.Source), c.Amount)
		notification.Dispatch(e.notifier, e.logger, c.BeneficiaryID, notification.EventCommissionCreated, map[string]interface{}{
			"commission_id": c.ID.String(),
			"source":        string(c.Source),
			"amount":        c.Amount.StringFixed(2),
		})
		if c.Status == domain.CommissionStatusApproved {
			e.approved(c)
		}
	}
	return created, nil
}

func (e *Engine) create(ctx context.Context, tx storage.Tx, beneficiary uuid.UUID, amount decimal.Decimal, source domain.CommissionSource, ref *string, now time.Time) (*domain.Commission, error) {
	if !amount.IsPositive() {
		e.logger.Debug("Commission rounds to zero, skipped", map[string]interface{}{
			"beneficiary_id": beneficiary,
			"source":         source,
		})
		return nil, nil
	}
	c := &domain.Commission{
		ID:            uuid.New(),
		BeneficiaryID: beneficiary,
		Amount:        amount,
		Source:        source,
		SaleReference: ref,
		Status:        domain.CommissionStatusPending,
		CreatedAt:     now,
	}
	if err := tx.CreateCommission(ctx, c); err != nil {
		return nil, errors.Wrap(err, "failed to create commission")
	}
	return c, nil
}

// Approve moves a PENDING commission to APPROVED and credits the
// beneficiary's wallet in the same transaction. Approving an APPROVED or
// PAID commission changes nothing.
func (e *Engine) Approve(ctx context.Context, commissionID uuid.UUID, approverID *uuid.UUID) (*domain.Commission, error) {
	start := time.Now()
	var c *domain.Commission
	var changed bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		c, err = tx.GetCommissionForUpdate(ctx, commissionID)
		if err != nil {
			return err
		}
		changed, err = e.approveTx(ctx, tx, c, approverID, e.now())
		return err
	})
	e.metrics.Observe("approve_commission", start, err)
	if err != nil {
		return nil, err
	}
	if changed {
		e.approved(c)
	}
	return c, nil
}

func (e *Engine) approveTx(ctx context.Context, tx storage.Tx, c *domain.Commission, approverID *uuid.UUID, now time.Time) (bool, error) {
	if c.Status != domain.CommissionStatusPending {
		return false, nil
	}
	c.Status = domain.CommissionStatusApproved
	c.ApprovedAt = &now
	c.ApprovedBy = approverID
	if err := tx.UpdateCommissionStatus(ctx, c); err != nil {
		return false, err
	}

	note := "Approved commission"
	if c.SaleReference != nil {
		note = fmt.Sprintf("Approved commission (sale %s)", *c.SaleReference)
	}
	if _, err := e.ledger.CreditTx(ctx, tx, c.BeneficiaryID, c.Amount, note, &c.ID); err != nil {
		return false, errors.Wrap(err, "failed to credit commission")
	}
	return true, nil
}

// approved reports a committed approval.
func (e *Engine) approved(c *domain.Commission) {
	e.metrics.CommissionApproved()
	e.metrics.LedgerEntry(string(domain.WalletTransactionCredit))
	fields := map[string]interface{}{
		"commission_id":  c.ID,
		"beneficiary_id": c.BeneficiaryID,
		"amount":         c.Amount.StringFixed(2),
	}
	if c.ApprovedBy != nil {
		fields["approved_by"] = *c.ApprovedBy
	}
	e.logger.Info("Commission approved", fields)
	notification.Dispatch(e.notifier, e.logger, c.BeneficiaryID, notification.EventCommissionApproved, map[string]interface{}{
		"commission_id": c.ID.String(),
		"amount":        c.Amount.StringFixed(2),
	})
}

// MarkPaid moves an APPROVED commission to PAID. It has no ledger effect.
func (e *Engine) MarkPaid(ctx context.Context, commissionID uuid.UUID) (*domain.Commission, error) {
	var c *domain.Commission
	err := e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		c, err = tx.GetCommissionForUpdate(ctx, commissionID)
		if err != nil {
			return err
		}
		if c.Status != domain.CommissionStatusApproved {
			return errors.Wrap(errors.ErrInvalidTransition, fmt.Sprintf("commission is %s", c.Status))
		}
		now := e.now()
		c.Status = domain.CommissionStatusPaid
		c.PaidAt = &now
		return tx.UpdateCommissionStatus(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.CommissionPaid()
	e.logger.Info("Commission paid", map[string]interface{}{
		"commission_id":  c.ID,
		"beneficiary_id": c.BeneficiaryID,
	})
	notification.Dispatch(e.notifier, e.logger, c.BeneficiaryID, notification.EventCommissionPaid, map[string]interface{}{
		"commission_id": c.ID.String(),
		"amount":        c.Amount.StringFixed(2),
	})
	return c, nil
}

func (e *Engine) GetCommission(ctx context.Context, commissionID uuid.UUID) (*domain.Commission, error) {
	var c *domain.Commission
	err := e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		c, err = tx.GetCommission(ctx, commissionID)
		return err
	})
	return c, err
}

// ListByBeneficiary returns a participant's commissions, newest first.
func (e *Engine) ListByBeneficiary(ctx context.Context, participantID uuid.UUID) ([]*domain.Commission, error) {
	list := []*domain.Commission{}
	err := e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetParticipant(ctx, participantID); err != nil {
			return err
		}
		found, err := tx.ListCommissionsByBeneficiary(ctx, participantID)
		if err != nil {
			return err
		}
		list = append(list, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
