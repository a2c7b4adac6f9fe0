// Package notification turns domain events into participant notifications
// and hands them to delivery channels. Delivery never affects the outcome
// of the operation that raised the event.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mlm/pkg/logger"
)

// Event types raised by the core services.
const (
	EventNodePlaced          = "NODE_PLACED"
	EventSaleRecorded        = "SALE_RECORDED"
	EventCommissionCreated   = "COMMISSION_CREATED"
	EventCommissionApproved  = "COMMISSION_APPROVED"
	EventCommissionPaid      = "COMMISSION_PAID"
	EventWalletDebited       = "WALLET_DEBITED"
	EventIntegrityViolations = "INTEGRITY_VIOLATIONS"
)

// Notification represents a message for one participant.
type Notification struct {
	ID            uuid.UUID              `json:"id"`
	ParticipantID uuid.UUID              `json:"participant_id"`
	Type          string                 `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	URL           string                 `json:"url,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Service defines the notification service interface.
type Service interface {
	Notify(ctx context.Context, participantID uuid.UUID, eventType string, data map[string]interface{}) error
	SendRaw(ctx context.Context, n *Notification) error
}

// Channel delivers a rendered notification.
type Channel interface {
	Deliver(ctx context.Context, n *Notification) error
}

// DefaultService renders templates and fans out to every channel. Delivery
// is logged; channel failures are logged and returned.
type DefaultService struct {
	logger   logger.Logger
	channels []Channel
}

// NewService creates a notification service writing to the given channels.
func NewService(log logger.Logger, channels ...Channel) *DefaultService {
	return &DefaultService{
		logger:   log,
		channels: channels,
	}
}

// Notify constructs and sends a notification based on an event type.
func (s *DefaultService) Notify(ctx context.Context, participantID uuid.UUID, eventType string, data map[string]interface{}) error {
	var title, message, url string

	switch eventType {
	case EventNodePlaced:
		title = "Welcome to the network"
		message = fmt.Sprintf("You were placed %v under %v.", data["position"], data["parent_id"])
		url = fmt.Sprintf("/network/nodes/%s", participantID)

	case EventSaleRecorded:
		title = "Sale recorded"
		message = fmt.Sprintf("Sale %v of %v was recorded.", data["sale_reference"], data["amount"])

	case EventCommissionCreated:
		title = "Commission earned"
		message = fmt.Sprintf("You earned a %v commission of %v.", data["source"], data["amount"])
		url = fmt.Sprintf("/commissions/%v", data["commission_id"])

	case EventCommissionApproved:
		title = "Commission approved"
		message = fmt.Sprintf("Commission of %v was approved and credited to your wallet.", data["amount"])
		url = fmt.Sprintf("/wallets/%s/transactions", participantID)

	case EventCommissionPaid:
		title = "Commission paid"
		message = fmt.Sprintf("Commission of %v was paid out.", data["amount"])

	case EventWalletDebited:
		title = "Wallet debited"
		message = fmt.Sprintf("%v was debited from your wallet: %v.", data["amount"], data["note"])
		url = fmt.Sprintf("/wallets/%s/transactions", participantID)

	default:
		title = "Notification"
		message = fmt.Sprintf("Event: %s", eventType)
	}

	n := &Notification{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Type:          eventType,
		Title:         title,
		Message:       message,
		URL:           url,
		Metadata:      data,
		CreatedAt:     time.Now().UTC(),
	}

	return s.SendRaw(ctx, n)
}

// SendRaw hands n to every channel and reports the first failure.
func (s *DefaultService) SendRaw(ctx context.Context, n *Notification) error {
	s.logger.Info("Notification sent", map[string]interface{}{
		"notification_id": n.ID,
		"participant_id":  n.ParticipantID,
		"type":            n.Type,
		"title":           n.Title,
	})

	var firstErr error
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, n); err != nil {
			s.logger.Error("Notification delivery failed", map[string]interface{}{
				"notification_id": n.ID,
				"type":            n.Type,
				"error":           err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Dispatch fires Notify in the background with its own timeout, detached
// from the caller's context.
func Dispatch(svc Service, log logger.Logger, participantID uuid.UUID, eventType string, data map[string]interface{}) {
	if svc == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Notify(ctx, participantID, eventType, data); err != nil {
			log.Warn("Notification dropped", map[string]interface{}{
				"participant_id": participantID,
				"type":           eventType,
				"error":          err.Error(),
			})
		}
	}()
}
