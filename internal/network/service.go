// ==============================================================================
// NETWORK SERVICE - internal/network/service.go
// ==============================================================================
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/metrics"
	"mlm/internal/notification"
	"mlm/internal/storage"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
)

// Placement outcomes reported in logs and metrics.
const (
	OutcomeChild      = "child"
	OutcomeRoot       = "root"
	OutcomeUnattached = "unattached"
)

type Config struct {
	// MaxPlacementAttempts bounds the optimistic retries of one placement.
	MaxPlacementAttempts int
}

type Service struct {
	store    storage.Store
	cfg      Config
	notifier notification.Service
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time
}

func NewService(store storage.Store, cfg Config, notifier notification.Service, m *metrics.Metrics, log logger.Logger) *Service {
	if cfg.MaxPlacementAttempts < 1 {
		cfg.MaxPlacementAttempts = 1
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

type PlaceParticipantRequest struct {
	ParticipantID uuid.UUID  `json:"participant_id" validate:"required"`
	StartNodeID   *uuid.UUID `json:"start_node_id,omitempty"`
}

// PlaceParticipant gives a participant its slot in the tree, creating the
// node on first use. The search starts at startHint when given, else at the
// participant's referrer when that node is placed, else at the oldest root.
// A lost race for a slot is retried against the updated tree.
func (s *Service) PlaceParticipant(ctx context.Context, participantID uuid.UUID, startHint *uuid.UUID) (*domain.PlacementResult, error) {
	start := time.Now()
	var result *domain.PlacementResult
	var err error

	for attempt := 1; attempt <= s.cfg.MaxPlacementAttempts; attempt++ {
		err = s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			r, err := s.placeTx(ctx, tx, participantID, startHint)
			result = r
			return err
		})
		if err == nil {
			result.Attempts = attempt
			break
		}
		if !errors.Is(err, errors.ErrSlotConflict) {
			s.metrics.Observe("place_participant", start, err)
			return nil, err
		}
		s.metrics.PlacementConflict()
		s.logger.Warn("Placement slot taken, retrying", map[string]interface{}{
			"participant_id": participantID,
			"attempt":        attempt,
		})
	}
	s.metrics.Observe("place_participant", start, err)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("placement gave up after %d attempts", s.cfg.MaxPlacementAttempts))
	}

	outcome := OutcomeChild
	switch {
	case result.Unattached:
		outcome = OutcomeUnattached
	case result.Node.IsRoot():
		outcome = OutcomeRoot
	}
	s.metrics.PlacementDone(outcome)

	fields := map[string]interface{}{
		"participant_id": participantID,
		"outcome":        outcome,
		"attempts":       result.Attempts,
	}
	data := map[string]interface{}{"outcome": outcome}
	if result.Node.ParentID != nil {
		fields["parent_id"] = *result.Node.ParentID
		fields["position"] = *result.Node.Position
		data["parent_id"] = result.Node.ParentID.String()
		data["position"] = string(*result.Node.Position)
	}
	s.logger.Info("Participant placed", fields)
	notification.Dispatch(s.notifier, s.logger, participantID, notification.EventNodePlaced, data)

	return result, nil
}

func (s *Service) placeTx(ctx context.Context, tx storage.Tx, participantID uuid.UUID, startHint *uuid.UUID) (*domain.PlacementResult, error) {
	participant, err := tx.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	node, err := tx.GetNodeForUpdate(ctx, participantID)
	switch {
	case errors.Is(err, errors.ErrNodeNotFound):
		node = &domain.NetworkNode{
			ParticipantID: participantID,
			Active:        false,
			CreatedAt:     s.now(),
		}
		if err := tx.CreateNode(ctx, node); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				// created concurrently; the retry sees it
				return nil, errors.ErrSlotConflict
			}
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	if node.IsPlaced() {
		return nil, errors.ErrAlreadyPlaced
	}

	startNode, err := s.resolveStart(ctx, tx, participant, startHint)
	if err != nil {
		return nil, err
	}

	unattached, err := s.AutoPlace(ctx, tx, node, startNode)
	if err != nil {
		return nil, err
	}

	placed, err := tx.GetNode(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return &domain.PlacementResult{Node: placed, Unattached: unattached}, nil
}

// resolveStart picks the BFS origin. A nil result means the default root.
func (s *Service) resolveStart(ctx context.Context, tx storage.Tx, participant *domain.Participant, startHint *uuid.UUID) (*domain.NetworkNode, error) {
	if startHint != nil {
		if *startHint == participant.ID {
			return nil, errors.Wrap(errors.ErrInvalidStartNode, "a node cannot be placed under itself")
		}
		startNode, err := tx.GetNode(ctx, *startHint)
		if err != nil {
			return nil, errors.Wrap(err, "start node")
		}
		if !startNode.IsPlaced() {
			return nil, errors.Wrap(errors.ErrInvalidStartNode, "start node is not placed")
		}
		return startNode, nil
	}

	if participant.ReferrerID != nil && *participant.ReferrerID != participant.ID {
		ref, err := tx.GetNode(ctx, *participant.ReferrerID)
		switch {
		case err == nil && ref.IsPlaced():
			return ref, nil
		case err != nil && !errors.Is(err, errors.ErrNodeNotFound):
			return nil, err
		}
		s.logger.Debug("Referrer not placed, using default placement", map[string]interface{}{
			"participant_id": participant.ID,
			"referrer_id":    *participant.ReferrerID,
		})
	}
	return nil, nil
}

// GetNode returns the node of a participant.
func (s *Service) GetNode(ctx context.Context, participantID uuid.UUID) (*domain.NetworkNode, error) {
	var node *domain.NetworkNode
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		node, err = tx.GetNode(ctx, participantID)
		return err
	})
	return node, err
}

// SetActive flips the active flag. Nodes are never removed from the tree.
func (s *Service) SetActive(ctx context.Context, participantID uuid.UUID, active bool) (*domain.NetworkNode, error) {
	var node *domain.NetworkNode
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetNodeActive(ctx, participantID, active); err != nil {
			return err
		}
		var err error
		node, err = tx.GetNode(ctx, participantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Node activation changed", map[string]interface{}{
		"participant_id": participantID,
		"active":         active,
	})
	return node, nil
}
