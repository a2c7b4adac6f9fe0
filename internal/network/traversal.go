package network

import (
	"context"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/pkg/errors"
)

// GetUpline returns the ancestors of a participant's node, nearest first.
// maxLevels <= 0 walks up to the root.
func (s *Service) GetUpline(ctx context.Context, participantID uuid.UUID, maxLevels int) ([]*domain.NetworkNode, error) {
	var upline []*domain.NetworkNode
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		upline, err = UplineTx(ctx, tx, participantID, maxLevels)
		return err
	})
	return upline, err
}

// UplineTx is GetUpline inside an existing transaction. A repeated node
// stops the walk instead of looping.
func UplineTx(ctx context.Context, tx storage.Tx, participantID uuid.UUID, maxLevels int) ([]*domain.NetworkNode, error) {
	node, err := tx.GetNode(ctx, participantID)
	if err != nil {
		return nil, err
	}

	upline := []*domain.NetworkNode{}
	visited := map[uuid.UUID]bool{participantID: true}
	for node.ParentID != nil {
		if maxLevels > 0 && len(upline) >= maxLevels {
			break
		}
		if visited[*node.ParentID] {
			break
		}
		parent, err := tx.GetNode(ctx, *node.ParentID)
		if err != nil {
			return nil, err
		}
		visited[parent.ParticipantID] = true
		upline = append(upline, parent)
		node = parent
	}
	return upline, nil
}

// ParentTx returns the participant directly above participantID, or nil
// when the participant has no node or sits at a root.
func ParentTx(ctx context.Context, tx storage.Tx, participantID uuid.UUID) (*uuid.UUID, error) {
	node, err := tx.GetNode(ctx, participantID)
	if errors.Is(err, errors.ErrNodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if node.ParentID == nil {
		return nil, nil
	}
	parent, err := tx.GetNode(ctx, *node.ParentID)
	if errors.Is(err, errors.ErrNodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := parent.ParticipantID
	return &id, nil
}

// GetDownline walks breadth-first below a participant's node and returns
// every descendant with its distance. maxLevels <= 0 is unbounded.
func (s *Service) GetDownline(ctx context.Context, participantID uuid.UUID, maxLevels int) ([]domain.DownlineEntry, error) {
	var downline []domain.DownlineEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetNode(ctx, participantID); err != nil {
			return err
		}

		downline = []domain.DownlineEntry{}
		type item struct {
			id    uuid.UUID
			depth int
		}
		queue := []item{{id: participantID}}
		visited := map[uuid.UUID]bool{participantID: true}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if maxLevels > 0 && current.depth >= maxLevels {
				continue
			}
			children, err := tx.ListChildren(ctx, current.id)
			if err != nil {
				return err
			}
			for _, child := range children {
				if visited[child.ParticipantID] {
					continue
				}
				visited[child.ParticipantID] = true
				downline = append(downline, domain.DownlineEntry{Node: child, Depth: current.depth + 1})
				queue = append(queue, item{id: child.ParticipantID, depth: current.depth + 1})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return downline, nil
}
