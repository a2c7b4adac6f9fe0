package network

import (
	"context"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/pkg/errors"
)

// AutoPlace attaches an unplaced node inside tx and reports whether it had
// to be left as an unattached root.
//
// With no other placed node the node becomes the root; losing that race to
// a concurrent placement is an ErrSlotConflict. Otherwise a
// breadth-first search from start (or the oldest placed root) takes the
// first node with a free slot, LEFT before RIGHT. Only the new node's row
// is written; the chosen parent is locked and re-checked first, and a
// taken slot surfaces as ErrSlotConflict.
func (s *Service) AutoPlace(ctx context.Context, tx storage.Tx, node *domain.NetworkNode, start *domain.NetworkNode) (bool, error) {
	if start == nil {
		root, err := tx.OldestPlacedRoot(ctx, node.ParticipantID)
		if errors.Is(err, errors.ErrNodeNotFound) {
			return false, s.claimRoot(ctx, tx, node.ParticipantID)
		}
		if err != nil {
			return false, err
		}
		start = root
	}

	parentID, position, found, err := findSlot(ctx, tx, node.ParticipantID, start.ParticipantID)
	if err != nil {
		return false, err
	}
	if !found {
		s.logger.Error("Placement search exhausted, node left unattached", map[string]interface{}{
			"participant_id": node.ParticipantID,
			"start_node_id":  start.ParticipantID,
		})
		return true, tx.AttachUnattached(ctx, node.ParticipantID, s.now())
	}

	if err := s.claimSlot(ctx, tx, node.ParticipantID, parentID, position); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) claimRoot(ctx context.Context, tx storage.Tx, nodeID uuid.UUID) error {
	err := tx.AttachNode(ctx, nodeID, nil, nil, s.now())
	if errors.Is(err, storage.ErrDuplicateKey) {
		return errors.Wrap(errors.ErrSlotConflict, "tree root already claimed")
	}
	return err
}

// findSlot walks the tree breadth-first from start and returns the first
// free (parent, position). The node being placed is never a candidate.
func findSlot(ctx context.Context, tx storage.Tx, self, start uuid.UUID) (uuid.UUID, domain.Position, bool, error) {
	queue := []uuid.UUID{start}
	visited := make(map[uuid.UUID]bool)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == self || visited[current] {
			continue
		}
		visited[current] = true

		children, err := tx.ListChildren(ctx, current)
		if err != nil {
			return uuid.Nil, "", false, err
		}
		if pos, ok := freePosition(children); ok {
			return current, pos, true, nil
		}
		for _, child := range children {
			queue = append(queue, child.ParticipantID)
		}
	}
	return uuid.Nil, "", false, nil
}

func freePosition(children []*domain.NetworkNode) (domain.Position, bool) {
	taken := make(map[domain.Position]bool, len(children))
	for _, c := range children {
		if c.Position != nil {
			taken[*c.Position] = true
		}
	}
	if len(children) >= len(domain.Positions) {
		return "", false
	}
	for _, pos := range domain.Positions {
		if !taken[pos] {
			return pos, true
		}
	}
	return "", false
}

// claimSlot locks the parent, re-validates the slot and attaches the node.
func (s *Service) claimSlot(ctx context.Context, tx storage.Tx, nodeID, parentID uuid.UUID, position domain.Position) error {
	parent, err := tx.GetNodeForUpdate(ctx, parentID)
	if err != nil {
		return err
	}
	if !parent.IsPlaced() {
		return errors.ErrSlotConflict
	}

	children, err := tx.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	if len(children) >= len(domain.Positions) {
		return errors.ErrSlotConflict
	}
	for _, c := range children {
		if c.Position != nil && *c.Position == position {
			return errors.ErrSlotConflict
		}
	}

	if err := guardCycle(ctx, tx, nodeID, parentID); err != nil {
		return err
	}

	err = tx.AttachNode(ctx, nodeID, &parentID, &position, s.now())
	if errors.Is(err, storage.ErrDuplicateKey) {
		return errors.ErrSlotConflict
	}
	return err
}

// guardCycle fails when nodeID is parentID or one of its ancestors.
func guardCycle(ctx context.Context, tx storage.Tx, nodeID, parentID uuid.UUID) error {
	visited := make(map[uuid.UUID]bool)
	current := &parentID
	for current != nil {
		if *current == nodeID || visited[*current] {
			return errors.Wrap(errors.ErrSlotConflict, "placement would create a cycle")
		}
		visited[*current] = true
		n, err := tx.GetNode(ctx, *current)
		if err != nil {
			return err
		}
		current = n.ParentID
	}
	return nil
}
