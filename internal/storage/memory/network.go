package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/storage"
	"mlm/pkg/errors"
)

func (t *tx) CreateParticipant(_ context.Context, p *domain.Participant) error {
	if _, exists := t.st.participants[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	t.st.participants[p.ID] = *p
	return nil
}

func (t *tx) GetParticipant(_ context.Context, id uuid.UUID) (*domain.Participant, error) {
	p, ok := t.st.participants[id]
	if !ok {
		return nil, errors.ErrParticipantNotFound
	}
	return &p, nil
}

func (t *tx) CreateNode(_ context.Context, n *domain.NetworkNode) error {
	if _, ok := t.st.participants[n.ParticipantID]; !ok {
		return errors.ErrParticipantNotFound
	}
	if _, exists := t.st.nodes[n.ParticipantID]; exists {
		return storage.ErrDuplicateKey
	}
	if n.ParentID != nil && n.Position != nil {
		key := slotKey{parent: *n.ParentID, position: *n.Position}
		if _, taken := t.st.slots[key]; taken {
			return storage.ErrDuplicateKey
		}
		t.st.slots[key] = n.ParticipantID
	}
	t.st.nodes[n.ParticipantID] = *n
	t.st.nodeOrder = append(t.st.nodeOrder, n.ParticipantID)
	return nil
}

func (t *tx) GetNode(_ context.Context, participantID uuid.UUID) (*domain.NetworkNode, error) {
	n, ok := t.st.nodes[participantID]
	if !ok {
		return nil, errors.ErrNodeNotFound
	}
	return &n, nil
}

// GetNodeForUpdate needs no lock: transactions are already serialized.
func (t *tx) GetNodeForUpdate(ctx context.Context, participantID uuid.UUID) (*domain.NetworkNode, error) {
	return t.GetNode(ctx, participantID)
}

func (t *tx) ListChildren(_ context.Context, parentID uuid.UUID) ([]*domain.NetworkNode, error) {
	var children []*domain.NetworkNode
	for _, pos := range domain.Positions {
		id, ok := t.st.slots[slotKey{parent: parentID, position: pos}]
		if !ok {
			continue
		}
		n := t.st.nodes[id]
		children = append(children, &n)
	}
	return children, nil
}

func (t *tx) OldestPlacedRoot(_ context.Context, exclude uuid.UUID) (*domain.NetworkNode, error) {
	for _, n := range t.orderedNodes() {
		if n.ParticipantID == exclude || n.ParentID != nil || !n.IsPlaced() || n.Unattached {
			continue
		}
		return n, nil
	}
	return nil, errors.ErrNodeNotFound
}

func (t *tx) AttachNode(_ context.Context, participantID uuid.UUID, parentID *uuid.UUID, position *domain.Position, placedAt time.Time) error {
	n, ok := t.st.nodes[participantID]
	if !ok {
		return errors.ErrNodeNotFound
	}
	if n.IsPlaced() {
		return errors.ErrAlreadyPlaced
	}
	if parentID == nil {
		if t.hasRoot(participantID) {
			return storage.ErrDuplicateKey
		}
	} else if position != nil {
		key := slotKey{parent: *parentID, position: *position}
		if _, taken := t.st.slots[key]; taken {
			return storage.ErrDuplicateKey
		}
		t.st.slots[key] = participantID
	}
	n.ParentID = parentID
	n.Position = position
	n.PlacedAt = &placedAt
	t.st.nodes[participantID] = n
	return nil
}

func (t *tx) AttachUnattached(_ context.Context, participantID uuid.UUID, placedAt time.Time) error {
	n, ok := t.st.nodes[participantID]
	if !ok {
		return errors.ErrNodeNotFound
	}
	if n.IsPlaced() {
		return errors.ErrAlreadyPlaced
	}
	n.ParentID = nil
	n.Position = nil
	n.PlacedAt = &placedAt
	n.Unattached = true
	t.st.nodes[participantID] = n
	return nil
}

// hasRoot reports whether a node other than self is the placed root.
func (t *tx) hasRoot(self uuid.UUID) bool {
	for id, n := range t.st.nodes {
		if id != self && n.ParentID == nil && n.IsPlaced() && !n.Unattached {
			return true
		}
	}
	return false
}

func (t *tx) SetNodeActive(_ context.Context, participantID uuid.UUID, active bool) error {
	n, ok := t.st.nodes[participantID]
	if !ok {
		return errors.ErrNodeNotFound
	}
	n.Active = active
	t.st.nodes[participantID] = n
	return nil
}

func (t *tx) ListNodes(_ context.Context) ([]*domain.NetworkNode, error) {
	return t.orderedNodes(), nil
}

// orderedNodes returns copies sorted by creation time, insertion order
// breaking ties.
func (t *tx) orderedNodes() []*domain.NetworkNode {
	nodes := make([]*domain.NetworkNode, 0, len(t.st.nodeOrder))
	for _, id := range t.st.nodeOrder {
		n := t.st.nodes[id]
		nodes = append(nodes, &n)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
	return nodes
}
