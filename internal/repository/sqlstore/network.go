package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/pkg/errors"
)

const participantColumns = `id, display_name, referrer_id, created_at`

const nodeColumns = `participant_id, parent_id, position, active, placed_at, unattached, created_at`

func (t *tx) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	query := t.q(`
		INSERT INTO participants (` + participantColumns + `)
		VALUES (?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query, p.ID, p.DisplayName, p.ReferrerID, p.CreatedAt.UTC())
	return translate(err, "failed to create participant")
}

func (t *tx) GetParticipant(ctx context.Context, id uuid.UUID) (*domain.Participant, error) {
	p := &domain.Participant{}
	query := t.q(`SELECT ` + participantColumns + ` FROM participants WHERE id = ?`)
	if err := t.tx.GetContext(ctx, p, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrParticipantNotFound
		}
		return nil, errors.Wrap(err, "failed to find participant")
	}
	return p, nil
}

func (t *tx) CreateNode(ctx context.Context, n *domain.NetworkNode) error {
	query := t.q(`
		INSERT INTO network_nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query,
		n.ParticipantID, n.ParentID, n.Position, n.Active, utcPtr(n.PlacedAt), n.Unattached, n.CreatedAt.UTC(),
	)
	if err != nil && isForeignKeyViolation(err) {
		return errors.ErrParticipantNotFound
	}
	return translate(err, "failed to create network node")
}

func (t *tx) GetNode(ctx context.Context, participantID uuid.UUID) (*domain.NetworkNode, error) {
	return t.getNode(ctx, participantID, "")
}

func (t *tx) GetNodeForUpdate(ctx context.Context, participantID uuid.UUID) (*domain.NetworkNode, error) {
	return t.getNode(ctx, participantID, t.forUpdate())
}

func (t *tx) getNode(ctx context.Context, participantID uuid.UUID, lock string) (*domain.NetworkNode, error) {
	n := &domain.NetworkNode{}
	query := t.q(`SELECT ` + nodeColumns + ` FROM network_nodes WHERE participant_id = ?` + lock)
	if err := t.tx.GetContext(ctx, n, query, participantID); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrNodeNotFound
		}
		return nil, errors.Wrap(err, "failed to find network node")
	}
	return n, nil
}

func (t *tx) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*domain.NetworkNode, error) {
	var children []*domain.NetworkNode
	query := t.q(`
		SELECT ` + nodeColumns + `
		FROM network_nodes
		WHERE parent_id = ?
		ORDER BY CASE position WHEN 'LEFT' THEN 0 ELSE 1 END
	`)
	if err := t.tx.SelectContext(ctx, &children, query, parentID); err != nil {
		return nil, errors.Wrap(err, "failed to list children")
	}
	return children, nil
}

func (t *tx) OldestPlacedRoot(ctx context.Context, exclude uuid.UUID) (*domain.NetworkNode, error) {
	n := &domain.NetworkNode{}
	query := t.q(`
		SELECT ` + nodeColumns + `
		FROM network_nodes
		WHERE parent_id IS NULL AND placed_at IS NOT NULL AND NOT unattached AND participant_id <> ?
		ORDER BY created_at ASC, participant_id ASC
		LIMIT 1
	`)
	if err := t.tx.GetContext(ctx, n, query, exclude); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrNodeNotFound
		}
		return nil, errors.Wrap(err, "failed to find root node")
	}
	return n, nil
}

func (t *tx) AttachNode(ctx context.Context, participantID uuid.UUID, parentID *uuid.UUID, position *domain.Position, placedAt time.Time) error {
	query := t.q(`
		UPDATE network_nodes
		SET parent_id = ?, position = ?, placed_at = ?
		WHERE participant_id = ? AND placed_at IS NULL
	`)
	result, err := t.tx.ExecContext(ctx, query, parentID, position, placedAt.UTC(), participantID)
	if err != nil {
		return translate(err, "failed to attach network node")
	}
	return t.requirePlacedNow(ctx, participantID, result)
}

func (t *tx) AttachUnattached(ctx context.Context, participantID uuid.UUID, placedAt time.Time) error {
	query := t.q(`
		UPDATE network_nodes
		SET parent_id = NULL, position = NULL, placed_at = ?, unattached = ?
		WHERE participant_id = ? AND placed_at IS NULL
	`)
	result, err := t.tx.ExecContext(ctx, query, placedAt.UTC(), true, participantID)
	if err != nil {
		return translate(err, "failed to attach network node")
	}
	return t.requirePlacedNow(ctx, participantID, result)
}

// requirePlacedNow turns a zero-row placement update into ErrNodeNotFound
// or ErrAlreadyPlaced.
func (t *tx) requirePlacedNow(ctx context.Context, participantID uuid.UUID, result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to attach network node")
	}
	if rows == 0 {
		if _, err := t.GetNode(ctx, participantID); err != nil {
			return err
		}
		return errors.ErrAlreadyPlaced
	}
	return nil
}

func (t *tx) SetNodeActive(ctx context.Context, participantID uuid.UUID, active bool) error {
	query := t.q(`UPDATE network_nodes SET active = ? WHERE participant_id = ?`)
	result, err := t.tx.ExecContext(ctx, query, active, participantID)
	if err != nil {
		return errors.Wrap(err, "failed to update network node")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update network node")
	}
	if rows == 0 {
		return errors.ErrNodeNotFound
	}
	return nil
}

func (t *tx) ListNodes(ctx context.Context) ([]*domain.NetworkNode, error) {
	var nodes []*domain.NetworkNode
	query := `SELECT ` + nodeColumns + ` FROM network_nodes ORDER BY created_at ASC, participant_id ASC`
	if err := t.tx.SelectContext(ctx, &nodes, query); err != nil {
		return nil, errors.Wrap(err, "failed to list network nodes")
	}
	return nodes, nil
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	u := ts.UTC()
	return &u
}
