package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/notification"
	"mlm/internal/storage"
)

// Violation kinds reported by VerifyIntegrity.
const (
	ViolationRootHasPosition   = "root_has_position"
	ViolationMissingPosition   = "missing_position"
	ViolationMissingParent     = "missing_parent"
	ViolationTooManyChildren   = "too_many_children"
	ViolationDuplicatePosition = "duplicate_position"
	ViolationCycle             = "cycle"
	ViolationExtraRoot         = "extra_root"
)

// VerifyIntegrity checks the whole tree: roots carry no position, every
// parent has at most two children in distinct positions, parents exist,
// the parent relation is acyclic and exactly one placed root exists.
func (s *Service) VerifyIntegrity(ctx context.Context) (*domain.IntegrityReport, error) {
	var nodes []*domain.NetworkNode
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		nodes, err = tx.ListNodes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := checkNodes(nodes)
	report.CheckedAt = s.now()
	s.metrics.IntegrityChecked(report.NodeCount, len(report.Violations))

	if len(report.Violations) > 0 {
		s.logger.Error("Network integrity violations found", map[string]interface{}{
			"violations": len(report.Violations),
			"roots":      len(report.Roots),
		})
	}
	return report, nil
}

func checkNodes(nodes []*domain.NetworkNode) *domain.IntegrityReport {
	report := &domain.IntegrityReport{
		NodeCount:  len(nodes),
		Roots:      []uuid.UUID{},
		Violations: []domain.IntegrityViolation{},
	}
	add := func(id uuid.UUID, kind, detail string) {
		report.Violations = append(report.Violations, domain.IntegrityViolation{NodeID: id, Kind: kind, Detail: detail})
	}

	byID := make(map[uuid.UUID]*domain.NetworkNode, len(nodes))
	for _, n := range nodes {
		byID[n.ParticipantID] = n
	}

	children := make(map[uuid.UUID][]*domain.NetworkNode)
	for _, n := range nodes {
		if n.ParentID == nil {
			if n.Position != nil {
				add(n.ParticipantID, ViolationRootHasPosition, fmt.Sprintf("root holds position %s", *n.Position))
			}
			if n.IsPlaced() {
				report.Roots = append(report.Roots, n.ParticipantID)
			}
			continue
		}
		if n.Position == nil || !n.Position.Valid() {
			add(n.ParticipantID, ViolationMissingPosition, "child has no valid position")
		}
		if _, ok := byID[*n.ParentID]; !ok {
			add(n.ParticipantID, ViolationMissingParent, fmt.Sprintf("parent %s does not exist", *n.ParentID))
		}
		children[*n.ParentID] = append(children[*n.ParentID], n)
	}

	for parentID, kids := range children {
		if len(kids) > len(domain.Positions) {
			add(parentID, ViolationTooManyChildren, fmt.Sprintf("%d children", len(kids)))
		}
		seen := make(map[domain.Position]bool)
		for _, k := range kids {
			if k.Position == nil {
				continue
			}
			if seen[*k.Position] {
				add(parentID, ViolationDuplicatePosition, fmt.Sprintf("position %s used twice", *k.Position))
			}
			seen[*k.Position] = true
		}
	}

	// Each node walks to its root; revisiting a node on one walk is a cycle.
	for _, n := range nodes {
		onPath := map[uuid.UUID]bool{}
		for cur := n; cur != nil && cur.ParentID != nil; cur = byID[*cur.ParentID] {
			if onPath[cur.ParticipantID] {
				add(n.ParticipantID, ViolationCycle, "parent chain loops")
				break
			}
			onPath[cur.ParticipantID] = true
		}
	}

	for _, extra := range extraRoots(report.Roots) {
		add(extra, ViolationExtraRoot, "placed node without a parent besides the main root")
	}
	return report
}

// extraRoots returns every root after the first (oldest) one.
func extraRoots(roots []uuid.UUID) []uuid.UUID {
	if len(roots) <= 1 {
		return nil
	}
	return roots[1:]
}

// AuditIntegrity runs VerifyIntegrity and raises a notification for every
// node involved in a violation. It is meant for background jobs.
func (s *Service) AuditIntegrity(ctx context.Context) (*domain.IntegrityReport, error) {
	start := time.Now()
	report, err := s.VerifyIntegrity(ctx)
	s.metrics.Observe("verify_integrity", start, err)
	if err != nil {
		return nil, err
	}
	for _, v := range report.Violations {
		notification.Dispatch(s.notifier, s.logger, v.NodeID, notification.EventIntegrityViolations, map[string]interface{}{
			"kind":   v.Kind,
			"detail": v.Detail,
		})
	}
	return report, nil
}
