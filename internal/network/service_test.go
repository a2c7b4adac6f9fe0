package network

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"mlm/internal/domain"
	"mlm/internal/metrics"
	"mlm/internal/storage"
	"mlm/internal/storage/memory"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
)

type fixture struct {
	store   storage.Store
	svc     *Service
	metrics *metrics.Metrics
	clock   time.Time
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	m := metrics.New("test", prometheus.NewRegistry())
	f := &fixture{
		store:   store,
		svc:     NewService(store, Config{MaxPlacementAttempts: 3}, nil, m, logger.NewNop()),
		metrics: m,
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	var mu sync.Mutex
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) participant(t *testing.T, referrer *uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateParticipant(ctx, &domain.Participant{
			ID:          id,
			DisplayName: id.String()[:8],
			ReferrerID:  referrer,
			CreatedAt:   time.Now().UTC(),
		})
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) place(t *testing.T, id uuid.UUID, hint *uuid.UUID) *domain.NetworkNode {
	t.Helper()
	res, err := f.svc.PlaceParticipant(context.Background(), id, hint)
	require.NoError(t, err)
	return res.Node
}

func assertSlot(t *testing.T, node *domain.NetworkNode, parent uuid.UUID, pos domain.Position) {
	t.Helper()
	require.NotNil(t, node.ParentID, "node %s has no parent", node.ParticipantID)
	assert.Equal(t, parent, *node.ParentID)
	require.NotNil(t, node.Position)
	assert.Equal(t, pos, *node.Position)
}

func TestPlaceParticipant_FillsBreadthFirstLeftBeforeRight(t *testing.T) {
	f := newFixture(t, nil)
	ids := make([]uuid.UUID, 7)
	for i := range ids {
		ids[i] = f.participant(t, nil)
	}

	root := f.place(t, ids[0], nil)
	assert.True(t, root.IsRoot())
	assert.Nil(t, root.Position)
	assert.True(t, root.IsPlaced())
	assert.False(t, root.Active)

	assertSlot(t, f.place(t, ids[1], nil), ids[0], domain.PositionLeft)
	assertSlot(t, f.place(t, ids[2], nil), ids[0], domain.PositionRight)
	assertSlot(t, f.place(t, ids[3], nil), ids[1], domain.PositionLeft)
	assertSlot(t, f.place(t, ids[4], nil), ids[1], domain.PositionRight)
	assertSlot(t, f.place(t, ids[5], nil), ids[2], domain.PositionLeft)
	assertSlot(t, f.place(t, ids[6], nil), ids[2], domain.PositionRight)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Placements.WithLabelValues(OutcomeRoot)))
	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.Placements.WithLabelValues(OutcomeChild)))
}

func TestPlaceParticipant_IsDeterministic(t *testing.T) {
	shape := func() []string {
		f := newFixture(t, nil)
		ids := make([]uuid.UUID, 12)
		index := map[uuid.UUID]int{}
		for i := range ids {
			ids[i] = f.participant(t, nil)
			index[ids[i]] = i
		}
		var out []string
		for _, id := range ids {
			n := f.place(t, id, nil)
			if n.ParentID == nil {
				out = append(out, "root")
				continue
			}
			out = append(out, fmt.Sprintf("%d:%s", index[*n.ParentID], *n.Position))
		}
		return out
	}

	assert.Equal(t, shape(), shape())
}

func TestPlaceParticipant_Errors(t *testing.T) {
	f := newFixture(t, nil)
	root := f.participant(t, nil)
	f.place(t, root, nil)

	_, err := f.svc.PlaceParticipant(context.Background(), root, nil)
	assert.ErrorIs(t, err, errors.ErrAlreadyPlaced)

	_, err = f.svc.PlaceParticipant(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, errors.ErrParticipantNotFound)

	newcomer := f.participant(t, nil)
	_, err = f.svc.PlaceParticipant(context.Background(), newcomer, &newcomer)
	assert.ErrorIs(t, err, errors.ErrInvalidStartNode)

	missing := uuid.New()
	_, err = f.svc.PlaceParticipant(context.Background(), newcomer, &missing)
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)

	// a node that exists but was never placed is not a valid origin
	other := f.participant(t, nil)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateNode(ctx, &domain.NetworkNode{ParticipantID: other, CreatedAt: time.Now()})
	}))
	_, err = f.svc.PlaceParticipant(context.Background(), newcomer, &other)
	assert.ErrorIs(t, err, errors.ErrInvalidStartNode)

	// failed attempts leave the newcomer placeable
	assertSlot(t, f.place(t, newcomer, nil), root, domain.PositionLeft)
}

func TestPlaceParticipant_StartHintAndReferrer(t *testing.T) {
	f := newFixture(t, nil)
	root := f.participant(t, nil)
	left := f.participant(t, nil)
	right := f.participant(t, nil)
	f.place(t, root, nil)
	f.place(t, left, nil)
	f.place(t, right, nil)

	// explicit origin wins over breadth-first order from the root
	hinted := f.participant(t, nil)
	assertSlot(t, f.place(t, hinted, &right), right, domain.PositionLeft)

	// referrer's node is used when no hint is given
	referred := f.participant(t, &right)
	assertSlot(t, f.place(t, referred, nil), right, domain.PositionRight)

	// referrer subtree full: search continues below it
	deeper := f.participant(t, &right)
	assertSlot(t, f.place(t, deeper, nil), hinted, domain.PositionLeft)

	// unplaced referrer falls back to the default root search
	unplacedRef := f.participant(t, nil)
	orphan := f.participant(t, &unplacedRef)
	assertSlot(t, f.place(t, orphan, nil), left, domain.PositionLeft)
}

func TestUplineAndDownline(t *testing.T) {
	f := newFixture(t, nil)
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = f.participant(t, nil)
		f.place(t, ids[i], nil)
	}
	ctx := context.Background()

	// ids[7] sits under ids[3] under ids[1] under ids[0]
	upline, err := f.svc.GetUpline(ctx, ids[7], 0)
	require.NoError(t, err)
	require.Len(t, upline, 3)
	assert.Equal(t, ids[3], upline[0].ParticipantID)
	assert.Equal(t, ids[1], upline[1].ParticipantID)
	assert.Equal(t, ids[0], upline[2].ParticipantID)

	upline, err = f.svc.GetUpline(ctx, ids[7], 2)
	require.NoError(t, err)
	assert.Len(t, upline, 2)

	upline, err = f.svc.GetUpline(ctx, ids[0], 0)
	require.NoError(t, err)
	assert.Empty(t, upline)

	_, err = f.svc.GetUpline(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)

	downline, err := f.svc.GetDownline(ctx, ids[0], 2)
	require.NoError(t, err)
	require.Len(t, downline, 6)
	assert.Equal(t, ids[1], downline[0].Node.ParticipantID)
	assert.Equal(t, 1, downline[0].Depth)
	assert.Equal(t, ids[3], downline[2].Node.ParticipantID)
	assert.Equal(t, 2, downline[5].Depth)

	all, err := f.svc.GetDownline(ctx, ids[0], 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, 3, all[6].Depth)

	leaf, err := f.svc.GetDownline(ctx, ids[7], 4)
	require.NoError(t, err)
	assert.Empty(t, leaf)
}

func TestParentTx(t *testing.T) {
	f := newFixture(t, nil)
	root := f.participant(t, nil)
	child := f.participant(t, nil)
	loner := f.participant(t, nil)
	f.place(t, root, nil)
	f.place(t, child, nil)

	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		parent, err := ParentTx(ctx, tx, child)
		require.NoError(t, err)
		require.NotNil(t, parent)
		assert.Equal(t, root, *parent)

		parent, err = ParentTx(ctx, tx, root)
		require.NoError(t, err)
		assert.Nil(t, parent)

		parent, err = ParentTx(ctx, tx, loner)
		require.NoError(t, err)
		assert.Nil(t, parent)
		return nil
	}))
}

func TestSetActive(t *testing.T) {
	f := newFixture(t, nil)
	id := f.participant(t, nil)
	f.place(t, id, nil)

	node, err := f.svc.SetActive(context.Background(), id, true)
	require.NoError(t, err)
	assert.True(t, node.Active)

	node, err = f.svc.GetNode(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, node.Active)

	_, err = f.svc.SetActive(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)
}

func TestPlaceParticipant_ConcurrentPlacementsKeepTreeValid(t *testing.T) {
	f := newFixture(t, nil)
	root := f.participant(t, nil)
	f.place(t, root, nil)

	ids := make([]uuid.UUID, 40)
	for i := range ids {
		ids[i] = f.participant(t, nil)
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := f.svc.PlaceParticipant(ctx, id, nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	report, err := f.svc.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "violations: %+v", report.Violations)
	assert.Equal(t, 41, report.NodeCount)
	assert.Equal(t, []uuid.UUID{root}, report.Roots)
}

// conflictStore fails the first n node attachments as if another
// transaction had taken the slot.
type conflictStore struct {
	*memory.Store
	mu            sync.Mutex
	conflicts     int
	rootConflicts int
}

func (s *conflictStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, &conflictTx{Tx: tx, store: s})
	})
}

type conflictTx struct {
	storage.Tx
	store *conflictStore
}

func (t *conflictTx) AttachNode(ctx context.Context, id uuid.UUID, parent *uuid.UUID, pos *domain.Position, at time.Time) error {
	t.store.mu.Lock()
	fail := false
	switch {
	case parent != nil && t.store.conflicts > 0:
		t.store.conflicts--
		fail = true
	case parent == nil && t.store.rootConflicts > 0:
		t.store.rootConflicts--
		fail = true
	}
	t.store.mu.Unlock()
	if fail {
		return storage.ErrDuplicateKey
	}
	return t.Tx.AttachNode(ctx, id, parent, pos, at)
}

func TestPlaceParticipant_RetriesSlotConflicts(t *testing.T) {
	store := &conflictStore{Store: memory.NewStore()}
	f := newFixture(t, store)
	root := f.participant(t, nil)
	f.place(t, root, nil)

	store.conflicts = 1
	child := f.participant(t, nil)
	res, err := f.svc.PlaceParticipant(context.Background(), child, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assertSlot(t, res.Node, root, domain.PositionLeft)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PlacementConflicts))

	store.conflicts = 10
	late := f.participant(t, nil)
	_, err = f.svc.PlaceParticipant(context.Background(), late, nil)
	assert.ErrorIs(t, err, errors.ErrSlotConflict)

	// the failed placement rolled back entirely, including node creation
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetNode(ctx, late)
		assert.ErrorIs(t, err, errors.ErrNodeNotFound)
		return nil
	}))
}

func TestPlaceParticipant_LostRootRaceIsRetried(t *testing.T) {
	store := &conflictStore{Store: memory.NewStore(), rootConflicts: 1}
	f := newFixture(t, store)

	first := f.participant(t, nil)
	res, err := f.svc.PlaceParticipant(context.Background(), first, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, res.Node.IsRoot())
	assert.False(t, res.Unattached)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PlacementConflicts))
}

func TestPlaceParticipant_ConcurrentFirstPlacementsYieldOneRoot(t *testing.T) {
	f := newFixture(t, nil)
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = f.participant(t, nil)
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := f.svc.PlaceParticipant(ctx, id, nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	report, err := f.svc.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "violations: %+v", report.Violations)
	assert.Len(t, report.Roots, 1)
}

// loopTx presents a corrupted tree in which every node is full and the
// children point back at the start.
type loopTx struct {
	storage.Tx
	a, b     uuid.UUID
	attached bool
}

func (t *loopTx) ListChildren(_ context.Context, parentID uuid.UUID) ([]*domain.NetworkNode, error) {
	left, right := domain.PositionLeft, domain.PositionRight
	return []*domain.NetworkNode{
		{ParticipantID: t.a, ParentID: &parentID, Position: &left},
		{ParticipantID: t.b, ParentID: &parentID, Position: &right},
	}, nil
}

func (t *loopTx) AttachNode(context.Context, uuid.UUID, *uuid.UUID, *domain.Position, time.Time) error {
	return fmt.Errorf("exhausted search must not attach under a parent")
}

func (t *loopTx) AttachUnattached(context.Context, uuid.UUID, time.Time) error {
	t.attached = true
	return nil
}

func TestAutoPlace_ExhaustedSearchLeavesUnattachedRoot(t *testing.T) {
	f := newFixture(t, nil)
	tx := &loopTx{a: uuid.New(), b: uuid.New()}
	start := &domain.NetworkNode{ParticipantID: tx.a}
	node := &domain.NetworkNode{ParticipantID: uuid.New()}

	unattached, err := f.svc.AutoPlace(context.Background(), tx, node, start)
	require.NoError(t, err)
	assert.True(t, unattached)
	assert.True(t, tx.attached)
}

func TestCheckNodes_ReportsViolations(t *testing.T) {
	left, right := domain.PositionLeft, domain.PositionRight
	placed := time.Now()
	id := func() uuid.UUID { return uuid.New() }
	root, second, a, b, c, x, y := id(), id(), id(), id(), id(), id(), id()

	nodes := []*domain.NetworkNode{
		{ParticipantID: root, PlacedAt: &placed},
		{ParticipantID: second, Position: &left, PlacedAt: &placed},
		{ParticipantID: a, ParentID: &root, Position: &left, PlacedAt: &placed},
		{ParticipantID: b, ParentID: &root, Position: &left, PlacedAt: &placed},
		{ParticipantID: c, ParentID: &root, Position: &right, PlacedAt: &placed},
		{ParticipantID: x, ParentID: &y, Position: &left, PlacedAt: &placed},
		{ParticipantID: y, ParentID: &x, Position: &left, PlacedAt: &placed},
	}

	report := checkNodes(nodes)
	kinds := map[string]int{}
	for _, v := range report.Violations {
		kinds[v.Kind]++
	}
	assert.False(t, report.Healthy())
	assert.Equal(t, 1, kinds[ViolationRootHasPosition])
	assert.Equal(t, 1, kinds[ViolationTooManyChildren])
	assert.Equal(t, 1, kinds[ViolationDuplicatePosition])
	assert.Equal(t, 2, kinds[ViolationCycle])
	assert.Equal(t, 1, kinds[ViolationExtraRoot])
	assert.Equal(t, []uuid.UUID{root, second}, report.Roots)
}

func TestVerifyIntegrity_HealthyTree(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		f.place(t, f.participant(t, nil), nil)
	}
	// created but never placed nodes are neither roots nor violations
	pending := f.participant(t, nil)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateNode(ctx, &domain.NetworkNode{ParticipantID: pending, CreatedAt: time.Now()})
	}))

	report, err := f.svc.AuditIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, 6, report.NodeCount)
	assert.Len(t, report.Roots, 1)
	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.NetworkNodes))
}
