// Package memory is an in-process storage.Store. Transactions are fully
// serialized and work on a copy of the state that replaces the live state
// only on commit, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/storage"
)

type slotKey struct {
	parent   uuid.UUID
	position domain.Position
}

type state struct {
	participants    map[uuid.UUID]domain.Participant
	nodes           map[uuid.UUID]domain.NetworkNode
	nodeOrder       []uuid.UUID
	slots           map[slotKey]uuid.UUID
	commissions     map[uuid.UUID]domain.Commission
	commissionOrder []uuid.UUID
	wallets         map[uuid.UUID]domain.Wallet // keyed by participant
	walletLines     map[uuid.UUID][]domain.WalletTransaction
	sales           map[string]domain.SaleRecord
}

func newState() *state {
	return &state{
		participants: make(map[uuid.UUID]domain.Participant),
		nodes:        make(map[uuid.UUID]domain.NetworkNode),
		slots:        make(map[slotKey]uuid.UUID),
		commissions:  make(map[uuid.UUID]domain.Commission),
		wallets:      make(map[uuid.UUID]domain.Wallet),
		walletLines:  make(map[uuid.UUID][]domain.WalletTransaction),
		sales:        make(map[string]domain.SaleRecord),
	}
}

func (s *state) clone() *state {
	c := &state{
		participants:    make(map[uuid.UUID]domain.Participant, len(s.participants)),
		nodes:           make(map[uuid.UUID]domain.NetworkNode, len(s.nodes)),
		nodeOrder:       append([]uuid.UUID(nil), s.nodeOrder...),
		slots:           make(map[slotKey]uuid.UUID, len(s.slots)),
		commissions:     make(map[uuid.UUID]domain.Commission, len(s.commissions)),
		commissionOrder: append([]uuid.UUID(nil), s.commissionOrder...),
		wallets:         make(map[uuid.UUID]domain.Wallet, len(s.wallets)),
		walletLines:     make(map[uuid.UUID][]domain.WalletTransaction, len(s.walletLines)),
		sales:           make(map[string]domain.SaleRecord, len(s.sales)),
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.nodes {
		c.nodes[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.commissions {
		c.commissions[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.walletLines {
		c.walletLines[k] = append([]domain.WalletTransaction(nil), v...)
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	return c
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// when fn succeeds and ctx is still live.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// tx implements storage.Tx over a working copy.
type tx struct {
	st *state
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)
