package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

const defaultLockTimeout = 5 * time.Second

// MemoryStore is an in-memory implementation of interfaces.Store.
// Transactions are serialized and write the shared state in place; every
// write registers its inverse so a failed transaction can be undone.
type MemoryStore struct {
	sem         chan struct{} // one slot; holding it means owning the state
	st          *state
	lockTimeout time.Duration
}

type Option func(*MemoryStore)

// WithLockTimeout bounds how long a transaction waits for its turn.
func WithLockTimeout(d time.Duration) Option {
	return func(m *MemoryStore) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

// NewMemoryStore creates and returns a new MemoryStore instance
func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		sem:         make(chan struct{}, 1),
		st:          newState(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTx runs fn while holding the store. When fn fails or panics its writes
// are undone newest first. Waiting longer than the lock timeout is a storage
// conflict.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	select {
	case m.sem <- struct{}{}:
	case <-lockCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("wait for transaction slot: %w", errs.ErrStorageConflict)
	}
	defer func() { <-m.sem }()

	tx := &memTx{st: m.st}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Compile-time check: ensure MemoryStore implements Store interface
var _ interfaces.Store = (*MemoryStore)(nil)

type edgeKey struct {
	descendant string
	level      int
}

type state struct {
	accounts  map[string]models.Account
	entries   []models.LedgerEntry // append-only, in Seq order
	entryIdx  map[string]int
	reversals map[string]string // original entry id -> reversal entry id
	edges     map[edgeKey]models.ReferralEdge
	params    map[string]models.ConfigParameter
	actions   []models.AdminAction // append-only, oldest first
	seq       int64
}

func newState() *state {
	return &state{
		accounts:  make(map[string]models.Account),
		entryIdx:  make(map[string]int),
		reversals: make(map[string]string),
		edges:     make(map[edgeKey]models.ReferralEdge),
		params:    make(map[string]models.ConfigParameter),
	}
}

type memTx struct {
	st   *state
	undo []func()
}

func (t *memTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// put writes m[k] and remembers how to restore the previous value.
func put[K comparable, V any](t *memTx, m map[K]V, k K, v V) {
	prev, existed := m[k]
	m[k] = v
	t.onRollback(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

var _ interfaces.Tx = (*memTx)(nil)
