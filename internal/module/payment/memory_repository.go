package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/domain"
)

// MemoryRepository is a mutex-guarded in-memory transaction store. It backs
// the service when no database is configured and carries the same
// check-and-set contract as the Postgres repository.
type MemoryRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*domain.Transaction
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		transactions: make(map[uuid.UUID]*domain.Transaction),
	}
}

func (r *MemoryRepository) Create(_ context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transactions[txn.ID]; exists {
		return fmt.Errorf("create transaction %s: %w", txn.ID, ErrDuplicateTransaction)
	}
	r.transactions[txn.ID] = copyTransaction(txn)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(txn), nil
}

func (r *MemoryRepository) Transition(_ context.Context, id uuid.UUID, from, to domain.Status) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if txn.Status != from || !from.CanTransitionTo(to) {
		return copyTransaction(txn), fmt.Errorf("transition %s -> %s, currently %s: %w",
			from, to, txn.Status, ErrStaleTransition)
	}

	txn.Status = to
	if to.IsTerminal() {
		now := time.Now().UTC()
		txn.FinalizedAt = &now
	}
	return copyTransaction(txn), nil
}

func (r *MemoryRepository) SetRemoteReference(_ context.Context, id uuid.UUID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	txn.RemoteReference = ref
	return nil
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	if t.FinalizedAt != nil {
		at := *t.FinalizedAt
		c.FinalizedAt = &at
	}
	return &c
}
