package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/domain"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/entity"
)

// Repository defines transaction storage. Transition is the single
// serialization point for concurrent callback handling: it applies the
// state change only if the record is still in the expected source state
// and reports ErrStaleTransition otherwise.
type Repository interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Transition(ctx context.Context, id uuid.UUID, from, to domain.Status) (*domain.Transaction, error)
	SetRemoteReference(ctx context.Context, id uuid.UUID, ref string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a Postgres-backed transaction repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, txn *domain.Transaction) error {
	ent := entity.FromDomain(txn)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create transaction %s: %w", txn.ID, ErrDuplicateTransaction)
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var ent entity.TransactionEntity
	err := r.db.WithContext(ctx).First(&ent, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return ent.ToDomain(), nil
}

// Transition performs the compare-and-swap as a conditional UPDATE: the
// WHERE clause pins the source state, so among any number of concurrent
// attempts exactly one updates a row and the rest observe RowsAffected 0.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status) (*domain.Transaction, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("transition %s -> %s: %w", from, to, ErrStaleTransition)
	}

	updates := map[string]interface{}{"status": string(to)}
	if to.IsTerminal() {
		updates["finalized_at"] = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).
		Model(&entity.TransactionEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("transition transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the id is unknown or the state already advanced.
		current, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return current, fmt.Errorf("transition %s -> %s, currently %s: %w",
			from, to, current.Status, ErrStaleTransition)
	}

	return r.Get(ctx, id)
}

func (r *repository) SetRemoteReference(ctx context.Context, id uuid.UUID, ref string) error {
	res := r.db.WithContext(ctx).
		Model(&entity.TransactionEntity{}).
		Where("id = ?", id).
		Update("remote_reference", ref)
	if res.Error != nil {
		return fmt.Errorf("set remote reference: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
