package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/domain"
)

// TransactionEntity is the GORM persistence model for a transaction.
type TransactionEntity struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ProductCode     string          `gorm:"type:varchar(32);not null"`
	ProductName     string          `gorm:"type:varchar(255)"`
	Status          string          `gorm:"type:varchar(32);not null;index"`
	RemoteReference string          `gorm:"type:varchar(64)"`
	CreatedAt       time.Time       `gorm:"not null"`
	FinalizedAt     *time.Time
}

// TableName returns the database table name.
func (TransactionEntity) TableName() string {
	return "payment_transactions"
}

// ToDomain converts the entity to a domain transaction.
func (e *TransactionEntity) ToDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:              e.ID,
		Amount:          e.Amount,
		ProductCode:     e.ProductCode,
		ProductName:     e.ProductName,
		Status:          domain.Status(e.Status),
		RemoteReference: e.RemoteReference,
		CreatedAt:       e.CreatedAt,
		FinalizedAt:     e.FinalizedAt,
	}
}

// FromDomain converts a domain transaction to its persistence model.
func FromDomain(t *domain.Transaction) *TransactionEntity {
	return &TransactionEntity{
		ID:              t.ID,
		Amount:          t.Amount,
		ProductCode:     t.ProductCode,
		ProductName:     t.ProductName,
		Status:          string(t.Status),
		RemoteReference: t.RemoteReference,
		CreatedAt:       t.CreatedAt,
		FinalizedAt:     t.FinalizedAt,
	}
}
