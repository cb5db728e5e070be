package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is the unit of work: one payer-initiated payment tracked from
// form generation through settlement. Amount and ProductCode are fixed at
// creation; only the callback verification path mutates the rest.
type Transaction struct {
	ID              uuid.UUID
	Amount          decimal.Decimal
	ProductCode     string
	ProductName     string
	Status          Status
	RemoteReference string // gateway transaction code, set once the callback arrives
	CreatedAt       time.Time
	FinalizedAt     *time.Time
}

// NewTransaction creates a transaction in the initiated state with a fresh
// random identifier.
func NewTransaction(amount decimal.Decimal, productCode, productName string) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		Amount:      amount,
		ProductCode: productCode,
		ProductName: productName,
		Status:      StatusInitiated,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsFinalized returns true once the transaction reached a terminal state.
func (t *Transaction) IsFinalized() bool {
	return t.Status.IsTerminal()
}
