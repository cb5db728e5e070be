// Package provider holds the gateway boundary: the status-check contract
// the core depends on, and the eSewa implementation of it.
package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway status values as reported by the eSewa status endpoint.
// StatusComplete is the only value that settles a transaction.
const (
	StatusComplete      = "COMPLETE"
	StatusPending       = "PENDING"
	StatusCanceled      = "CANCELED"
	StatusAmbiguous     = "AMBIGUOUS"
	StatusNotFound      = "NOT_FOUND"
	StatusFullRefund    = "FULL_REFUND"
	StatusPartialRefund = "PARTIAL_REFUND"
)

// StatusResult is the outcome of a status check.
type StatusResult struct {
	Status          string // one of the Status* constants
	RemoteReference string // gateway-assigned transaction code (ref_id)
}

// Complete reports whether the gateway considers the transaction settled.
func (r *StatusResult) Complete() bool {
	return r.Status == StatusComplete
}

// Boundary errors. Callers distinguish transient failures, which may be
// retried, from definitive ones, which may not.
var (
	// ErrGatewayUnavailable marks a transient communication failure:
	// network error, timeout, 5xx, or an open circuit breaker.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrStatusCheckRejected marks a definitive gateway-side rejection of
	// the status request itself (4xx, unparseable response).
	ErrStatusCheckRejected = errors.New("status check rejected")
)

// IsTransient reports whether a status-check error may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// StatusChecker is the remote verification contract. Implementations must
// honor context cancellation and bound every request with a timeout.
type StatusChecker interface {
	CheckStatus(ctx context.Context, productCode string, totalAmount decimal.Decimal, transactionID uuid.UUID) (*StatusResult, error)
}
