package payment

import "errors"

// Module errors.
var (
	// ErrInvalidAmount rejects a payment request before any record exists.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrTransactionNotFound means the referenced transaction id is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStaleTransition means the record already advanced past the expected
	// state. Under concurrent callback delivery this is a benign race, not a
	// failure.
	ErrStaleTransition = errors.New("stale state transition")

	// ErrDuplicateTransaction means an id collision on create. Random ids
	// make this effectively impossible; if it fires, something is deeply
	// wrong and it must surface loudly.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrSignatureMismatch rejects callback data whose signature does not
	// verify against the merchant secret.
	ErrSignatureMismatch = errors.New("callback signature mismatch")

	// ErrAmountMismatch rejects a callback whose signed amount differs from
	// the amount recorded at creation.
	ErrAmountMismatch = errors.New("callback amount mismatch")

	// ErrMalformedCallback rejects a callback payload missing or corrupting
	// the transaction identifier.
	ErrMalformedCallback = errors.New("malformed callback payload")

	// ErrVerificationUnresolved reports that remote verification retries
	// were exhausted; the transaction stays in verifying for reconciliation.
	ErrVerificationUnresolved = errors.New("remote verification unresolved")
)
