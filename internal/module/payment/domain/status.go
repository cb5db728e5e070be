package domain

// Status represents the lifecycle state of a transaction.
type Status string

const (
	StatusInitiated        Status = "initiated"
	StatusCallbackReceived Status = "callback_received"
	StatusVerifying        Status = "verifying"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo returns true if the status can transition to the target
// status. Transitions only move forward; completed and failed are terminal.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusInitiated:
		return target == StatusCallbackReceived || target == StatusFailed
	case StatusCallbackReceived:
		return target == StatusVerifying
	case StatusVerifying:
		return target == StatusCompleted || target == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

// Valid returns true for a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusCallbackReceived, StatusVerifying, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}
