package shared

import "errors"

var (
	// ErrValidation indicates a malformed or missing field. Nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique key already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInsufficientBalance is returned when a leave request exceeds the available days.
	ErrInsufficientBalance = errors.New("insufficient leave balance")
	// ErrLockedPeriod is returned when mutating a locked payroll period without override.
	ErrLockedPeriod = errors.New("payroll period locked")
	// ErrInvalidState indicates the entity is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrConcurrencyConflict indicates the write was based on a stale version.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrForbidden indicates the actor is not allowed to perform the action.
	ErrForbidden = errors.New("forbidden")
)

// UserSafeMessage returns a message suitable for API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrLockedPeriod),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden):
		return err.Error()
	default:
		return "internal error"
	}
}
