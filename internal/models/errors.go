package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Specific failures wrap one of
// these with fmt.Errorf("%w: ...") so callers can classify with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrExternalUnavailable = errors.New("external service unavailable")

	// ErrReconciliationNoop marks a webhook that matched no processing
	// transaction. It is logged and discarded, never surfaced to the provider.
	ErrReconciliationNoop = errors.New("reconciliation no-op")
)

var (
	ErrInvalidDateRange  = fmt.Errorf("%w: invalid date range", ErrValidation)
	ErrContractExists    = fmt.Errorf("%w: a contract already exists for this job", ErrConflict)
	ErrContractCompleted = fmt.Errorf("%w: contract is already completed", ErrConflict)
	ErrProposalLocked    = fmt.Errorf("%w: proposal cannot change once the job has a contract", ErrConflict)
)

// Code returns the taxonomy code for err, or "INTERNAL" when it is unclassified.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrExternalUnavailable):
		return "EXTERNAL_UNAVAILABLE"
	case errors.Is(err, ErrReconciliationNoop):
		return "RECONCILIATION_NOOP"
	default:
		return "INTERNAL"
	}
}
