/*
errors.go - Centralized error types for the investment engine

PURPOSE:
  All engine errors in one place for consistency and discoverability.
  Callers match with errors.Is; the HTTP layer maps categories to
  status codes via the helpers at the bottom.

ERROR CATEGORIES:
  1. Validation errors - bad amounts, unknown plans
  2. State errors - wrong lifecycle state, re-entrant sweep
  3. Access errors - missing records, ownership violations

SEE ALSO:
  - invest/lifecycle.go: Returns most of these
  - sched/scheduler.go: Returns ErrAlreadyInProgress
  - api/handlers.go: Maps these to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an investment is below the
	// system-wide minimum.
	ErrInvalidAmount = errors.New("invalid investment amount")

	// ErrInvalidPlan is returned when a plan identifier is not in the catalog.
	ErrInvalidPlan = errors.New("unknown investment plan")

	// ErrInsufficientFunds is returned when a wallet cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized is returned when the requester is neither the owner
	// nor an admin.
	ErrUnauthorized = errors.New("not authorized")

	// ErrInvalidState is returned on a lifecycle transition from a state
	// that does not permit it (e.g. cancelling a completed investment).
	ErrInvalidState = errors.New("invalid lifecycle state for operation")

	// ErrAlreadyInProgress is returned when a sweep trigger overlaps a
	// sweep that is still running.
	ErrAlreadyInProgress = errors.New("accrual sweep already in progress")

	// ErrReferralCycle is returned when claiming a referral code would
	// make the referrer graph cyclic.
	ErrReferralCycle = errors.New("referral chain would form a cycle")

	// ErrEmailTaken is returned at registration for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports the shortfall behind ErrInsufficientFunds.
type InsufficientFundsError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a state the client can observe and correct.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrReferralCycle) ||
		errors.Is(err, ErrEmailTaken)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
