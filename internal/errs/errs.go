// Package errs defines the error taxonomy shared by the ledger, the referral
// graph, the parameter store and the commission engine.
package errs

import (
	"errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyDistributed  = errors.New("commission already distributed for member")
	ErrConfigMissing       = errors.New("required configuration missing")
	ErrStorageConflict     = errors.New("storage conflict")
	ErrStorageFailure      = errors.New("storage failure")

	ErrAlreadyReversed   = errors.New("entry already reversed")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAlreadyApproved   = errors.New("member already approved")
	ErrInvalidTransition = errors.New("invalid member status transition")
	ErrSystemPaused      = errors.New("system paused")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrDistributionFailed wraps every error returned by a distribution.
	ErrDistributionFailed = errors.New("commission distribution failed")
)

// IsRetryable reports whether the operation may succeed if attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}

var userFacing = []error{
	ErrNotFound,
	ErrInsufficientBalance,
	ErrAlreadyDistributed,
	ErrConfigMissing,
	ErrAlreadyReversed,
	ErrInvalidAmount,
	ErrAlreadyApproved,
	ErrInvalidTransition,
	ErrSystemPaused,
	ErrInvalidArgument,
}

// UserMessage returns the message an admin or member should see. Domain
// failures are surfaced verbatim, storage faults collapse to a generic text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, target := range userFacing {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	if errors.Is(err, ErrStorageConflict) {
		return "The system is busy. Please try again."
	}
	return "An unexpected error occurred. Please try again."
}
