package errorvalues

import "errors"

// Settlement engine error kinds. These are part of the API contract and are
// matched with errors.Is by handlers and the sweeper.
var (
	ErrDuplicateStake       = errors.New("stake already confirmed for this participant")
	ErrAlreadySettled       = errors.New("ledger entry already settled")
	ErrWindowClosed         = errors.New("proof submission window is closed")
	ErrDuplicateSubmission  = errors.New("accepted proof already exists for this period")
	ErrTransferTimeout      = errors.New("transfer did not complete in time")
	ErrInsufficientPot      = errors.New("payouts exceed confirmed pot")
	ErrInvalidTransition    = errors.New("invalid pool status transition")
	ErrTransferRejected     = errors.New("transfer rejected by chain")
	ErrProofAlreadyResolved = errors.New("proof already resolved")
	ErrStakeNotConfirmed    = errors.New("stake transfer is not confirmed")
	ErrTransferUnknown      = errors.New("transfer outcome unknown, manual reconciliation required")
)

var (
	ErrPoolNotFound         = errors.New("pool doesn't exist")
	ErrParticipantNotFound  = errors.New("participant doesn't exist")
	ErrAlreadyJoined        = errors.New("user already joined this pool")
	ErrPoolNotJoinable      = errors.New("pool doesn't accept participants")
	ErrEntryNotFound        = errors.New("ledger entry doesn't exist")
	ErrProofNotFound        = errors.New("proof doesn't exist")
	ErrProfileNotFound      = errors.New("profile doesn't exist")
	ErrPayoutNotFound       = errors.New("payout doesn't exist")
	ErrTransferNotFound     = errors.New("transfer unknown to chain")
	ErrLockHeld             = errors.New("lock already held")
	ErrInvalidToken         = errors.New("invalid token")
	ErrForbidden            = errors.New("operation not allowed for this user")
	ErrParticipantForfeited = errors.New("participant has forfeited")
	ErrValidation           = errors.New("invalid request")
)
