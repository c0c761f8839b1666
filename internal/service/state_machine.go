package service

import (
	"fmt"
	"time"

	"github.com/limbo/stakepool/pkg/entity"
)

// Command is the side effect the caller runs after a decision is applied.
type Command int

const (
	CommandNone Command = iota
	CommandSettle
	CommandRefund
	CommandMarkFailed
)

func (c Command) String() string {
	switch c {
	case CommandSettle:
		return "request_settlement"
	case CommandRefund:
		return "refund"
	case CommandMarkFailed:
		return "mark_failed"
	}
	return "none"
}

// Snapshot is everything the state machine looks at besides the clock.
type Snapshot struct {
	Pool                  entity.Pool
	ConfirmedParticipants int
	PendingProofs         int
	UnconfirmedStakes     int
	// Every confirmed ledger entry has its paid-out amount written
	AllPaid bool
	// Every payout transfer reached finality
	PayoutsConfirmed bool
	// Some payout intent has no transfer yet
	PayoutsToSubmit    bool
	PayoutFailed       bool
	RefundsOutstanding bool
}

type Decision struct {
	Next        entity.PoolStatus
	Command     Command
	FailureKind entity.FailureKind
	Reason      string
}

// Advance computes the next status of the pool at now. It never moves a
// pool backwards and never leaves a terminal status.
func Advance(s *Snapshot, now time.Time) Decision {
	pool := &s.Pool
	stay := Decision{Next: pool.Status}
	switch pool.Status {
	case entity.PoolStatusFilling:
		if now.Before(pool.JoinDeadline) {
			return stay
		}
		if s.ConfirmedParticipants >= pool.MinParticipants {
			return Decision{Next: entity.PoolStatusActive}
		}
		// Stakes still in flight can make the quorum until the pool starts
		if now.Before(pool.StartTime) && s.ConfirmedParticipants+s.UnconfirmedStakes >= pool.MinParticipants {
			return stay
		}
		return Decision{
			Next:        entity.PoolStatusFailed,
			Command:     CommandRefund,
			FailureKind: entity.FailureUndersubscribed,
			Reason: fmt.Sprintf("%d of %d required participants confirmed by join deadline",
				s.ConfirmedParticipants, pool.MinParticipants),
		}
	case entity.PoolStatusActive:
		if now.Before(pool.EndTime) {
			return stay
		}
		return Decision{Next: entity.PoolStatusCompleted}
	case entity.PoolStatusCompleted:
		if s.PendingProofs > 0 || s.UnconfirmedStakes > 0 {
			return stay
		}
		return Decision{Next: entity.PoolStatusSettling, Command: CommandSettle}
	case entity.PoolStatusSettling:
		switch {
		case s.PayoutFailed:
			return Decision{
				Next:        entity.PoolStatusFailed,
				Command:     CommandMarkFailed,
				FailureKind: entity.FailureTransfer,
				Reason:      "payout transfer failed",
			}
		case !s.AllPaid || s.PayoutsToSubmit:
			return Decision{Next: entity.PoolStatusSettling, Command: CommandSettle}
		case s.PayoutsConfirmed:
			return Decision{Next: entity.PoolStatusSettled}
		}
		return stay
	case entity.PoolStatusFailed:
		if pool.FailureKind == entity.FailureUndersubscribed && s.RefundsOutstanding {
			return Decision{Next: entity.PoolStatusFailed, Command: CommandRefund, FailureKind: pool.FailureKind, Reason: pool.FailureReason}
		}
	}
	return stay
}
