package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/limbo/stakepool/internal/service"
	"github.com/limbo/stakepool/pkg/entity"
)

func snapshotPool(status entity.PoolStatus) entity.Pool {
	return entity.Pool{
		Status:          status,
		MinParticipants: 2,
		StartTime:       start,
		EndTime:         start.Add(3 * day),
		JoinDeadline:    start.Add(-time.Hour),
		PeriodLength:    day,
	}
}

func TestAdvanceDecisions(t *testing.T) {
	testCases := []struct {
		Desc     string
		Snapshot service.Snapshot
		Now      time.Time
		Next     entity.PoolStatus
		Command  service.Command
		Failure  entity.FailureKind
	}{
		{
			Desc:     "filling before deadline stays",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusFilling), ConfirmedParticipants: 5},
			Now:      start.Add(-2 * time.Hour),
			Next:     entity.PoolStatusFilling,
		},
		{
			Desc:     "quorum at deadline activates",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusFilling), ConfirmedParticipants: 2},
			Now:      start.Add(-time.Hour),
			Next:     entity.PoolStatusActive,
		},
		{
			Desc:     "stakes in flight can still make quorum",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusFilling), ConfirmedParticipants: 1, UnconfirmedStakes: 1},
			Now:      start.Add(-time.Minute),
			Next:     entity.PoolStatusFilling,
		},
		{
			Desc:     "undersubscribed at start fails with refund",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusFilling), ConfirmedParticipants: 1, UnconfirmedStakes: 1},
			Now:      start,
			Next:     entity.PoolStatusFailed,
			Command:  service.CommandRefund,
			Failure:  entity.FailureUndersubscribed,
		},
		{
			Desc:     "active until end time",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusActive), PendingProofs: 3},
			Now:      start.Add(3*day - time.Nanosecond),
			Next:     entity.PoolStatusActive,
		},
		{
			Desc:     "end time completes regardless of pending proofs",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusActive), PendingProofs: 3},
			Now:      start.Add(3 * day),
			Next:     entity.PoolStatusCompleted,
		},
		{
			Desc:     "completed waits for pending proofs",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusCompleted), PendingProofs: 1},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusCompleted,
		},
		{
			Desc:     "completed waits for unconfirmed stakes",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusCompleted), UnconfirmedStakes: 1},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusCompleted,
		},
		{
			Desc:     "completed requests settlement",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusCompleted)},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusSettling,
			Command:  service.CommandSettle,
		},
		{
			Desc:     "settling with unpaid entries settles again",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusSettling), PayoutsConfirmed: true},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusSettling,
			Command:  service.CommandSettle,
		},
		{
			Desc:     "settling waits for payout finality",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusSettling), AllPaid: true},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusSettling,
		},
		{
			Desc:     "settled once paid and confirmed",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusSettling), AllPaid: true, PayoutsConfirmed: true},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusSettled,
		},
		{
			Desc:     "failed payout fails the pool",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusSettling), AllPaid: true, PayoutFailed: true},
			Now:      start.Add(4 * day),
			Next:     entity.PoolStatusFailed,
			Command:  service.CommandMarkFailed,
			Failure:  entity.FailureTransfer,
		},
		{
			Desc:     "settled is terminal",
			Snapshot: service.Snapshot{Pool: snapshotPool(entity.PoolStatusSettled), PayoutFailed: true},
			Now:      start.Add(10 * day),
			Next:     entity.PoolStatusSettled,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			d := service.Advance(&tc.Snapshot, tc.Now)
			assert.Equal(t, tc.Next, d.Next)
			assert.Equal(t, tc.Command, d.Command)
			assert.Equal(t, tc.Failure, d.FailureKind)
			if tc.Next != tc.Snapshot.Pool.Status && tc.Next != entity.PoolStatusFailed {
				assert.True(t, tc.Snapshot.Pool.Status.CanTransitionTo(tc.Next))
			}
		})
	}
}

func TestAdvanceRefundsFailedPool(t *testing.T) {
	pool := snapshotPool(entity.PoolStatusFailed)
	pool.FailureKind = entity.FailureUndersubscribed
	d := service.Advance(&service.Snapshot{Pool: pool, RefundsOutstanding: true}, start)
	assert.Equal(t, entity.PoolStatusFailed, d.Next)
	assert.Equal(t, service.CommandRefund, d.Command)

	pool.FailureKind = entity.FailureTransfer
	d = service.Advance(&service.Snapshot{Pool: pool, RefundsOutstanding: true}, start)
	assert.Equal(t, service.CommandNone, d.Command)
}
