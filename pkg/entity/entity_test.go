package entity_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/limbo/stakepool/pkg/entity"
)

func TestCanTransitionTo(t *testing.T) {
	testCases := []struct {
		From entity.PoolStatus
		To   entity.PoolStatus
		Want bool
	}{
		{entity.PoolStatusFilling, entity.PoolStatusActive, true},
		{entity.PoolStatusFilling, entity.PoolStatusCompleted, false},
		{entity.PoolStatusActive, entity.PoolStatusCompleted, true},
		{entity.PoolStatusCompleted, entity.PoolStatusSettling, true},
		{entity.PoolStatusSettling, entity.PoolStatusSettled, true},
		{entity.PoolStatusSettling, entity.PoolStatusActive, false},
		{entity.PoolStatusActive, entity.PoolStatusFailed, true},
		{entity.PoolStatusSettling, entity.PoolStatusFailed, true},
		{entity.PoolStatusSettled, entity.PoolStatusFailed, false},
		{entity.PoolStatusFailed, entity.PoolStatusSettling, false},
		{entity.PoolStatus("paused"), entity.PoolStatusActive, false},
	}
	for _, tc := range testCases {
		t.Run(string(tc.From)+"->"+string(tc.To), func(t *testing.T) {
			assert.Equal(t, tc.Want, tc.From.CanTransitionTo(tc.To))
		})
	}
}

func TestPeriods(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	pool := &entity.Pool{
		StartTime:    start,
		EndTime:      start.Add(50 * time.Hour),
		PeriodLength: 24 * time.Hour,
		GracePeriod:  2 * time.Hour,
	}
	assert.Equal(t, 3, pool.PeriodCount())
	assert.Equal(t, 3, pool.Requirement())
	pool.RequiredPeriods = 2
	assert.Equal(t, 2, pool.Requirement())

	opens, closes := pool.SubmissionWindow(0)
	assert.Equal(t, start, opens)
	assert.Equal(t, start.Add(26*time.Hour), closes)
	opens, closes = pool.SubmissionWindow(2)
	assert.Equal(t, start.Add(48*time.Hour), opens)
	assert.Equal(t, pool.EndTime, closes)

	assert.Equal(t, 0, pool.ClosedPeriods(start.Add(25*time.Hour)))
	assert.Equal(t, 1, pool.ClosedPeriods(start.Add(26*time.Hour)))
	assert.Equal(t, 1, pool.ClosedPeriods(start.Add(49*time.Hour)))
	assert.Equal(t, 3, pool.ClosedPeriods(pool.EndTime))

	pool.PeriodLength = 0
	assert.Equal(t, 0, pool.PeriodCount())
}

func TestIdempotencyKey(t *testing.T) {
	poolID, userID := uuid.New(), uuid.New()
	payout := &entity.Payout{PoolID: poolID, UserID: userID, Amount: 15}
	assert.Equal(t, entity.PayoutKey(poolID, userID, 15), payout.IdempotencyKey())
	payout.Round = 2
	assert.Equal(t, entity.PayoutKey(poolID, userID, 15)+":r2", payout.IdempotencyKey())
}
