package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/pkg/entity"
)

var payoutRowColumns = []string{"id", "pool_id", "user_id", "kind", "amount", "to_address", "transfer_ref", "status", "attempts", "round", "created_at", "updated_at"}

func TestGetOrCreatePayout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewPayoutsRepoWithConn(mock)
	insertQuery := regexp.QuoteMeta(`INSERT INTO payouts`)
	selectQuery := regexp.QuoteMeta(`FROM payouts WHERE pool_id = $1 AND user_id = $2;`)
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	intent := entity.Payout{
		PoolID:    uuid.New(),
		UserID:    uuid.New(),
		Kind:      entity.PayoutWinnings,
		Amount:    15,
		ToAddress: "0x00000000000000000000000000000000000000aa",
	}
	id := uuid.New()
	t.Run("new intent", func(t *testing.T) {
		mock.ExpectExec(insertQuery).WithArgs(intent.PoolID, intent.UserID, "payout", intent.Amount, intent.ToAddress).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(selectQuery).WithArgs(intent.PoolID, intent.UserID).WillReturnRows(pgxmock.NewRows(payoutRowColumns).
			AddRow(id, intent.PoolID, intent.UserID, "payout", int64(15), intent.ToAddress, "", "submitting", 0, 0, now, now))
		stored, err := repo.GetOrCreate(context.Background(), &intent)
		require.NoError(t, err)
		assert.Equal(t, id, stored.ID)
		assert.Equal(t, entity.PayoutSubmitting, stored.Status)
		assert.Equal(t, 0, stored.Attempts)
	})
	t.Run("existing intent is returned", func(t *testing.T) {
		mock.ExpectExec(insertQuery).WithArgs(intent.PoolID, intent.UserID, "payout", intent.Amount, intent.ToAddress).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery(selectQuery).WithArgs(intent.PoolID, intent.UserID).WillReturnRows(pgxmock.NewRows(payoutRowColumns).
			AddRow(id, intent.PoolID, intent.UserID, "payout", int64(15), intent.ToAddress, "0xfeed", "pending", 1, 0, now, now))
		stored, err := repo.GetOrCreate(context.Background(), &intent)
		require.NoError(t, err)
		assert.Equal(t, "0xfeed", stored.TransferRef)
		assert.Equal(t, entity.PayoutPending, stored.Status)
	})
	t.Run("db error", func(t *testing.T) {
		mock.ExpectExec(insertQuery).WithArgs(intent.PoolID, intent.UserID, "payout", intent.Amount, intent.ToAddress).
			WillReturnError(errors.New("db error"))
		_, err := repo.GetOrCreate(context.Background(), &intent)
		assert.Error(t, err)
	})
}

func TestBeginAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewPayoutsRepoWithConn(mock)
	query := regexp.QuoteMeta(`UPDATE payouts SET attempts = attempts + 1`)
	id := uuid.New()
	t.Run("incremented", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(2))
		attempts, err := repo.BeginAttempt(context.Background(), id)
		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})
	t.Run("already submitted", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(id).WillReturnError(pgx.ErrNoRows)
		_, err := repo.BeginAttempt(context.Background(), id)
		assert.ErrorIs(t, err, errorvalues.ErrPayoutNotFound)
	})
}

func TestSetPayoutStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewPayoutsRepoWithConn(mock)
	query := regexp.QuoteMeta(`UPDATE payouts SET status = $1, updated_at = NOW() WHERE id = $2 AND status <> 'confirmed';`)
	id := uuid.New()
	testCases := []struct {
		Desc            string
		Error           error
		MockPrepareFunc func()
	}{
		{
			Desc:  "confirmed",
			Error: nil,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs("confirmed", id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			Desc:  "already confirmed or absent",
			Error: errorvalues.ErrPayoutNotFound,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs("confirmed", id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			},
		},
		{
			Desc:  "db error",
			Error: errors.New("updating payout status error: db error"),
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs("confirmed", id).WillReturnError(errors.New("db error"))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			tc.MockPrepareFunc()
			err := repo.SetStatus(context.Background(), id, entity.PayoutConfirmed)
			if tc.Error != nil {
				assert.EqualError(t, err, tc.Error.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResetPayoutForRetry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewPayoutsRepoWithConn(mock)
	query := regexp.QuoteMeta(`round = round + CASE WHEN transfer_ref <> '' THEN 1 ELSE 0 END`)
	id := uuid.New()
	testCases := []struct {
		Desc            string
		Error           error
		MockPrepareFunc func()
	}{
		{
			Desc:  "reset",
			Error: nil,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			Desc:  "pending or confirmed",
			Error: errorvalues.ErrPayoutNotFound,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			tc.MockPrepareFunc()
			err := repo.ResetForRetry(context.Background(), id)
			if tc.Error != nil {
				assert.ErrorIs(t, err, tc.Error)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecordProofOnProfile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewProfilesRepoWithConn(mock)
	query := regexp.QuoteMeta(`UPDATE profiles SET current_streak = $1, best_streak = GREATEST(best_streak, $1), total_proofs_accepted`)
	userID := uuid.New()
	t.Run("recorded", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(4, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		assert.NoError(t, repo.RecordProof(context.Background(), userID, 4))
	})
	t.Run("no profile", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(4, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		assert.ErrorIs(t, repo.RecordProof(context.Background(), userID, 4), errorvalues.ErrProfileNotFound)
	})
}

func TestListProfilesByPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewProfilesRepoWithConn(mock)
	query := regexp.QuoteMeta(`JOIN participants pt ON pt.user_id = p.user_id WHERE pt.pool_id = $1;`)
	poolID := uuid.New()
	first, second := uuid.New(), uuid.New()
	mock.ExpectQuery(query).WithArgs(poolID).WillReturnRows(pgxmock.NewRows([]string{
		"user_id", "current_streak", "best_streak", "total_pools_joined", "total_pools_won", "total_earned", "total_proofs_accepted",
	}).AddRow(first, 3, 5, 2, 1, int64(15), 9).AddRow(second, 0, 2, 1, 0, int64(0), 2))
	result, err := repo.ListByPool(context.Background(), poolID)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, entity.Profile{
		UserID:              first,
		CurrentStreak:       3,
		BestStreak:          5,
		TotalPoolsJoined:    2,
		TotalPoolsWon:       1,
		TotalEarned:         15,
		TotalProofsAccepted: 9,
	}, *result[0])
	assert.Equal(t, second, result[1].UserID)
}
