package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/pkg/entity"
)

var entryRowColumns = []string{"pool_id", "user_id", "staked_amount", "transfer_ref", "transfer_status", "paid", "paid_out", "updated_at"}

func TestRecordStake(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewLedgerRepoWithConn(mock)
	query := regexp.QuoteMeta(`INSERT INTO stake_entries`)
	entry := entity.StakeLedgerEntry{
		PoolID:       uuid.New(),
		UserID:       uuid.New(),
		StakedAmount: 10,
		TransferRef:  "0xabc",
	}
	testCases := []struct {
		Desc            string
		Error           error
		MockPrepareFunc func()
	}{
		{
			Desc:  "recorded",
			Error: nil,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs(entry.PoolID, entry.UserID, entry.StakedAmount, entry.TransferRef).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			Desc:  "already confirmed",
			Error: errorvalues.ErrDuplicateStake,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs(entry.PoolID, entry.UserID, entry.StakedAmount, entry.TransferRef).
					WillReturnResult(pgxmock.NewResult("INSERT", 0))
			},
		},
		{
			Desc:  "no participant",
			Error: errorvalues.ErrParticipantNotFound,
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs(entry.PoolID, entry.UserID, entry.StakedAmount, entry.TransferRef).
					WillReturnError(&pgconn.PgError{Code: "23503"})
			},
		},
		{
			Desc:  "db error",
			Error: errors.New("recording stake error: db error"),
			MockPrepareFunc: func() {
				mock.ExpectExec(query).WithArgs(entry.PoolID, entry.UserID, entry.StakedAmount, entry.TransferRef).
					WillReturnError(errors.New("db error"))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			tc.MockPrepareFunc()
			err := repo.RecordStake(context.Background(), &entry)
			if tc.Error != nil {
				assert.EqualError(t, err, tc.Error.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetLedgerEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewLedgerRepoWithConn(mock)
	query := regexp.QuoteMeta(`FROM stake_entries WHERE pool_id = $1 AND user_id = $2;`)
	poolID, userID := uuid.New(), uuid.New()
	updated := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	t.Run("unpaid", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(poolID, userID).WillReturnRows(pgxmock.NewRows(entryRowColumns).
			AddRow(poolID, userID, int64(10), "0xabc", "confirmed", false, int64(0), updated))
		entry, err := repo.Get(context.Background(), poolID, userID)
		require.NoError(t, err)
		assert.Equal(t, entity.StakeLedgerEntry{
			PoolID:         poolID,
			UserID:         userID,
			StakedAmount:   10,
			TransferRef:    "0xabc",
			TransferStatus: entity.TransferConfirmed,
			UpdatedAt:      updated,
		}, *entry)
	})
	t.Run("paid zero", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(poolID, userID).WillReturnRows(pgxmock.NewRows(entryRowColumns).
			AddRow(poolID, userID, int64(10), "0xabc", "confirmed", true, int64(0), updated))
		entry, err := repo.Get(context.Background(), poolID, userID)
		require.NoError(t, err)
		assert.True(t, entry.Paid)
		assert.Equal(t, int64(0), entry.PaidOut)
	})
	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(poolID, userID).WillReturnError(pgx.ErrNoRows)
		_, err := repo.Get(context.Background(), poolID, userID)
		assert.ErrorIs(t, err, errorvalues.ErrEntryNotFound)
	})
}

func TestMarkPaid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewLedgerRepoWithConn(mock)
	updateQuery := regexp.QuoteMeta(`UPDATE stake_entries SET paid_out = $1`)
	getQuery := regexp.QuoteMeta(`FROM stake_entries WHERE pool_id = $1 AND user_id = $2;`)
	poolID, userID := uuid.New(), uuid.New()
	now := time.Now()
	entryRow := func(status string, paid bool, paidOut int64) *pgxmock.Rows {
		return pgxmock.NewRows(entryRowColumns).AddRow(poolID, userID, int64(10), "0xabc", status, paid, paidOut, now)
	}
	testCases := []struct {
		Desc            string
		Error           error
		MockPrepareFunc func()
	}{
		{
			Desc:  "paid",
			Error: nil,
			MockPrepareFunc: func() {
				mock.ExpectExec(updateQuery).WithArgs(int64(15), poolID, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			Desc:  "second call",
			Error: errorvalues.ErrAlreadySettled,
			MockPrepareFunc: func() {
				mock.ExpectExec(updateQuery).WithArgs(int64(15), poolID, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(getQuery).WithArgs(poolID, userID).WillReturnRows(entryRow("confirmed", true, 15))
			},
		},
		{
			Desc:  "stake not confirmed",
			Error: errorvalues.ErrStakeNotConfirmed,
			MockPrepareFunc: func() {
				mock.ExpectExec(updateQuery).WithArgs(int64(15), poolID, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(getQuery).WithArgs(poolID, userID).WillReturnRows(entryRow("unconfirmed", false, 0))
			},
		},
		{
			Desc:  "pot exceeded",
			Error: errorvalues.ErrInsufficientPot,
			MockPrepareFunc: func() {
				mock.ExpectExec(updateQuery).WithArgs(int64(15), poolID, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(getQuery).WithArgs(poolID, userID).WillReturnRows(entryRow("confirmed", false, 0))
			},
		},
		{
			Desc:  "no entry",
			Error: errorvalues.ErrEntryNotFound,
			MockPrepareFunc: func() {
				mock.ExpectExec(updateQuery).WithArgs(int64(15), poolID, userID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(getQuery).WithArgs(poolID, userID).WillReturnError(pgx.ErrNoRows)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.Desc, func(t *testing.T) {
			tc.MockPrepareFunc()
			err := repo.MarkPaid(context.Background(), poolID, userID, 15)
			if tc.Error != nil {
				assert.ErrorIs(t, err, tc.Error)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTotalConfirmed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := repository.NewLedgerRepoWithConn(mock)
	query := regexp.QuoteMeta(`SELECT COALESCE(SUM(staked_amount), 0)::BIGINT FROM stake_entries`)
	poolID := uuid.New()
	mock.ExpectQuery(query).WithArgs(poolID).WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(30)))
	total, err := repo.TotalConfirmed(context.Background(), poolID)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), total)
}
