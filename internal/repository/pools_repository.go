package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

const poolColumns = `id, creator_id, title, category, stake_amount, min_participants, start_time, end_time, join_deadline, period_seconds, grace_seconds, required_periods, auto_verify, status, failure_kind, failure_reason, created_at, updated_at`

type PoolsRepository struct {
	conn PgConnection
}

func NewPoolsRepoWithConn(conn PgConnection) *PoolsRepository {
	mustPing(conn, "poolsRepo")
	return &PoolsRepository{
		conn: conn,
	}
}

func (pr *PoolsRepository) Create(ctx context.Context, pool *entity.Pool) (uuid.UUID, error) {
	var id uuid.UUID
	row := pr.conn.QueryRow(ctx,
		`INSERT INTO pools (creator_id, title, category, stake_amount, min_participants, start_time, end_time, join_deadline, period_seconds, grace_seconds, required_periods, auto_verify, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id;`,
		pool.CreatorID,
		pool.Title,
		string(pool.Category),
		pool.StakeAmount,
		pool.MinParticipants,
		pool.StartTime,
		pool.EndTime,
		pool.JoinDeadline,
		int64(pool.PeriodLength/time.Second),
		int64(pool.GracePeriod/time.Second),
		pool.RequiredPeriods,
		pool.AutoVerify,
		string(entity.PoolStatusFilling),
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, errors.New("creating pool db error: " + err.Error())
	}
	return id, nil
}

func (pr *PoolsRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Pool, error) {
	row := pr.conn.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1;`, id)
	pool, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrPoolNotFound
		}
		return nil, errors.New("getting pool by id error: " + err.Error())
	}
	return pool, nil
}

func (pr *PoolsRepository) ListByStatus(ctx context.Context, statuses ...entity.PoolStatus) ([]*entity.Pool, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := pr.conn.Query(ctx, `SELECT `+poolColumns+` FROM pools WHERE status = ANY($1) ORDER BY created_at, id;`, names)
	if err != nil {
		return nil, errors.New("listing pools by status error: " + err.Error())
	}
	defer rows.Close()
	pools := make([]*entity.Pool, 0)
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, errors.New("pool row parsing error: " + err.Error())
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected pool rows error: " + err.Error())
	}
	return pools, nil
}

func (pr *PoolsRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to entity.PoolStatus, kind entity.FailureKind, reason string) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE pools SET status = $1, failure_kind = $2, failure_reason = $3, updated_at = NOW() WHERE id = $4 AND status = $5;`,
		string(to), string(kind), reason, id, string(from),
	)
	if err != nil {
		return errors.New("updating pool status error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrInvalidTransition
	}
	return nil
}

func (pr *PoolsRepository) CompleteSettlement(ctx context.Context, id uuid.UUID, awards []entity.SettlementAward) error {
	tx, err := pr.conn.Begin(ctx)
	if err != nil {
		return errors.New("beginning settlement tx error: " + err.Error())
	}
	defer tx.Rollback(ctx)
	ct, err := tx.Exec(ctx,
		`UPDATE pools SET status = $1, failure_kind = '', failure_reason = '', updated_at = NOW() WHERE id = $2 AND status = $3;`,
		string(entity.PoolStatusSettled), id, string(entity.PoolStatusSettling),
	)
	if err != nil {
		return errors.New("settling pool error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrInvalidTransition
	}
	for _, award := range awards {
		_, err = tx.Exec(ctx,
			`UPDATE profiles SET total_pools_won = total_pools_won + 1, total_earned = total_earned + $1 WHERE user_id = $2;`,
			award.Amount, award.UserID,
		)
		if err != nil {
			return errors.New("crediting profile error: " + err.Error())
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.New("committing settlement error: " + err.Error())
	}
	return nil
}

func scanPool(row pgx.Row) (*entity.Pool, error) {
	var (
		pool                   entity.Pool
		category, status, kind string
		periodSecs, graceSecs  int64
	)
	err := row.Scan(
		&pool.ID, &pool.CreatorID, &pool.Title, &category, &pool.StakeAmount, &pool.MinParticipants,
		&pool.StartTime, &pool.EndTime, &pool.JoinDeadline, &periodSecs, &graceSecs, &pool.RequiredPeriods,
		&pool.AutoVerify, &status, &kind, &pool.FailureReason, &pool.CreatedAt, &pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	pool.Category = entity.Category(category)
	pool.Status = entity.PoolStatus(status)
	pool.FailureKind = entity.FailureKind(kind)
	pool.PeriodLength = time.Duration(periodSecs) * time.Second
	pool.GracePeriod = time.Duration(graceSecs) * time.Second
	return &pool, nil
}
