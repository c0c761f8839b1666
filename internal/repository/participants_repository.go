package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

type ParticipantsRepository struct {
	conn PgConnection
}

func NewParticipantsRepoWithConn(conn PgConnection) *ParticipantsRepository {
	mustPing(conn, "participantsRepo")
	return &ParticipantsRepository{
		conn: conn,
	}
}

func (pr *ParticipantsRepository) Create(ctx context.Context, p *entity.Participant) error {
	_, err := pr.conn.Exec(ctx,
		`INSERT INTO participants (pool_id, user_id, staked_amount, transfer_ref, wallet_address, joined_at) VALUES ($1, $2, $3, $4, $5, $6);`,
		p.PoolID, p.UserID, p.StakedAmount, p.TransferRef, p.WalletAddress, p.JoinedAt,
	)
	if err != nil {
		switch pgErrorCode(err) {
		case codeUniqueViolation:
			return errorvalues.ErrAlreadyJoined
		case codeFKViolation:
			return errorvalues.ErrPoolNotFound
		}
		return errors.New("creating participant error: " + err.Error())
	}
	return nil
}

func (pr *ParticipantsRepository) Get(ctx context.Context, poolID, userID uuid.UUID) (*entity.Participant, error) {
	p := entity.Participant{PoolID: poolID, UserID: userID}
	row := pr.conn.QueryRow(ctx,
		`SELECT staked_amount, transfer_ref, wallet_address, forfeited, joined_at, current_streak, streak_checked FROM participants WHERE pool_id = $1 AND user_id = $2;`,
		poolID, userID,
	)
	if err := row.Scan(&p.StakedAmount, &p.TransferRef, &p.WalletAddress, &p.Forfeited, &p.JoinedAt, &p.CurrentStreak, &p.StreakCheckedThrough); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrParticipantNotFound
		}
		return nil, errors.New("getting participant error: " + err.Error())
	}
	return &p, nil
}

func (pr *ParticipantsRepository) ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.Participant, error) {
	rows, err := pr.conn.Query(ctx,
		`SELECT user_id, staked_amount, transfer_ref, wallet_address, forfeited, joined_at, current_streak, streak_checked FROM participants WHERE pool_id = $1 ORDER BY joined_at, user_id;`,
		poolID,
	)
	if err != nil {
		return nil, errors.New("listing participants error: " + err.Error())
	}
	defer rows.Close()
	result := make([]*entity.Participant, 0)
	for rows.Next() {
		p := entity.Participant{PoolID: poolID}
		if err := rows.Scan(&p.UserID, &p.StakedAmount, &p.TransferRef, &p.WalletAddress, &p.Forfeited, &p.JoinedAt, &p.CurrentStreak,
			&p.StreakCheckedThrough); err != nil {
			return nil, errors.New("participant row parsing error: " + err.Error())
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected participant rows error: " + err.Error())
	}
	return result, nil
}

func (pr *ParticipantsRepository) UpdateTransferRef(ctx context.Context, poolID, userID uuid.UUID, ref string) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE participants SET transfer_ref = $1 WHERE pool_id = $2 AND user_id = $3;`,
		ref, poolID, userID,
	)
	if err != nil {
		return errors.New("updating participant transfer error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrParticipantNotFound
	}
	return nil
}

func (pr *ParticipantsRepository) SetForfeited(ctx context.Context, poolID, userID uuid.UUID) (bool, error) {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE participants SET forfeited = TRUE WHERE pool_id = $1 AND user_id = $2 AND forfeited = FALSE;`,
		poolID, userID,
	)
	if err != nil {
		return false, errors.New("forfeiting participant error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		// Either already forfeited or absent
		if _, err := pr.Get(ctx, poolID, userID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (pr *ParticipantsRepository) MarkStreakChecked(ctx context.Context, poolID, userID uuid.UUID, through int) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE participants SET streak_checked = $1 WHERE pool_id = $2 AND user_id = $3 AND streak_checked < $1;`,
		through, poolID, userID,
	)
	if err != nil {
		return errors.New("updating streak checkpoint error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		if _, err := pr.Get(ctx, poolID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (pr *ParticipantsRepository) SetStreak(ctx context.Context, poolID, userID uuid.UUID, streak int) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE participants SET current_streak = $1 WHERE pool_id = $2 AND user_id = $3;`,
		streak, poolID, userID,
	)
	if err != nil {
		return errors.New("setting participant streak error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrParticipantNotFound
	}
	return nil
}

func (pr *ParticipantsRepository) OpenStreaks(ctx context.Context, userID uuid.UUID) ([]int, error) {
	rows, err := pr.conn.Query(ctx,
		`SELECT pt.current_streak FROM participants pt JOIN pools p ON p.id = pt.pool_id
		WHERE pt.user_id = $1 AND pt.forfeited = FALSE AND p.status NOT IN ('settled', 'failed');`,
		userID,
	)
	if err != nil {
		return nil, errors.New("listing open streaks error: " + err.Error())
	}
	defer rows.Close()
	result := make([]int, 0)
	for rows.Next() {
		var streak int
		if err := rows.Scan(&streak); err != nil {
			return nil, errors.New("streak row parsing error: " + err.Error())
		}
		result = append(result, streak)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected streak rows error: " + err.Error())
	}
	return result, nil
}
