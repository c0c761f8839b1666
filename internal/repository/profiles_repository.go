package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

const profileColumns = `user_id, current_streak, best_streak, total_pools_joined, total_pools_won, total_earned, total_proofs_accepted`

type ProfilesRepository struct {
	conn PgConnection
}

func NewProfilesRepoWithConn(conn PgConnection) *ProfilesRepository {
	mustPing(conn, "profilesRepo")
	return &ProfilesRepository{
		conn: conn,
	}
}

func (pr *ProfilesRepository) Ensure(ctx context.Context, userID uuid.UUID) error {
	_, err := pr.conn.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING;`, userID)
	if err != nil {
		return errors.New("ensuring profile error: " + err.Error())
	}
	return nil
}

func (pr *ProfilesRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*entity.Profile, error) {
	row := pr.conn.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1;`, userID)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrProfileNotFound
		}
		return nil, errors.New("getting profile error: " + err.Error())
	}
	return profile, nil
}

func (pr *ProfilesRepository) IncrementJoined(ctx context.Context, userID uuid.UUID) error {
	return pr.exec(ctx, "incrementing joined pools error: ",
		`UPDATE profiles SET total_pools_joined = total_pools_joined + 1 WHERE user_id = $1;`, userID)
}

func (pr *ProfilesRepository) RecordProof(ctx context.Context, userID uuid.UUID, streak int) error {
	return pr.exec(ctx, "recording proof on profile error: ",
		`UPDATE profiles SET current_streak = $1, best_streak = GREATEST(best_streak, $1), total_proofs_accepted = total_proofs_accepted + 1 WHERE user_id = $2;`,
		streak, userID)
}

func (pr *ProfilesRepository) SetStreak(ctx context.Context, userID uuid.UUID, streak int) error {
	return pr.exec(ctx, "setting streak error: ",
		`UPDATE profiles SET current_streak = $1, best_streak = GREATEST(best_streak, $1) WHERE user_id = $2;`,
		streak, userID)
}

func (pr *ProfilesRepository) List(ctx context.Context) ([]*entity.Profile, error) {
	rows, err := pr.conn.Query(ctx, `SELECT `+profileColumns+` FROM profiles;`)
	if err != nil {
		return nil, errors.New("listing profiles error: " + err.Error())
	}
	return collectProfiles(rows)
}

func (pr *ProfilesRepository) ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.Profile, error) {
	rows, err := pr.conn.Query(ctx,
		`SELECT p.user_id, p.current_streak, p.best_streak, p.total_pools_joined, p.total_pools_won, p.total_earned, p.total_proofs_accepted
		FROM profiles p JOIN participants pt ON pt.user_id = p.user_id WHERE pt.pool_id = $1;`,
		poolID,
	)
	if err != nil {
		return nil, errors.New("listing pool profiles error: " + err.Error())
	}
	return collectProfiles(rows)
}

func (pr *ProfilesRepository) exec(ctx context.Context, errPrefix, sql string, args ...any) error {
	ct, err := pr.conn.Exec(ctx, sql, args...)
	if err != nil {
		return errors.New(errPrefix + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrProfileNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (*entity.Profile, error) {
	var p entity.Profile
	err := row.Scan(&p.UserID, &p.CurrentStreak, &p.BestStreak, &p.TotalPoolsJoined, &p.TotalPoolsWon, &p.TotalEarned, &p.TotalProofsAccepted)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProfiles(rows pgx.Rows) ([]*entity.Profile, error) {
	defer rows.Close()
	result := make([]*entity.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.New("profile row parsing error: " + err.Error())
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected profile rows error: " + err.Error())
	}
	return result, nil
}
