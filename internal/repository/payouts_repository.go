package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

const payoutColumns = `id, pool_id, user_id, kind, amount, to_address, transfer_ref, status, attempts, round, created_at, updated_at`

// PayoutsRepository keeps payout intents. An intent is written before the
// transfer is submitted so a crash between submit and bookkeeping is visible.
type PayoutsRepository struct {
	conn PgConnection
}

func NewPayoutsRepoWithConn(conn PgConnection) *PayoutsRepository {
	mustPing(conn, "payoutsRepo")
	return &PayoutsRepository{
		conn: conn,
	}
}

func (pr *PayoutsRepository) GetOrCreate(ctx context.Context, payout *entity.Payout) (*entity.Payout, error) {
	_, err := pr.conn.Exec(ctx,
		`INSERT INTO payouts (pool_id, user_id, kind, amount, to_address, status) VALUES ($1, $2, $3, $4, $5, 'submitting')
		ON CONFLICT (pool_id, user_id) DO NOTHING;`,
		payout.PoolID, payout.UserID, string(payout.Kind), payout.Amount, payout.ToAddress,
	)
	if err != nil {
		if pgErrorCode(err) == codeFKViolation {
			return nil, errorvalues.ErrEntryNotFound
		}
		return nil, errors.New("creating payout intent error: " + err.Error())
	}
	row := pr.conn.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE pool_id = $1 AND user_id = $2;`, payout.PoolID, payout.UserID)
	stored, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrPayoutNotFound
		}
		return nil, errors.New("getting payout intent error: " + err.Error())
	}
	return stored, nil
}

func (pr *PayoutsRepository) BeginAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	row := pr.conn.QueryRow(ctx,
		`UPDATE payouts SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1 AND transfer_ref = '' RETURNING attempts;`,
		id,
	)
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errorvalues.ErrPayoutNotFound
		}
		return 0, errors.New("beginning payout attempt error: " + err.Error())
	}
	return attempts, nil
}

func (pr *PayoutsRepository) SetTransferRef(ctx context.Context, id uuid.UUID, ref string) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE payouts SET transfer_ref = $1, status = 'pending', updated_at = NOW() WHERE id = $2 AND transfer_ref = '';`,
		ref, id,
	)
	if err != nil {
		return errors.New("storing payout transfer error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrPayoutNotFound
	}
	return nil
}

func (pr *PayoutsRepository) SetStatus(ctx context.Context, id uuid.UUID, status entity.PayoutStatus) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE payouts SET status = $1, updated_at = NOW() WHERE id = $2 AND status <> 'confirmed';`,
		string(status), id,
	)
	if err != nil {
		return errors.New("updating payout status error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrPayoutNotFound
	}
	return nil
}

func (pr *PayoutsRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE payouts SET status = 'submitting', transfer_ref = '', attempts = 0,
		round = round + CASE WHEN transfer_ref <> '' THEN 1 ELSE 0 END, updated_at = NOW()
		WHERE id = $1 AND (status = 'failed' OR (status = 'submitting' AND transfer_ref = ''));`,
		id,
	)
	if err != nil {
		return errors.New("resetting payout error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrPayoutNotFound
	}
	return nil
}

func (pr *PayoutsRepository) ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.Payout, error) {
	rows, err := pr.conn.Query(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE pool_id = $1 ORDER BY created_at, user_id;`, poolID)
	if err != nil {
		return nil, errors.New("listing pool payouts error: " + err.Error())
	}
	return collectPayouts(rows)
}

func (pr *PayoutsRepository) ListPending(ctx context.Context, limit int) ([]*entity.Payout, error) {
	rows, err := pr.conn.Query(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE status = 'pending' ORDER BY created_at LIMIT $1;`, limit)
	if err != nil {
		return nil, errors.New("listing pending payouts error: " + err.Error())
	}
	return collectPayouts(rows)
}

func scanPayout(row pgx.Row) (*entity.Payout, error) {
	var (
		payout       entity.Payout
		kind, status string
	)
	err := row.Scan(&payout.ID, &payout.PoolID, &payout.UserID, &kind, &payout.Amount, &payout.ToAddress,
		&payout.TransferRef, &status, &payout.Attempts, &payout.Round, &payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return nil, err
	}
	payout.Kind = entity.PayoutKind(kind)
	payout.Status = entity.PayoutStatus(status)
	return &payout, nil
}

func collectPayouts(rows pgx.Rows) ([]*entity.Payout, error) {
	defer rows.Close()
	result := make([]*entity.Payout, 0)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, errors.New("payout row parsing error: " + err.Error())
		}
		result = append(result, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected payout rows error: " + err.Error())
	}
	return result, nil
}
