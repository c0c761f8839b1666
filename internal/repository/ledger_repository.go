package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

const entryColumns = `pool_id, user_id, staked_amount, transfer_ref, transfer_status, paid_out IS NOT NULL, COALESCE(paid_out, 0), updated_at`

// LedgerRepository stores stake ledger entries: the escrow side of every
// participation.
type LedgerRepository struct {
	conn PgConnection
}

func NewLedgerRepoWithConn(conn PgConnection) *LedgerRepository {
	mustPing(conn, "ledgerRepo")
	return &LedgerRepository{
		conn: conn,
	}
}

func (lr *LedgerRepository) RecordStake(ctx context.Context, entry *entity.StakeLedgerEntry) error {
	ct, err := lr.conn.Exec(ctx,
		`INSERT INTO stake_entries (pool_id, user_id, staked_amount, transfer_ref, transfer_status) VALUES ($1, $2, $3, $4, 'unconfirmed')
		ON CONFLICT (pool_id, user_id) DO UPDATE SET staked_amount = EXCLUDED.staked_amount, transfer_ref = EXCLUDED.transfer_ref, transfer_status = 'unconfirmed', updated_at = NOW()
		WHERE stake_entries.transfer_status <> 'confirmed';`,
		entry.PoolID, entry.UserID, entry.StakedAmount, entry.TransferRef,
	)
	if err != nil {
		if pgErrorCode(err) == codeFKViolation {
			return errorvalues.ErrParticipantNotFound
		}
		return errors.New("recording stake error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrDuplicateStake
	}
	return nil
}

func (lr *LedgerRepository) Get(ctx context.Context, poolID, userID uuid.UUID) (*entity.StakeLedgerEntry, error) {
	row := lr.conn.QueryRow(ctx, `SELECT `+entryColumns+` FROM stake_entries WHERE pool_id = $1 AND user_id = $2;`, poolID, userID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrEntryNotFound
		}
		return nil, errors.New("getting ledger entry error: " + err.Error())
	}
	return entry, nil
}

func (lr *LedgerRepository) ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.StakeLedgerEntry, error) {
	rows, err := lr.conn.Query(ctx, `SELECT `+entryColumns+` FROM stake_entries WHERE pool_id = $1 ORDER BY user_id;`, poolID)
	if err != nil {
		return nil, errors.New("listing ledger entries error: " + err.Error())
	}
	return collectEntries(rows)
}

func (lr *LedgerRepository) ListUnconfirmed(ctx context.Context, limit int) ([]*entity.StakeLedgerEntry, error) {
	rows, err := lr.conn.Query(ctx,
		`SELECT `+entryColumns+` FROM stake_entries WHERE transfer_status = 'unconfirmed' ORDER BY updated_at LIMIT $1;`,
		limit,
	)
	if err != nil {
		return nil, errors.New("listing unconfirmed stakes error: " + err.Error())
	}
	return collectEntries(rows)
}

func (lr *LedgerRepository) SetTransferStatus(ctx context.Context, poolID, userID uuid.UUID, status entity.TransferStatus) error {
	ct, err := lr.conn.Exec(ctx,
		`UPDATE stake_entries SET transfer_status = $1, updated_at = NOW() WHERE pool_id = $2 AND user_id = $3 AND transfer_status = 'unconfirmed';`,
		string(status), poolID, userID,
	)
	if err != nil {
		return errors.New("updating stake transfer status error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrEntryNotFound
	}
	return nil
}

func (lr *LedgerRepository) TotalConfirmed(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var total int64
	row := lr.conn.QueryRow(ctx,
		`SELECT COALESCE(SUM(staked_amount), 0)::BIGINT FROM stake_entries WHERE pool_id = $1 AND transfer_status = 'confirmed';`,
		poolID,
	)
	if err := row.Scan(&total); err != nil {
		return 0, errors.New("summing confirmed stakes error: " + err.Error())
	}
	return total, nil
}

// MarkPaid writes paid_out once. The row is only updated while unpaid and
// while the pool's paid total stays within its confirmed stake.
func (lr *LedgerRepository) MarkPaid(ctx context.Context, poolID, userID uuid.UUID, amount int64) error {
	ct, err := lr.conn.Exec(ctx,
		`UPDATE stake_entries SET paid_out = $1, updated_at = NOW()
		WHERE pool_id = $2 AND user_id = $3 AND paid_out IS NULL AND transfer_status = 'confirmed'
		AND $1 + (SELECT COALESCE(SUM(paid_out), 0) FROM stake_entries WHERE pool_id = $2)
			<= (SELECT COALESCE(SUM(staked_amount), 0) FROM stake_entries WHERE pool_id = $2 AND transfer_status = 'confirmed');`,
		amount, poolID, userID,
	)
	if err != nil {
		return errors.New("marking entry paid error: " + err.Error())
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	entry, err := lr.Get(ctx, poolID, userID)
	if err != nil {
		return err
	}
	switch {
	case entry.Paid:
		return errorvalues.ErrAlreadySettled
	case entry.TransferStatus != entity.TransferConfirmed:
		return errorvalues.ErrStakeNotConfirmed
	default:
		return errorvalues.ErrInsufficientPot
	}
}

func scanEntry(row pgx.Row) (*entity.StakeLedgerEntry, error) {
	var (
		entry  entity.StakeLedgerEntry
		status string
	)
	err := row.Scan(&entry.PoolID, &entry.UserID, &entry.StakedAmount, &entry.TransferRef, &status, &entry.Paid, &entry.PaidOut, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.TransferStatus = entity.TransferStatus(status)
	return &entry, nil
}

func collectEntries(rows pgx.Rows) ([]*entity.StakeLedgerEntry, error) {
	defer rows.Close()
	result := make([]*entity.StakeLedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.New("ledger row parsing error: " + err.Error())
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected ledger rows error: " + err.Error())
	}
	return result, nil
}
