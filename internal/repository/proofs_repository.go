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

const proofColumns = `id, pool_id, user_id, period, evidence_ref, state, submitted_at, resolved_at IS NOT NULL, COALESCE(resolved_at, submitted_at)`

type ProofsRepository struct {
	conn PgConnection
}

func NewProofsRepoWithConn(conn PgConnection) *ProofsRepository {
	mustPing(conn, "proofsRepo")
	return &ProofsRepository{
		conn: conn,
	}
}

func (pr *ProofsRepository) Create(ctx context.Context, proof *entity.Proof) (uuid.UUID, error) {
	var id uuid.UUID
	row := pr.conn.QueryRow(ctx,
		`INSERT INTO proofs (pool_id, user_id, period, evidence_ref, state, submitted_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $5 = 'pending' THEN NULL ELSE $6 END) RETURNING id;`,
		proof.PoolID, proof.UserID, proof.Period, proof.EvidenceRef, string(proof.State), proof.SubmittedAt,
	)
	if err := row.Scan(&id); err != nil {
		switch pgErrorCode(err) {
		case codeUniqueViolation:
			return uuid.Nil, errorvalues.ErrDuplicateSubmission
		case codeFKViolation:
			return uuid.Nil, errorvalues.ErrParticipantNotFound
		}
		return uuid.Nil, errors.New("creating proof error: " + err.Error())
	}
	return id, nil
}

func (pr *ProofsRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Proof, error) {
	row := pr.conn.QueryRow(ctx, `SELECT `+proofColumns+` FROM proofs WHERE id = $1;`, id)
	proof, err := scanProof(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrProofNotFound
		}
		return nil, errors.New("getting proof by id error: " + err.Error())
	}
	return proof, nil
}

func (pr *ProofsRepository) ListByParticipant(ctx context.Context, poolID, userID uuid.UUID) ([]*entity.Proof, error) {
	rows, err := pr.conn.Query(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE pool_id = $1 AND user_id = $2 ORDER BY period, submitted_at;`,
		poolID, userID,
	)
	if err != nil {
		return nil, errors.New("listing participant proofs error: " + err.Error())
	}
	return collectProofs(rows)
}

func (pr *ProofsRepository) ListAccepted(ctx context.Context, poolID uuid.UUID) ([]*entity.Proof, error) {
	rows, err := pr.conn.Query(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE pool_id = $1 AND state = 'accepted' ORDER BY user_id, period;`,
		poolID,
	)
	if err != nil {
		return nil, errors.New("listing accepted proofs error: " + err.Error())
	}
	return collectProofs(rows)
}

func (pr *ProofsRepository) ListUnresolved(ctx context.Context, poolID uuid.UUID) ([]*entity.Proof, error) {
	rows, err := pr.conn.Query(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE pool_id = $1 AND state = 'pending' ORDER BY submitted_at;`,
		poolID,
	)
	if err != nil {
		return nil, errors.New("listing unresolved proofs error: " + err.Error())
	}
	return collectProofs(rows)
}

func (pr *ProofsRepository) AcceptedExists(ctx context.Context, poolID, userID uuid.UUID, period int) (bool, error) {
	var exists bool
	row := pr.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM proofs WHERE pool_id = $1 AND user_id = $2 AND period = $3 AND state = 'accepted');`,
		poolID, userID, period,
	)
	if err := row.Scan(&exists); err != nil {
		return false, errors.New("inspecting if accepted proof exists error: " + err.Error())
	}
	return exists, nil
}

func (pr *ProofsRepository) Resolve(ctx context.Context, id uuid.UUID, state entity.ProofState) error {
	ct, err := pr.conn.Exec(ctx,
		`UPDATE proofs SET state = $1, resolved_at = NOW() WHERE id = $2 AND state = 'pending';`,
		string(state), id,
	)
	if err != nil {
		if pgErrorCode(err) == codeUniqueViolation {
			return errorvalues.ErrDuplicateSubmission
		}
		return errors.New("resolving proof error: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		if _, err := pr.GetByID(ctx, id); err != nil {
			return err
		}
		return errorvalues.ErrProofAlreadyResolved
	}
	return nil
}

func scanProof(row pgx.Row) (*entity.Proof, error) {
	var (
		proof    entity.Proof
		state    string
		resolved bool
	)
	err := row.Scan(&proof.ID, &proof.PoolID, &proof.UserID, &proof.Period, &proof.EvidenceRef, &state, &proof.SubmittedAt, &resolved, &proof.ResolvedAt)
	if err != nil {
		return nil, err
	}
	proof.State = entity.ProofState(state)
	if !resolved {
		proof.ResolvedAt = time.Time{}
	}
	return &proof, nil
}

func collectProofs(rows pgx.Rows) ([]*entity.Proof, error) {
	defer rows.Close()
	result := make([]*entity.Proof, 0)
	for rows.Next() {
		proof, err := scanProof(rows)
		if err != nil {
			return nil, errors.New("proof row parsing error: " + err.Error())
		}
		result = append(result, proof)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("unexpected proof rows error: " + err.Error())
	}
	return result, nil
}
