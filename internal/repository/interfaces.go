package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/limbo/stakepool/pkg/entity"
)

type PoolsRepositoryI interface {
	// Creates new pool in filling status. Returns generated ID
	Create(ctx context.Context, pool *entity.Pool) (uuid.UUID, error)
	// Searches pool with given id
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Pool, error)
	// Lists pools being in one of given statuses, oldest first
	ListByStatus(ctx context.Context, statuses ...entity.PoolStatus) ([]*entity.Pool, error)
	// Compare-and-set of pool status. Fails with ErrInvalidTransition if pool isn't in from
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to entity.PoolStatus, kind entity.FailureKind, reason string) error
	// Atomically moves pool settling -> settled and credits winners' profiles
	CompleteSettlement(ctx context.Context, id uuid.UUID, awards []entity.SettlementAward) error
}

type ParticipantsRepositoryI interface {
	// Creates membership. Fails with ErrAlreadyJoined on second join
	Create(ctx context.Context, p *entity.Participant) error
	// Searches membership of user in pool
	Get(ctx context.Context, poolID, userID uuid.UUID) (*entity.Participant, error)
	// Lists pool members in join order
	ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.Participant, error)
	// Replaces stake transfer reference of not yet confirmed stake
	UpdateTransferRef(ctx context.Context, poolID, userID uuid.UUID, ref string) error
	// Sets forfeited flag. Returns true if the flag was changed by this call
	SetForfeited(ctx context.Context, poolID, userID uuid.UUID) (bool, error)
	// Raises the number of closed periods already checked for a missed proof
	MarkStreakChecked(ctx context.Context, poolID, userID uuid.UUID, through int) error
	// Stores streak of the membership
	SetStreak(ctx context.Context, poolID, userID uuid.UUID, streak int) error
	// Lists streaks of user's not forfeited memberships in pools that are not settled or failed
	OpenStreaks(ctx context.Context, userID uuid.UUID) ([]int, error)
}

type LedgerRepositoryI interface {
	// Creates unconfirmed entry or replaces transfer of not confirmed one. ErrDuplicateStake if confirmed
	RecordStake(ctx context.Context, entry *entity.StakeLedgerEntry) error
	// Searches entry of user in pool
	Get(ctx context.Context, poolID, userID uuid.UUID) (*entity.StakeLedgerEntry, error)
	// Lists all entries of the pool
	ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.StakeLedgerEntry, error)
	// Lists unconfirmed entries across all pools
	ListUnconfirmed(ctx context.Context, limit int) ([]*entity.StakeLedgerEntry, error)
	// Moves unconfirmed entry to confirmed or failed
	SetTransferStatus(ctx context.Context, poolID, userID uuid.UUID, status entity.TransferStatus) error
	// Sum of confirmed stakes of the pool
	TotalConfirmed(ctx context.Context, poolID uuid.UUID) (int64, error)
	// Single write of paid-out amount. ErrAlreadySettled on second call
	MarkPaid(ctx context.Context, poolID, userID uuid.UUID, amount int64) error
}

type ProofsRepositoryI interface {
	// Creates proof. ErrDuplicateSubmission if it would be a second accepted proof for the period
	Create(ctx context.Context, proof *entity.Proof) (uuid.UUID, error)
	// Searches proof with given id
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Proof, error)
	// Lists proofs of one participant ordered by period
	ListByParticipant(ctx context.Context, poolID, userID uuid.UUID) ([]*entity.Proof, error)
	// Lists accepted proofs of the pool
	ListAccepted(ctx context.Context, poolID uuid.UUID) ([]*entity.Proof, error)
	// Lists pending proofs of the pool
	ListUnresolved(ctx context.Context, poolID uuid.UUID) ([]*entity.Proof, error)
	// Inspects if accepted proof exists for the participant and period
	AcceptedExists(ctx context.Context, poolID, userID uuid.UUID, period int) (bool, error)
	// Moves pending proof to accepted or rejected
	Resolve(ctx context.Context, id uuid.UUID, state entity.ProofState) error
}

type ProfilesRepositoryI interface {
	// Creates empty profile if absent
	Ensure(ctx context.Context, userID uuid.UUID) error
	// Searches profile of user
	GetByUserID(ctx context.Context, userID uuid.UUID) (*entity.Profile, error)
	// Increments pools joined counter
	IncrementJoined(ctx context.Context, userID uuid.UUID) error
	// Records accepted proof: sets current streak, raises best, increments proofs counter
	RecordProof(ctx context.Context, userID uuid.UUID, streak int) error
	// Overwrites current streak (used for resets)
	SetStreak(ctx context.Context, userID uuid.UUID, streak int) error
	// Lists all profiles
	List(ctx context.Context) ([]*entity.Profile, error)
	// Lists profiles of pool participants
	ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.Profile, error)
}

type PayoutsRepositoryI interface {
	// Creates payout intent unless one exists for (pool, user). Returns the stored one
	GetOrCreate(ctx context.Context, payout *entity.Payout) (*entity.Payout, error)
	// Increments attempts counter of not yet submitted payout. Returns the new counter
	BeginAttempt(ctx context.Context, id uuid.UUID) (int, error)
	// Stores transfer reference and moves payout to pending
	SetTransferRef(ctx context.Context, id uuid.UUID, ref string) error
	// Moves not confirmed payout to given status
	SetStatus(ctx context.Context, id uuid.UUID, status entity.PayoutStatus) error
	// Returns failed or unsubmitted payout to submitting. Starts the next round only when the
	// payout had a transfer reference
	ResetForRetry(ctx context.Context, id uuid.UUID) error
	// Lists payouts of the pool
	ListByPool(ctx context.Context, poolID uuid.UUID) ([]*entity.Payout, error)
	// Lists pending payouts across all pools
	ListPending(ctx context.Context, limit int) ([]*entity.Payout, error)
}

type DBConfig interface {
	ConnString() string
}

type PgConnection interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGCfg struct {
	Address  string
	Username string
	Password string
	DB       string
}

func (pgcfg *PGCfg) ConnString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s/%s", pgcfg.Username, pgcfg.Password, pgcfg.Address, pgcfg.DB)
}
