package service

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/pkg/entity"
)

type PoolsService struct {
	*machine
	locker     lock.Locker
	ledger     *StakeLedgerService
	settlement *SettlementService
}

func NewPoolsService(repos Repositories, ledger *StakeLedgerService, settlement *SettlementService, locker lock.Locker,
	clock Clock, logger *slog.Logger, m *metrics.Metrics) *PoolsService {
	if ledger == nil || settlement == nil {
		log.Fatal("on pools service provided nil services")
	}
	if locker == nil {
		log.Fatal("provided nil locker")
	}
	InitValidator()
	return &PoolsService{
		machine:    newMachine(repos, clock, logger, m),
		locker:     locker,
		ledger:     ledger,
		settlement: settlement,
	}
}

func (ps *PoolsService) CreatePool(ctx context.Context, creatorID uuid.UUID, req *CreatePoolRequest) (*entity.Pool, error) {
	if err := validate.Struct(*req); err != nil {
		return nil, validationError(err)
	}
	pool := &entity.Pool{
		CreatorID:       creatorID,
		Title:           req.Title,
		Category:        entity.Category(req.Category),
		StakeAmount:     req.StakeAmount,
		MinParticipants: req.MinParticipants,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		JoinDeadline:    req.JoinDeadline.UTC(),
		PeriodLength:    time.Duration(req.PeriodSeconds) * time.Second,
		GracePeriod:     time.Duration(req.GraceSeconds) * time.Second,
		RequiredPeriods: req.RequiredPeriods,
		AutoVerify:      req.AutoVerify,
	}
	if pool.RequiredPeriods > pool.PeriodCount() {
		return nil, errors.Join(errorvalues.ErrValidation, errors.New("required_periods exceeds the number of periods"))
	}
	id, err := ps.repos.Pools.Create(ctx, pool)
	if err != nil {
		return nil, repoErr(err)
	}
	created, err := ps.repos.Pools.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err)
	}
	ps.logger.Info("pool created", slog.String("pool_id", id.String()), slog.String("creator_id", creatorID.String()),
		slog.Int64("stake_amount", created.StakeAmount), slog.Int("periods", created.PeriodCount()))
	return created, nil
}

func (ps *PoolsService) GetPool(ctx context.Context, id uuid.UUID) (*entity.PoolSummary, error) {
	pool, err := ps.repos.Pools.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err)
	}
	participants, err := ps.repos.Participants.ListByPool(ctx, id)
	if err != nil {
		return nil, repoErr(err)
	}
	pot, err := ps.ledger.TotalConfirmed(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := ps.repos.Proofs.ListUnresolved(ctx, id)
	if err != nil {
		return nil, repoErr(err)
	}
	return &entity.PoolSummary{
		Pool:          *pool,
		Participants:  len(participants),
		ConfirmedPot:  pot,
		PendingProofs: len(pending),
	}, nil
}

// ListOpen returns pools the sweeper still has work for: every non-terminal
// pool and undersubscribed pools that may owe refunds.
func (ps *PoolsService) ListOpen(ctx context.Context) ([]*entity.Pool, error) {
	pools, err := ps.repos.Pools.ListByStatus(ctx, entity.PoolStatusFilling, entity.PoolStatusActive,
		entity.PoolStatusCompleted, entity.PoolStatusSettling, entity.PoolStatusFailed)
	if err != nil {
		return nil, repoErr(err)
	}
	result := make([]*entity.Pool, 0, len(pools))
	for _, p := range pools {
		if p.Status == entity.PoolStatusFailed && p.FailureKind != entity.FailureUndersubscribed {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

// Join records the participant and its stake transfer. A participant whose
// stake transfer failed may join again with a new transfer.
func (ps *PoolsService) Join(ctx context.Context, poolID, userID uuid.UUID, req *JoinRequest) (*entity.Participant, error) {
	if err := validate.Struct(*req); err != nil {
		return nil, validationError(err)
	}
	release, err := ps.lockPool(ctx, ps.locker, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := ps.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, repoErr(err)
	}
	now := ps.clock.Now()
	if pool.Status != entity.PoolStatusFilling || !now.Before(pool.JoinDeadline) {
		return nil, errorvalues.ErrPoolNotJoinable
	}
	if err := ps.repos.Profiles.Ensure(ctx, userID); err != nil {
		return nil, repoErr(err)
	}
	participant := &entity.Participant{
		PoolID:        poolID,
		UserID:        userID,
		StakedAmount:  pool.StakeAmount,
		TransferRef:   req.TransferRef,
		WalletAddress: req.WalletAddress,
		JoinedAt:      now,
	}
	err = ps.repos.Participants.Create(ctx, participant)
	switch {
	case errors.Is(err, errorvalues.ErrAlreadyJoined):
		return ps.restake(ctx, pool, userID, req.TransferRef)
	case err != nil:
		return nil, repoErr(err)
	}
	if err := ps.ledger.RecordStake(ctx, poolID, userID, pool.StakeAmount, req.TransferRef); err != nil {
		return nil, err
	}
	if err := ps.repos.Profiles.IncrementJoined(ctx, userID); err != nil {
		return nil, repoErr(err)
	}
	ps.logger.Info("participant joined", slog.String("pool_id", poolID.String()), slog.String("user_id", userID.String()),
		slog.String("transfer_ref", req.TransferRef))
	return participant, nil
}

func (ps *PoolsService) restake(ctx context.Context, pool *entity.Pool, userID uuid.UUID, transferRef string) (*entity.Participant, error) {
	entry, err := ps.repos.Ledger.Get(ctx, pool.ID, userID)
	if err != nil {
		return nil, repoErr(err)
	}
	switch entry.TransferStatus {
	case entity.TransferConfirmed:
		return nil, errorvalues.ErrDuplicateStake
	case entity.TransferUnconfirmed:
		return nil, errorvalues.ErrAlreadyJoined
	}
	if err := ps.repos.Participants.UpdateTransferRef(ctx, pool.ID, userID, transferRef); err != nil {
		return nil, repoErr(err)
	}
	if err := ps.ledger.RecordStake(ctx, pool.ID, userID, pool.StakeAmount, transferRef); err != nil {
		return nil, err
	}
	ps.logger.Info("participant restaked", slog.String("pool_id", pool.ID.String()), slog.String("user_id", userID.String()),
		slog.String("transfer_ref", transferRef))
	participant, err := ps.repos.Participants.Get(ctx, pool.ID, userID)
	if err != nil {
		return nil, repoErr(err)
	}
	return participant, nil
}

// Forfeit gives up the stake voluntarily. The stake stays in the pot.
func (ps *PoolsService) Forfeit(ctx context.Context, poolID, userID uuid.UUID) error {
	release, err := ps.lockPool(ctx, ps.locker, poolID)
	if err != nil {
		return err
	}
	defer release()

	pool, err := ps.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return repoErr(err)
	}
	if pool.Status != entity.PoolStatusFilling && pool.Status != entity.PoolStatusActive {
		return errorvalues.ErrInvalidTransition
	}
	changed, err := ps.repos.Participants.SetForfeited(ctx, poolID, userID)
	if err != nil {
		return repoErr(err)
	}
	if !changed {
		return nil
	}
	if err := ps.breakStreak(ctx, poolID, userID); err != nil {
		return err
	}
	ps.logger.Info("participant forfeited", slog.String("pool_id", poolID.String()), slog.String("user_id", userID.String()))
	return nil
}

// Advance applies at most one transition under the pool lock and then runs
// the resulting command without holding it.
func (ps *PoolsService) Advance(ctx context.Context, poolID uuid.UUID) (*entity.Pool, error) {
	release, err := ps.lockPool(ctx, ps.locker, poolID)
	if err != nil {
		return nil, err
	}
	pool, err := ps.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		release()
		return nil, repoErr(err)
	}
	if pool.Status == entity.PoolStatusSettled ||
		(pool.Status == entity.PoolStatusFailed && pool.FailureKind != entity.FailureUndersubscribed) {
		release()
		return nil, errorvalues.ErrInvalidTransition
	}
	decision, err := ps.decide(ctx, pool)
	release()
	if err != nil {
		return nil, err
	}

	switch decision.Command {
	case CommandSettle:
		err = ps.settlement.Settle(ctx, poolID)
	case CommandRefund:
		err = ps.settlement.Refund(ctx, poolID)
	}
	if err != nil && !errors.Is(err, errorvalues.ErrLockHeld) {
		return nil, err
	}
	current, err := ps.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, repoErr(err)
	}
	return current, nil
}
