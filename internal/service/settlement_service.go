package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/google/uuid"

	"github.com/limbo/stakepool/internal/chain"
	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/pkg/entity"
)

var (
	// Payout needs manual repair before it is tried again
	errPayoutFailed = errors.New("payout failed earlier")
	errSubmitFailed = errors.New("payout submission failed")
)

type SettlementService struct {
	*machine
	ledger *StakeLedgerService
	locker lock.Locker
	bridge chain.ChainBridge
}

func NewSettlementService(repos Repositories, bridge chain.ChainBridge, locker lock.Locker, clock Clock,
	logger *slog.Logger, m *metrics.Metrics) *SettlementService {
	if bridge == nil {
		log.Fatal("provided nil chain bridge")
	}
	if locker == nil {
		log.Fatal("provided nil locker")
	}
	return &SettlementService{
		machine: newMachine(repos, clock, logger, m),
		ledger:  NewStakeLedgerService(repos.Ledger, bridge, logger),
		locker:  locker,
		bridge:  bridge,
	}
}

func (ss *SettlementService) lockSettlement(ctx context.Context, poolID uuid.UUID) (func(), error) {
	return ss.locker.TryAcquire(ctx, lock.SettleKey(poolID.String()), settleLockTTL)
}

// Settle pays out a settling pool. A completed pool whose proofs and stakes
// are all final is moved to settling first. Re-running it never pays anyone
// twice: submitted payouts are reused and paid entries stay untouched.
func (ss *SettlementService) Settle(ctx context.Context, poolID uuid.UUID) error {
	release, err := ss.lockSettlement(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()

	pool, err := ss.enterSettling(ctx, poolID)
	if err != nil {
		return err
	}
	plan, err := ss.plan(ctx, pool)
	if err != nil {
		return err
	}
	logger := ss.logger.With(slog.String("pool_id", poolID.String()))
	kind := entity.PayoutWinnings
	if plan.Refund {
		kind = entity.PayoutRefund
	}
	for _, share := range plan.Shares {
		if share.Amount == 0 {
			if err := ss.settleLoser(ctx, poolID, share.UserID); err != nil {
				return err
			}
			continue
		}
		err = ss.pay(ctx, poolID, share, kind)
		if err == nil {
			continue
		}
		if errors.Is(err, errPayoutFailed) || errors.Is(err, errSubmitFailed) || errors.Is(err, errorvalues.ErrTransferUnknown) {
			logger.Error("payout failed, settlement stopped", slog.String("user_id", share.UserID.String()), slog.String("error", err.Error()))
			if ferr := ss.failPool(ctx, ss.locker, poolID, err.Error()); ferr != nil {
				return errors.Join(err, ferr)
			}
		}
		return err
	}
	logger.Info("settlement submitted", slog.Int64("pot", plan.Pot), slog.Bool("refund", plan.Refund), slog.Int("shares", len(plan.Shares)))
	return nil
}

func (ss *SettlementService) enterSettling(ctx context.Context, poolID uuid.UUID) (*entity.Pool, error) {
	release, err := ss.lockPool(ctx, ss.locker, poolID)
	if err != nil {
		return nil, err
	}
	defer release()
	pool, err := ss.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, repoErr(err)
	}
	if pool.Status == entity.PoolStatusCompleted {
		decision, err := ss.decide(ctx, pool)
		if err != nil {
			return nil, err
		}
		if decision.Next != entity.PoolStatusSettling {
			return nil, errorvalues.ErrInvalidTransition
		}
	}
	if pool.Status != entity.PoolStatusSettling {
		return nil, errorvalues.ErrInvalidTransition
	}
	return pool, nil
}

// plan computes the distribution from the ledger and checks it against what
// was already paid.
func (ss *SettlementService) plan(ctx context.Context, pool *entity.Pool) (*Plan, error) {
	participants, err := ss.repos.Participants.ListByPool(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	entries, err := ss.repos.Ledger.ListByPool(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	accepted, err := ss.repos.Proofs.ListAccepted(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	pot, err := ss.repos.Ledger.TotalConfirmed(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	byUser := make(map[uuid.UUID]*entity.StakeLedgerEntry, len(entries))
	for _, e := range entries {
		byUser[e.UserID] = e
	}
	periods := make(map[uuid.UUID][]int)
	for _, p := range accepted {
		periods[p.UserID] = append(periods[p.UserID], p.Period)
	}
	required := pool.Requirement()
	members := make([]Member, 0, len(participants))
	for _, p := range participants {
		entry, ok := byUser[p.UserID]
		if !ok || entry.TransferStatus != entity.TransferConfirmed {
			continue
		}
		members = append(members, Member{
			UserID: p.UserID,
			Wallet: p.WalletAddress,
			Stake:  entry.StakedAmount,
			Winner: !p.Forfeited && distinctCount(periods[p.UserID]) >= required,
		})
	}
	plan := Distribute(pot, members)

	var paid, owed int64
	for _, share := range plan.Shares {
		entry := byUser[share.UserID]
		if entry.Paid {
			paid += entry.PaidOut
		} else {
			owed += share.Amount
		}
	}
	if paid+owed > pot {
		return nil, fmt.Errorf("%w: paid %d, owed %d, pot %d", errorvalues.ErrInsufficientPot, paid, owed, pot)
	}
	return &plan, nil
}

func (ss *SettlementService) settleLoser(ctx context.Context, poolID, userID uuid.UUID) error {
	changed, err := ss.repos.Participants.SetForfeited(ctx, poolID, userID)
	if err != nil {
		return repoErr(err)
	}
	if changed {
		if err := ss.breakStreak(ctx, poolID, userID); err != nil {
			return err
		}
	}
	return ss.markPaid(ctx, poolID, userID, 0)
}

func (ss *SettlementService) markPaid(ctx context.Context, poolID, userID uuid.UUID, amount int64) error {
	err := ss.ledger.MarkPaid(ctx, poolID, userID, amount)
	if err != nil && !errors.Is(err, errorvalues.ErrAlreadySettled) {
		return err
	}
	return nil
}

// pay runs the two-phase payout of one share: the intent is stored before the
// transfer is submitted and the ledger is marked paid after.
func (ss *SettlementService) pay(ctx context.Context, poolID uuid.UUID, share Share, kind entity.PayoutKind) error {
	intent, err := ss.repos.Payouts.GetOrCreate(ctx, &entity.Payout{
		PoolID:    poolID,
		UserID:    share.UserID,
		Kind:      kind,
		Amount:    share.Amount,
		ToAddress: share.Wallet,
	})
	if err != nil {
		return repoErr(err)
	}
	if intent.Status == entity.PayoutFailed {
		return errPayoutFailed
	}
	if intent.TransferRef == "" {
		// A crash after an earlier attempt leaves its outcome unknown
		if intent.Attempts > 0 {
			return fmt.Errorf("%w: payout %s", errorvalues.ErrTransferUnknown, intent.ID)
		}
		if _, err := ss.repos.Payouts.BeginAttempt(ctx, intent.ID); err != nil {
			return repoErr(err)
		}
		ref, err := ss.bridge.SubmitTransfer(ctx, chain.Transfer{
			To:     intent.ToAddress,
			Amount: intent.Amount,
			Key:    intent.IdempotencyKey(),
		})
		if err != nil {
			if serr := ss.repos.Payouts.SetStatus(ctx, intent.ID, entity.PayoutFailed); serr != nil {
				ss.logger.Error("marking payout failed", slog.String("payout_id", intent.ID.String()), slog.String("error", serr.Error()))
			}
			ss.metrics.Payout(string(kind), "failed")
			return fmt.Errorf("%w: payout %s: %w", errSubmitFailed, intent.ID, err)
		}
		if err := ss.repos.Payouts.SetTransferRef(ctx, intent.ID, ref); err != nil {
			return repoErr(err)
		}
		ss.metrics.Payout(string(kind), "submitted")
		ss.logger.Info("payout submitted", slog.String("payout_id", intent.ID.String()), slog.String("pool_id", poolID.String()),
			slog.String("user_id", share.UserID.String()), slog.Int64("amount", intent.Amount), slog.String("transfer_ref", ref))
	}
	return ss.markPaid(ctx, poolID, share.UserID, intent.Amount)
}

// Refund returns every confirmed stake of a pool that failed at the join
// deadline. Failed refunds are left for Repair. Safe to re-run.
func (ss *SettlementService) Refund(ctx context.Context, poolID uuid.UUID) error {
	release, err := ss.lockSettlement(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()

	pool, err := ss.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return repoErr(err)
	}
	if pool.Status != entity.PoolStatusFailed || pool.FailureKind != entity.FailureUndersubscribed {
		return errorvalues.ErrInvalidTransition
	}
	participants, err := ss.repos.Participants.ListByPool(ctx, poolID)
	if err != nil {
		return repoErr(err)
	}
	var errs []error
	for _, p := range participants {
		entry, err := ss.repos.Ledger.Get(ctx, poolID, p.UserID)
		if err != nil {
			if errors.Is(err, errorvalues.ErrEntryNotFound) {
				continue
			}
			return repoErr(err)
		}
		if entry.TransferStatus != entity.TransferConfirmed {
			continue
		}
		share := Share{Member: Member{UserID: p.UserID, Wallet: p.WalletAddress, Stake: entry.StakedAmount}, Amount: entry.StakedAmount}
		err = ss.pay(ctx, poolID, share, entity.PayoutRefund)
		if err != nil && !errors.Is(err, errPayoutFailed) {
			ss.logger.Error("refund failed", slog.String("pool_id", poolID.String()), slog.String("user_id", p.UserID.String()),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReconcilePayouts polls finality of up to limit submitted payouts. A failed
// transfer fails its pool while the pool is settling. Returns the number of payouts resolved.
func (ss *SettlementService) ReconcilePayouts(ctx context.Context, limit int) (int, error) {
	pending, err := ss.repos.Payouts.ListPending(ctx, limit)
	if err != nil {
		return 0, repoErr(err)
	}
	resolved := 0
	defer func() {
		ss.metrics.SetPendingPayouts(len(pending) - resolved)
	}()
	for _, payout := range pending {
		logger := ss.logger.With(slog.String("payout_id", payout.ID.String()), slog.String("pool_id", payout.PoolID.String()),
			slog.String("transfer_ref", payout.TransferRef))
		status, err := ss.bridge.GetTransferStatus(ctx, payout.TransferRef)
		if err != nil {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			logger.Warn("payout transfer status unavailable", slog.String("error", err.Error()))
			continue
		}
		var next entity.PayoutStatus
		switch status {
		case entity.TransferConfirmed:
			next = entity.PayoutConfirmed
		case entity.TransferFailed:
			next = entity.PayoutFailed
		default:
			continue
		}
		if err := ss.repos.Payouts.SetStatus(ctx, payout.ID, next); err != nil {
			logger.Error("recording payout finality", slog.String("error", err.Error()))
			continue
		}
		resolved++
		ss.metrics.Payout(string(payout.Kind), string(next))
		if next == entity.PayoutConfirmed {
			logger.Info("payout confirmed")
			continue
		}
		logger.Error("payout transfer failed on chain", slog.String("user_id", payout.UserID.String()), slog.Int64("amount", payout.Amount))
		if err := ss.failPool(ctx, ss.locker, payout.PoolID, "payout transfer failed on chain"); err != nil {
			logger.Error("failing pool", slog.String("error", err.Error()))
		}
	}
	return resolved, nil
}

// Repair is the manual reconciliation of a failed pool. Failed and
// unsubmitted payouts are submitted again and the pool resumes settlement or
// refunding. Only a transfer the chain reported failed gets a fresh
// idempotency key; a submission with unknown outcome is retried under its
// original key so the bridge can never send it twice.
func (ss *SettlementService) Repair(ctx context.Context, poolID uuid.UUID) error {
	release, err := ss.lockPool(ctx, ss.locker, poolID)
	if err != nil {
		return err
	}
	pool, err := ss.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		release()
		return repoErr(err)
	}
	if pool.Status != entity.PoolStatusFailed || pool.FailureKind == entity.FailureNone {
		release()
		return errorvalues.ErrInvalidTransition
	}
	if err := ss.resetPayouts(ctx, poolID); err != nil {
		release()
		return err
	}
	kind := pool.FailureKind
	if kind == entity.FailureTransfer {
		err = ss.repos.Pools.UpdateStatus(ctx, poolID, entity.PoolStatusFailed, entity.PoolStatusSettling, entity.FailureNone, "")
		if err != nil {
			release()
			if errors.Is(err, errorvalues.ErrInvalidTransition) {
				return err
			}
			return repoErr(err)
		}
		ss.metrics.PoolTransition(string(entity.PoolStatusFailed), string(entity.PoolStatusSettling))
	}
	release()
	ss.logger.Warn("pool repair", slog.String("pool_id", poolID.String()), slog.String("failure_kind", string(kind)))

	if kind == entity.FailureTransfer {
		return ss.Settle(ctx, poolID)
	}
	return ss.Refund(ctx, poolID)
}

func (ss *SettlementService) resetPayouts(ctx context.Context, poolID uuid.UUID) error {
	payouts, err := ss.repos.Payouts.ListByPool(ctx, poolID)
	if err != nil {
		return repoErr(err)
	}
	for _, p := range payouts {
		unsubmitted := p.Status == entity.PayoutSubmitting && p.TransferRef == ""
		if p.Status != entity.PayoutFailed && !unsubmitted {
			continue
		}
		if err := ss.repos.Payouts.ResetForRetry(ctx, p.ID); err != nil {
			return repoErr(err)
		}
	}
	return nil
}
