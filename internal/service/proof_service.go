package service

import (
	"context"
	"errors"
	"log"
	"log/slog"

	"github.com/google/uuid"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/pkg/entity"
)

type ProofTrackerService struct {
	*machine
	locker lock.Locker
}

func NewProofTrackerService(repos Repositories, locker lock.Locker, clock Clock, logger *slog.Logger, m *metrics.Metrics) *ProofTrackerService {
	if locker == nil {
		log.Fatal("provided nil locker")
	}
	InitValidator()
	return &ProofTrackerService{
		machine: newMachine(repos, clock, logger, m),
		locker:  locker,
	}
}

// Submit records a proof for one period of the pool. Proofs of auto-verified
// pools are resolved at once, others stay pending until Resolve.
func (pts *ProofTrackerService) Submit(ctx context.Context, poolID, userID uuid.UUID, req *SubmitProofRequest) (*entity.Proof, error) {
	if err := validate.Struct(*req); err != nil {
		return nil, validationError(err)
	}
	release, err := pts.lockPool(ctx, pts.locker, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := pts.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, repoErr(err)
	}
	participant, err := pts.repos.Participants.Get(ctx, poolID, userID)
	if err != nil {
		return nil, repoErr(err)
	}
	if participant.Forfeited {
		return nil, errorvalues.ErrParticipantForfeited
	}
	if req.Period >= pool.PeriodCount() {
		return nil, errorvalues.ErrWindowClosed
	}
	now := pts.clock.Now()
	proof := &entity.Proof{
		PoolID:      poolID,
		UserID:      userID,
		Period:      req.Period,
		EvidenceRef: req.EvidenceRef,
		State:       entity.ProofPending,
		SubmittedAt: now,
	}
	if !now.Before(pool.EndTime) {
		proof.State = entity.ProofRejected
		if _, err := pts.create(ctx, proof); err != nil {
			return nil, err
		}
		return nil, errorvalues.ErrWindowClosed
	}
	if pool.Status != entity.PoolStatusActive {
		return nil, errorvalues.ErrWindowClosed
	}
	opens, closes := pool.SubmissionWindow(req.Period)
	if now.Before(opens) || now.After(closes) {
		return nil, errorvalues.ErrWindowClosed
	}
	exists, err := pts.repos.Proofs.AcceptedExists(ctx, poolID, userID, req.Period)
	if err != nil {
		return nil, repoErr(err)
	}
	if exists {
		return nil, errorvalues.ErrDuplicateSubmission
	}
	if pool.AutoVerify {
		proof.State = entity.ProofRejected
		if evidenceLooksValid(req.EvidenceRef) {
			proof.State = entity.ProofAccepted
		}
	}
	if _, err := pts.create(ctx, proof); err != nil {
		return nil, err
	}
	if proof.State == entity.ProofAccepted {
		if err := pts.updateStreak(ctx, poolID, userID); err != nil {
			return nil, err
		}
	}
	return proof, nil
}

func (pts *ProofTrackerService) create(ctx context.Context, proof *entity.Proof) (uuid.UUID, error) {
	id, err := pts.repos.Proofs.Create(ctx, proof)
	if err != nil {
		return uuid.Nil, repoErr(err)
	}
	proof.ID = id
	if proof.State != entity.ProofPending {
		proof.ResolvedAt = proof.SubmittedAt
	}
	pts.metrics.Proof(string(proof.State))
	pts.logger.Info("proof submitted", slog.String("proof_id", id.String()), slog.String("pool_id", proof.PoolID.String()),
		slog.String("user_id", proof.UserID.String()), slog.Int("period", proof.Period), slog.String("state", string(proof.State)))
	return id, nil
}

// Resolve moves a pending proof to accepted or rejected.
func (pts *ProofTrackerService) Resolve(ctx context.Context, proofID uuid.UUID, accepted bool) (*entity.Proof, error) {
	proof, err := pts.repos.Proofs.GetByID(ctx, proofID)
	if err != nil {
		return nil, repoErr(err)
	}
	release, err := pts.lockPool(ctx, pts.locker, proof.PoolID)
	if err != nil {
		return nil, err
	}
	defer release()

	state := entity.ProofRejected
	if accepted {
		state = entity.ProofAccepted
	}
	if err := pts.repos.Proofs.Resolve(ctx, proofID, state); err != nil {
		return nil, repoErr(err)
	}
	pts.metrics.Proof(string(state))
	pts.logger.Info("proof resolved", slog.String("proof_id", proofID.String()), slog.String("state", string(state)))
	if accepted {
		if err := pts.updateStreak(ctx, proof.PoolID, proof.UserID); err != nil {
			return nil, err
		}
	}
	resolved, err := pts.repos.Proofs.GetByID(ctx, proofID)
	if err != nil {
		return nil, repoErr(err)
	}
	return resolved, nil
}

func (pts *ProofTrackerService) Unresolved(ctx context.Context, poolID uuid.UUID) ([]*entity.Proof, error) {
	if _, err := pts.repos.Pools.GetByID(ctx, poolID); err != nil {
		return nil, repoErr(err)
	}
	proofs, err := pts.repos.Proofs.ListUnresolved(ctx, poolID)
	if err != nil {
		return nil, repoErr(err)
	}
	return proofs, nil
}

// ResetMissedStreaks zeroes the streak of every participant whose latest
// closed period passed without an accepted proof. Each closed period is
// checked once per participant.
func (pts *ProofTrackerService) ResetMissedStreaks(ctx context.Context, poolID uuid.UUID) (int, error) {
	pool, err := pts.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return 0, repoErr(err)
	}
	if pool.Status != entity.PoolStatusActive && pool.Status != entity.PoolStatusCompleted {
		return 0, nil
	}
	closed := pool.ClosedPeriods(pts.clock.Now())
	if closed == 0 {
		return 0, nil
	}
	participants, err := pts.repos.Participants.ListByPool(ctx, poolID)
	if err != nil {
		return 0, repoErr(err)
	}
	reset := 0
	for _, p := range participants {
		if p.Forfeited || p.StreakCheckedThrough >= closed {
			continue
		}
		periods, err := pts.acceptedPeriods(ctx, poolID, p.UserID)
		if err != nil {
			return reset, err
		}
		if Missed(periods, closed) {
			if err := pts.breakStreak(ctx, poolID, p.UserID); err != nil {
				return reset, err
			}
			reset++
			pts.logger.Info("streak reset on missed period", slog.String("pool_id", poolID.String()),
				slog.String("user_id", p.UserID.String()), slog.Int("period", closed-1))
		}
		if err := pts.repos.Participants.MarkStreakChecked(ctx, poolID, p.UserID, closed); err != nil {
			return reset, repoErr(err)
		}
	}
	return reset, nil
}

func (pts *ProofTrackerService) acceptedPeriods(ctx context.Context, poolID, userID uuid.UUID) ([]int, error) {
	proofs, err := pts.repos.Proofs.ListByParticipant(ctx, poolID, userID)
	if err != nil {
		return nil, repoErr(err)
	}
	periods := make([]int, 0, len(proofs))
	for _, p := range proofs {
		if p.State == entity.ProofAccepted {
			periods = append(periods, p.Period)
		}
	}
	return periods, nil
}

// updateStreak recounts the streak of the membership. The profile follows the
// longest streak among the user's open pools, so pools never overwrite each
// other.
func (pts *ProofTrackerService) updateStreak(ctx context.Context, poolID, userID uuid.UUID) error {
	periods, err := pts.acceptedPeriods(ctx, poolID, userID)
	if err != nil {
		return err
	}
	if err := pts.repos.Participants.SetStreak(ctx, poolID, userID, CurrentStreak(periods)); err != nil {
		return repoErr(err)
	}
	current, err := pts.openStreak(ctx, userID)
	if err != nil {
		return err
	}
	err = pts.repos.Profiles.RecordProof(ctx, userID, current)
	if err != nil {
		if errors.Is(err, errorvalues.ErrProfileNotFound) {
			return err
		}
		return repoErr(err)
	}
	return nil
}
