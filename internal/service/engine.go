package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/pkg/entity"
)

const (
	poolLockTTL   = 30 * time.Second
	settleLockTTL = 5 * time.Minute
)

// Repositories groups the ledger store views every service works on.
type Repositories struct {
	Pools        repository.PoolsRepositoryI
	Participants repository.ParticipantsRepositoryI
	Ledger       repository.LedgerRepositoryI
	Proofs       repository.ProofsRepositoryI
	Profiles     repository.ProfilesRepositoryI
	Payouts      repository.PayoutsRepositoryI
}

func (r Repositories) mustBeComplete() {
	if r.Pools == nil || r.Participants == nil || r.Ledger == nil || r.Proofs == nil || r.Profiles == nil || r.Payouts == nil {
		log.Fatal("provided incomplete repositories")
	}
}

func repoErr(err error) error {
	return fmt.Errorf("repository error: %w", err)
}

// machine loads pool snapshots and applies state machine decisions. Callers
// hold the pool lock.
type machine struct {
	repos   Repositories
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newMachine(repos Repositories, clock Clock, logger *slog.Logger, m *metrics.Metrics) *machine {
	repos.mustBeComplete()
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &machine{repos: repos, clock: clock, logger: logger, metrics: m}
}

func (m *machine) lockPool(ctx context.Context, locker lock.Locker, id uuid.UUID) (func(), error) {
	release, err := locker.Acquire(ctx, lock.PoolKey(id.String()), poolLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring pool lock: %w", err)
	}
	return release, nil
}

// openStreak is the longest running streak among the user's open memberships.
func (m *machine) openStreak(ctx context.Context, userID uuid.UUID) (int, error) {
	streaks, err := m.repos.Participants.OpenStreaks(ctx, userID)
	if err != nil {
		return 0, repoErr(err)
	}
	current := 0
	for _, s := range streaks {
		current = max(current, s)
	}
	return current, nil
}

// breakStreak zeroes the streak of one membership and recomputes the profile
// streak from the memberships left.
func (m *machine) breakStreak(ctx context.Context, poolID, userID uuid.UUID) error {
	if err := m.repos.Participants.SetStreak(ctx, poolID, userID, 0); err != nil {
		return repoErr(err)
	}
	current, err := m.openStreak(ctx, userID)
	if err != nil {
		return err
	}
	if err := m.repos.Profiles.SetStreak(ctx, userID, current); err != nil {
		return repoErr(err)
	}
	return nil
}

func (m *machine) snapshot(ctx context.Context, pool *entity.Pool) (*Snapshot, error) {
	s := &Snapshot{Pool: *pool, AllPaid: true, PayoutsConfirmed: true}
	participants, err := m.repos.Participants.ListByPool(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	entries, err := m.repos.Ledger.ListByPool(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	unresolved, err := m.repos.Proofs.ListUnresolved(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	payouts, err := m.repos.Payouts.ListByPool(ctx, pool.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	s.PendingProofs = len(unresolved)

	forfeited := make(map[uuid.UUID]bool, len(participants))
	for _, p := range participants {
		forfeited[p.UserID] = p.Forfeited
	}
	failedPayout := make(map[uuid.UUID]bool, len(payouts))
	for _, p := range payouts {
		switch p.Status {
		case entity.PayoutFailed:
			failedPayout[p.UserID] = true
			s.PayoutFailed = true
			s.PayoutsConfirmed = false
		case entity.PayoutSubmitting:
			s.PayoutsToSubmit = true
			s.PayoutsConfirmed = false
		case entity.PayoutPending:
			s.PayoutsConfirmed = false
		}
	}
	for _, e := range entries {
		switch e.TransferStatus {
		case entity.TransferUnconfirmed:
			s.UnconfirmedStakes++
		case entity.TransferConfirmed:
			if !forfeited[e.UserID] {
				s.ConfirmedParticipants++
			}
			if !e.Paid {
				s.AllPaid = false
				if !failedPayout[e.UserID] {
					s.RefundsOutstanding = true
				}
			}
		}
	}
	if s.PayoutsToSubmit {
		s.RefundsOutstanding = true
	}
	return s, nil
}

// decide loads the snapshot of the pool and applies the resulting transition.
func (m *machine) decide(ctx context.Context, pool *entity.Pool) (Decision, error) {
	s, err := m.snapshot(ctx, pool)
	if err != nil {
		return Decision{}, err
	}
	d := Advance(s, m.clock.Now())
	if d.Next == pool.Status {
		return d, nil
	}
	if err := m.apply(ctx, pool, d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// apply persists the transition with a compare-and-set on the pool status.
func (m *machine) apply(ctx context.Context, pool *entity.Pool, d Decision) error {
	from := pool.Status
	var err error
	if d.Next == entity.PoolStatusSettled {
		var awards []entity.SettlementAward
		awards, err = m.awards(ctx, pool.ID)
		if err != nil {
			return err
		}
		err = m.repos.Pools.CompleteSettlement(ctx, pool.ID, awards)
	} else {
		err = m.repos.Pools.UpdateStatus(ctx, pool.ID, from, d.Next, d.FailureKind, d.Reason)
	}
	if err != nil {
		if errors.Is(err, errorvalues.ErrInvalidTransition) {
			return err
		}
		return repoErr(err)
	}
	pool.Status = d.Next
	pool.FailureKind = d.FailureKind
	pool.FailureReason = d.Reason
	m.metrics.PoolTransition(string(from), string(d.Next))
	if d.Next == entity.PoolStatusFailed {
		if d.FailureKind == entity.FailureTransfer {
			m.metrics.SettlementFailure()
		}
		m.logger.Error("pool failed", slog.String("pool_id", pool.ID.String()), slog.String("from", string(from)),
			slog.String("failure_kind", string(d.FailureKind)), slog.String("reason", d.Reason))
		return nil
	}
	m.logger.Info("pool transition", slog.String("pool_id", pool.ID.String()), slog.String("from", string(from)), slog.String("to", string(d.Next)))
	return nil
}

func (m *machine) awards(ctx context.Context, poolID uuid.UUID) ([]entity.SettlementAward, error) {
	payouts, err := m.repos.Payouts.ListByPool(ctx, poolID)
	if err != nil {
		return nil, repoErr(err)
	}
	awards := make([]entity.SettlementAward, 0, len(payouts))
	for _, p := range payouts {
		if p.Kind == entity.PayoutWinnings {
			awards = append(awards, entity.SettlementAward{UserID: p.UserID, Amount: p.Amount})
		}
	}
	return awards, nil
}

// failPool moves a settling pool to failed after an irrecoverable transfer
// error. Losing the race to another transition is not an error.
func (m *machine) failPool(ctx context.Context, locker lock.Locker, poolID uuid.UUID, reason string) error {
	release, err := m.lockPool(ctx, locker, poolID)
	if err != nil {
		return err
	}
	defer release()
	pool, err := m.repos.Pools.GetByID(ctx, poolID)
	if err != nil {
		return repoErr(err)
	}
	if pool.Status != entity.PoolStatusSettling {
		return nil
	}
	err = m.apply(ctx, pool, Decision{Next: entity.PoolStatusFailed, FailureKind: entity.FailureTransfer, Reason: reason})
	if errors.Is(err, errorvalues.ErrInvalidTransition) {
		return nil
	}
	return err
}
