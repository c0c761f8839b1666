package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbo/stakepool/internal/chain"
	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/internal/repository/memory"
	"github.com/limbo/stakepool/internal/scheduler"
	"github.com/limbo/stakepool/internal/service"
	"github.com/limbo/stakepool/pkg/entity"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type reconcilerStub struct {
	n   int
	err error
}

func (r reconcilerStub) ReconcileStakes(context.Context, int) (int, error)  { return r.n, r.err }
func (r reconcilerStub) ReconcilePayouts(context.Context, int) (int, error) { return r.n, r.err }

type poolsStub struct {
	pools   []*entity.Pool
	listErr error
	next    map[uuid.UUID]entity.PoolStatus
	errs    map[uuid.UUID]error
	calls   []uuid.UUID
}

func (p *poolsStub) ListOpen(context.Context) ([]*entity.Pool, error) {
	return p.pools, p.listErr
}

func (p *poolsStub) Advance(_ context.Context, id uuid.UUID) (*entity.Pool, error) {
	p.calls = append(p.calls, id)
	if err := p.errs[id]; err != nil {
		return nil, err
	}
	return &entity.Pool{ID: id, Status: p.next[id]}, nil
}

type streaksStub struct {
	checked []uuid.UUID
}

func (s *streaksStub) ResetMissedStreaks(_ context.Context, id uuid.UUID) (int, error) {
	s.checked = append(s.checked, id)
	return 1, nil
}

func TestSweepIsolatesPoolErrors(t *testing.T) {
	broken := &entity.Pool{ID: uuid.New(), Status: entity.PoolStatusFilling}
	busy := &entity.Pool{ID: uuid.New(), Status: entity.PoolStatusSettling}
	active := &entity.Pool{ID: uuid.New(), Status: entity.PoolStatusActive}
	pools := &poolsStub{
		pools: []*entity.Pool{broken, busy, active},
		next:  map[uuid.UUID]entity.PoolStatus{active.ID: entity.PoolStatusCompleted},
		errs: map[uuid.UUID]error{
			broken.ID: errors.New("db error"),
			busy.ID:   errorvalues.ErrLockHeld,
		},
	}
	streaks := &streaksStub{}
	sweeper := scheduler.NewSweeper(reconcilerStub{n: 2}, reconcilerStub{err: errors.New("rpc down")}, pools, streaks,
		scheduler.Config{}, discard)

	report := sweeper.Sweep(context.Background())
	assert.Equal(t, []uuid.UUID{broken.ID, busy.ID, active.ID}, pools.calls)
	assert.Equal(t, []uuid.UUID{active.ID}, streaks.checked)
	assert.Equal(t, scheduler.Report{
		StakesReconciled: 2,
		StreaksReset:     1,
		PoolsAdvanced:    1,
		Errors:           1,
	}, report)
}

func TestSweepStopsWithoutPoolList(t *testing.T) {
	pools := &poolsStub{listErr: errors.New("db error")}
	sweeper := scheduler.NewSweeper(reconcilerStub{n: 1}, reconcilerStub{n: 3}, pools, &streaksStub{}, scheduler.Config{}, discard)
	report := sweeper.Sweep(context.Background())
	assert.Equal(t, 1, report.StakesReconciled)
	assert.Equal(t, 3, report.PayoutsReconciled)
	assert.Empty(t, pools.calls)
}

func TestStartStop(t *testing.T) {
	bad := scheduler.NewSweeper(reconcilerStub{}, reconcilerStub{}, &poolsStub{}, &streaksStub{},
		scheduler.Config{Schedule: "every now and then"}, discard)
	assert.Error(t, bad.Start())

	sweeper := scheduler.NewSweeper(reconcilerStub{}, reconcilerStub{}, &poolsStub{}, &streaksStub{},
		scheduler.Config{Schedule: "@every 1h"}, discard)
	require.NoError(t, sweeper.Start())
	assert.Error(t, sweeper.Start())
	assert.NoError(t, sweeper.Stop())
	assert.NoError(t, sweeper.Stop())
}

func TestSweepDrivesPoolToSettlement(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	store := memory.New()
	repos := service.Repositories{
		Pools:        store.Pools(),
		Participants: store.Participants(),
		Ledger:       store.Ledger(),
		Proofs:       store.Proofs(),
		Profiles:     store.Profiles(),
		Payouts:      store.Payouts(),
	}
	sim := chain.NewSimulatedBridge()
	clock := service.NewManualClock(start.Add(-time.Hour))
	locker := lock.NewMemoryLocker()
	m := metrics.New()
	ledger := service.NewStakeLedgerService(store.Ledger(), sim, discard)
	proofs := service.NewProofTrackerService(repos, locker, clock, discard, m)
	settlement := service.NewSettlementService(repos, sim, locker, clock, discard, m)
	pools := service.NewPoolsService(repos, ledger, settlement, locker, clock, discard, m)
	sweeper := scheduler.NewSweeper(ledger, settlement, pools, proofs, scheduler.Config{}, discard)

	pool, err := pools.CreatePool(ctx, uuid.New(), &service.CreatePoolRequest{
		Title:           "ship daily",
		Category:        string(entity.CategoryCoding),
		StakeAmount:     10,
		MinParticipants: 2,
		StartTime:       start,
		EndTime:         start.Add(3 * day),
		JoinDeadline:    start,
		PeriodSeconds:   int64(day / time.Second),
		GraceSeconds:    3600,
		AutoVerify:      true,
	})
	require.NoError(t, err)
	users := []uuid.UUID{uuid.New(), uuid.New()}
	for i, uid := range users {
		ref := "0xstake-" + uid.String()
		sim.Deposit(ref, 10, entity.TransferConfirmed)
		_, err := pools.Join(ctx, pool.ID, uid, &service.JoinRequest{TransferRef: ref, WalletAddress: fmt.Sprintf("0x%040x", i+1)})
		require.NoError(t, err)
	}

	clock.Set(start)
	report := sweeper.Sweep(ctx)
	assert.Equal(t, 2, report.StakesReconciled)
	assert.Equal(t, 1, report.PoolsAdvanced)

	for period := 0; period < 3; period++ {
		clock.Set(start.Add(time.Duration(period)*day + time.Hour))
		_, err := proofs.Submit(ctx, pool.ID, users[0], &service.SubmitProofRequest{
			Period:      period,
			EvidenceRef: fmt.Sprintf("https://proofs.example.com/%d", period),
		})
		require.NoError(t, err)
	}

	clock.Set(pool.EndTime)
	report = sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.StreaksReset)
	report = sweeper.Sweep(ctx)
	assert.Zero(t, report.Errors)
	report = sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.PayoutsReconciled)

	settled, err := store.Pools().GetByID(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PoolStatusSettled, settled.Status)
	assert.Equal(t, int64(20), sim.Sent(fmt.Sprintf("0x%040x", 1)))

	report = sweeper.Sweep(ctx)
	assert.Equal(t, scheduler.Report{}, report)
}
