// Package scheduler runs the periodic sweep that moves pools through their
// lifecycle without user interaction.
package scheduler

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

const DefaultSchedule = "@every 30s"

type StakeReconciler interface {
	ReconcileStakes(ctx context.Context, limit int) (int, error)
}

type PayoutReconciler interface {
	ReconcilePayouts(ctx context.Context, limit int) (int, error)
}

type PoolAdvancer interface {
	ListOpen(ctx context.Context) ([]*entity.Pool, error)
	Advance(ctx context.Context, poolID uuid.UUID) (*entity.Pool, error)
}

type StreakKeeper interface {
	ResetMissedStreaks(ctx context.Context, poolID uuid.UUID) (int, error)
}

type Config struct {
	// Cron spec, DefaultSchedule when empty
	Schedule string
	// Chain lookups per reconciliation pass
	BatchSize int
	// Upper bound of one sweep
	Timeout time.Duration
}

// Sweeper reconciles chain finality and advances every open pool. One pool
// failing is logged and does not stop the others.
type Sweeper struct {
	stakes  StakeReconciler
	payouts PayoutReconciler
	pools   PoolAdvancer
	streaks StreakKeeper
	cfg     Config
	logger  *slog.Logger

	cron *cron.Cron
	mu   sync.Mutex
}

func NewSweeper(stakes StakeReconciler, payouts PayoutReconciler, pools PoolAdvancer, streaks StreakKeeper,
	cfg Config, logger *slog.Logger) *Sweeper {
	if stakes == nil || payouts == nil || pools == nil || streaks == nil {
		log.Fatal("on sweeper provided nil services")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		stakes:  stakes,
		payouts: payouts,
		pools:   pools,
		streaks: streaks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "sweeper")),
	}
}

// Start schedules the sweep. A run still in progress makes the next tick a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return errors.New("parsing sweep schedule error: " + err.Error())
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweeper started", slog.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("sweeper stopped")
	return nil
}

// Sweep runs one pass: stake finality, payout finality, missed streaks, then
// one Advance per open pool.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var report Report
	started := time.Now()

	moved, err := s.stakes.ReconcileStakes(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("reconciling stakes", slog.String("error", err.Error()))
	}
	report.StakesReconciled = moved

	resolved, err := s.payouts.ReconcilePayouts(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("reconciling payouts", slog.String("error", err.Error()))
	}
	report.PayoutsReconciled = resolved

	pools, err := s.pools.ListOpen(ctx)
	if err != nil {
		s.logger.Error("listing open pools", slog.String("error", err.Error()))
		return report
	}
	for _, pool := range pools {
		if ctx.Err() != nil {
			s.logger.Warn("sweep interrupted", slog.String("error", ctx.Err().Error()))
			break
		}
		s.sweepPool(ctx, pool, &report)
	}
	s.logger.Debug("sweep finished", slog.Int("pools", len(pools)), slog.Int("advanced", report.PoolsAdvanced),
		slog.Int("errors", report.Errors), slog.Duration("took", time.Since(started)))
	return report
}

func (s *Sweeper) sweepPool(ctx context.Context, pool *entity.Pool, report *Report) {
	logger := s.logger.With(slog.String("pool_id", pool.ID.String()))
	if pool.Status == entity.PoolStatusActive || pool.Status == entity.PoolStatusCompleted {
		reset, err := s.streaks.ResetMissedStreaks(ctx, pool.ID)
		if err != nil {
			report.Errors++
			logger.Error("resetting missed streaks", slog.String("error", err.Error()))
		}
		report.StreaksReset += reset
	}
	next, err := s.pools.Advance(ctx, pool.ID)
	switch {
	case err == nil:
		if next.Status != pool.Status {
			report.PoolsAdvanced++
		}
	case errors.Is(err, errorvalues.ErrLockHeld):
		logger.Debug("pool busy, skipped")
	default:
		report.Errors++
		logger.Error("advancing pool", slog.String("status", string(pool.Status)), slog.String("error", err.Error()))
	}
}

// Report sums up one sweep.
type Report struct {
	StakesReconciled  int
	PayoutsReconciled int
	StreaksReset      int
	PoolsAdvanced     int
	Errors            int
}
