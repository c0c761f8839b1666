package service

import (
	"context"
	"errors"
	"log"
	"log/slog"

	"github.com/google/uuid"

	"github.com/limbo/stakepool/internal/chain"
	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/pkg/entity"
)

// StakeLedgerService keeps stake entries in line with transfer finality on
// chain.
type StakeLedgerService struct {
	ledger repository.LedgerRepositoryI
	bridge chain.ChainBridge
	logger *slog.Logger
}

func NewStakeLedgerService(ledger repository.LedgerRepositoryI, bridge chain.ChainBridge, logger *slog.Logger) *StakeLedgerService {
	if ledger == nil {
		log.Fatal("provided nil ledgerRepo")
	}
	if bridge == nil {
		log.Fatal("provided nil chain bridge")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StakeLedgerService{
		ledger: ledger,
		bridge: bridge,
		logger: logger,
	}
}

func (sls *StakeLedgerService) RecordStake(ctx context.Context, poolID, userID uuid.UUID, amount int64, transferRef string) error {
	err := sls.ledger.RecordStake(ctx, &entity.StakeLedgerEntry{
		PoolID:       poolID,
		UserID:       userID,
		StakedAmount: amount,
		TransferRef:  transferRef,
	})
	if err != nil {
		return repoErr(err)
	}
	return nil
}

func (sls *StakeLedgerService) TotalConfirmed(ctx context.Context, poolID uuid.UUID) (int64, error) {
	total, err := sls.ledger.TotalConfirmed(ctx, poolID)
	if err != nil {
		return 0, repoErr(err)
	}
	return total, nil
}

func (sls *StakeLedgerService) MarkPaid(ctx context.Context, poolID, userID uuid.UUID, amount int64) error {
	if amount < 0 {
		return errorvalues.ErrValidation
	}
	if err := sls.ledger.MarkPaid(ctx, poolID, userID, amount); err != nil {
		return repoErr(err)
	}
	return nil
}

// ReconcileStakes polls the chain for up to limit unconfirmed stakes and
// records the ones that reached finality. Returns the number of entries moved.
func (sls *StakeLedgerService) ReconcileStakes(ctx context.Context, limit int) (int, error) {
	entries, err := sls.ledger.ListUnconfirmed(ctx, limit)
	if err != nil {
		return 0, repoErr(err)
	}
	moved := 0
	for _, entry := range entries {
		logger := sls.logger.With(slog.String("pool_id", entry.PoolID.String()), slog.String("user_id", entry.UserID.String()),
			slog.String("transfer_ref", entry.TransferRef))
		status, err := sls.bridge.GetTransferStatus(ctx, entry.TransferRef)
		if err != nil {
			if ctx.Err() != nil {
				return moved, ctx.Err()
			}
			logger.Warn("stake transfer status unavailable", slog.String("error", err.Error()))
			continue
		}
		if status == entity.TransferUnconfirmed {
			continue
		}
		err = sls.ledger.SetTransferStatus(ctx, entry.PoolID, entry.UserID, status)
		if err != nil {
			// Restaked or already moved since listing
			if errors.Is(err, errorvalues.ErrEntryNotFound) {
				continue
			}
			logger.Error("recording stake finality", slog.String("error", err.Error()))
			continue
		}
		moved++
		logger.Info("stake transfer final", slog.String("status", string(status)))
	}
	return moved, nil
}
