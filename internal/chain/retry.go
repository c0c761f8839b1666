package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/entity"
)

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Called before every retry with the failed operation name
	OnRetry func(op string)
}

// RetryingBridge retries transient bridge failures with bounded exponential
// backoff. Exhausted retries surface as ErrTransferTimeout.
type RetryingBridge struct {
	inner  ChainBridge
	cfg    RetryConfig
	logger *slog.Logger
}

var _ ChainBridge = (*RetryingBridge)(nil)

func NewRetryingBridge(inner ChainBridge, cfg RetryConfig, logger *slog.Logger) *RetryingBridge {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingBridge{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
	}
}

func (rb *RetryingBridge) SubmitTransfer(ctx context.Context, t Transfer) (string, error) {
	var ref string
	err := rb.do(ctx, "submit_transfer", func() error {
		var err error
		ref, err = rb.inner.SubmitTransfer(ctx, t)
		return err
	})
	return ref, err
}

func (rb *RetryingBridge) GetTransferStatus(ctx context.Context, ref string) (entity.TransferStatus, error) {
	var status entity.TransferStatus
	err := rb.do(ctx, "transfer_status", func() error {
		var err error
		status, err = rb.inner.GetTransferStatus(ctx, ref)
		return err
	})
	return status, err
}

func (rb *RetryingBridge) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := rb.do(ctx, "balance", func() error {
		var err error
		balance, err = rb.inner.GetBalance(ctx, address)
		return err
	})
	return balance, err
}

func (rb *RetryingBridge) do(ctx context.Context, op string, f func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = rb.cfg.InitialInterval
	exp.MaxInterval = rb.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(rb.cfg.MaxAttempts-1)), ctx)

	var last error
	err := backoff.RetryNotify(func() error {
		err := f()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		last = err
		return err
	}, policy, func(err error, wait time.Duration) {
		rb.logger.Warn("chain call failed, retrying", slog.String("op", op), slog.Duration("wait", wait), slog.String("error", err.Error()))
		if rb.cfg.OnRetry != nil {
			rb.cfg.OnRetry(op)
		}
	})
	if err == nil || permanent(err) {
		return err
	}
	if last == nil {
		last = err
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", errorvalues.ErrTransferTimeout, op, rb.cfg.MaxAttempts, last)
}

func permanent(err error) bool {
	return errors.Is(err, errorvalues.ErrTransferRejected) ||
		errors.Is(err, errorvalues.ErrTransferNotFound) ||
		errors.Is(err, context.Canceled)
}
