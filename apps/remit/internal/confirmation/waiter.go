package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxReverted  TxState = "reverted"
)

var (
	ErrReverted = errors.New("transaction reverted")
	// ErrStatusUnavailable means no status check succeeded before the deadline.
	ErrStatusUnavailable = errors.New("transaction status unavailable")
)

// ChainStatus reports the finality state of a submitted transaction.
type ChainStatus interface {
	Status(ctx context.Context, txHash string) (TxState, error)
}

// Waiter polls a ChainStatus until a transaction is final or a deadline passes.
type Waiter struct {
	status       ChainStatus
	pollInterval time.Duration
	logger       *zap.Logger
}

const defaultPollInterval = 5 * time.Second

func NewWaiter(status ChainStatus, pollInterval time.Duration, logger *zap.Logger) *Waiter {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Waiter{status: status, pollInterval: pollInterval, logger: logger}
}

// AwaitConfirmation returns true once txHash is confirmed, false with a nil error when
// maxWait elapses first, and ctx.Err() when the caller's context ends.
func (w *Waiter) AwaitConfirmation(ctx context.Context, txHash string, maxWait time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	succeeded := false
	var lastErr error

	for {
		state, err := w.status.Status(waitCtx, txHash)
		switch {
		case err != nil:
			lastErr = err
			if waitCtx.Err() == nil {
				w.logger.Warn("Failed to check transaction status", zap.String("tx_hash", txHash), zap.Error(err))
			}
		case state == TxConfirmed:
			w.logger.Info("Transaction confirmed", zap.String("tx_hash", txHash))
			return true, nil
		case state == TxReverted:
			return false, fmt.Errorf("%s: %w", txHash, ErrReverted)
		default:
			succeeded = true
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if !succeeded && lastErr != nil {
				return false, fmt.Errorf("%w: %v", ErrStatusUnavailable, lastErr)
			}
			w.logger.Warn("Timed out waiting for confirmation", zap.String("tx_hash", txHash), zap.Duration("max_wait", maxWait))
			return false, nil
		case <-ticker.C:
		}
	}
}
