package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/confirmation"
	"remit/apps/remit/internal/conversion"
	"remit/apps/remit/internal/model"
)

const batchSize = 100

type Store interface {
	ListReconcilable(ctx context.Context, staleAfter time.Duration, limit int) ([]*model.Transfer, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, update model.StatusUpdate) (*model.Transfer, error)
}

type OperationReader interface {
	ListByTransfer(ctx context.Context, transferID string) ([]model.OperationRecord, error)
}

const defaultInterval = 30 * time.Second

// Reconciler resolves transfers left processing after their confirmation wait ran out, by
// asking the chain what became of the linked transaction.
type Reconciler struct {
	store      Store
	operations OperationReader
	status     confirmation.ChainStatus
	registry   *assets.Registry
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
}

func NewReconciler(store Store, operations OperationReader, status confirmation.ChainStatus, registry *assets.Registry,
	interval, staleAfter time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reconciler{
		store:      store,
		operations: operations,
		status:     status,
		registry:   registry,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start runs a reconciliation pass every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting settlement reconciler",
		zap.Duration("interval", r.interval),
		zap.Duration("stale_after", r.staleAfter))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolved, err := r.ReconcileOnce(ctx)
			if err != nil {
				r.logger.Error("Error reconciling transfers", zap.Error(err))
				continue
			}
			if resolved > 0 {
				r.logger.Info("Reconciled transfers", zap.Int("resolved", resolved))
			}
		}
	}
}

// ReconcileOnce checks every reconcilable transfer once and returns how many reached a
// terminal status.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	transfers, err := r.store.ListReconcilable(ctx, r.staleAfter, batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, t := range transfers {
		done, err := r.reconcile(ctx, t)
		if err != nil {
			r.logger.Error("Failed to reconcile transfer", zap.String("transfer_id", t.ID), zap.Error(err))
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

func (r *Reconciler) reconcile(ctx context.Context, t *model.Transfer) (bool, error) {
	if t.TxHash == nil {
		r.logger.Warn("Processing transfer has no settling transaction, needs manual review",
			zap.String("transfer_id", t.ID),
			zap.Time("updated_at", t.UpdatedAt))
		return false, nil
	}

	state, err := r.status.Status(ctx, *t.TxHash)
	if err != nil {
		return false, fmt.Errorf("failed to check tx %s: %w", *t.TxHash, err)
	}

	switch state {
	case confirmation.TxConfirmed:
		update, err := r.completionUpdate(ctx, t)
		if err != nil {
			return false, err
		}
		if _, err := r.store.UpdateStatus(ctx, t.ID, model.StatusCompleted, update); err != nil {
			return false, fmt.Errorf("failed to complete transfer: %w", err)
		}
		r.logger.Info("Reconciled transfer as completed", zap.String("transfer_id", t.ID), zap.String("tx_hash", *t.TxHash))
		return true, nil

	case confirmation.TxReverted:
		reason := fmt.Sprintf("settling transaction %s reverted", *t.TxHash)
		if _, err := r.store.UpdateStatus(ctx, t.ID, model.StatusFailed, model.StatusUpdate{FailureReason: &reason}); err != nil {
			return false, fmt.Errorf("failed to fail transfer: %w", err)
		}
		r.logger.Warn("Reconciled transfer as failed", zap.String("transfer_id", t.ID), zap.String("tx_hash", *t.TxHash))
		return true, nil
	}

	r.logger.Info("Settling transaction still pending", zap.String("transfer_id", t.ID), zap.String("tx_hash", *t.TxHash))
	return false, nil
}

// completionUpdate rebuilds the settled amounts from the operation that issued the linked
// transaction.
func (r *Reconciler) completionUpdate(ctx context.Context, t *model.Transfer) (model.StatusUpdate, error) {
	var update model.StatusUpdate

	ops, err := r.operations.ListByTransfer(ctx, t.ID)
	if err != nil {
		return update, fmt.Errorf("failed to load settlement operations: %w", err)
	}

	for _, op := range ops {
		if op.TxHash != *t.TxHash {
			continue
		}

		currency, exists := r.registry.BySymbol(op.ToSymbol)
		if !exists {
			return update, fmt.Errorf("operation mints unknown token %s", op.ToSymbol)
		}
		units, err := decimal.NewFromString(op.ToAmount)
		if err != nil {
			return update, fmt.Errorf("invalid minted amount %q: %w", op.ToAmount, err)
		}

		amount := conversion.FromSmallestUnit(units.BigInt(), currency.Decimals)
		if currency.Code == t.RecipientCurrency {
			update.RecipientAmount = &amount
		} else {
			update.HubAmount = &amount
		}
		source := op.RateSource
		update.RateSource = &source
		return update, nil
	}

	r.logger.Warn("No operation recorded for settling transaction",
		zap.String("transfer_id", t.ID),
		zap.String("tx_hash", *t.TxHash))
	return update, nil
}
