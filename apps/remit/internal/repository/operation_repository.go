package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"remit/apps/remit/internal/model"
)

// OperationRepository is the append-only log of blockchain operations issued during settlement.
type OperationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOperationRepository(db *sql.DB, logger *zap.Logger) *OperationRepository {
	return &OperationRepository{db: db, logger: logger}
}

func (r *OperationRepository) Append(ctx context.Context, op model.OperationRecord) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settlement_operations (id, transfer_id, kind, from_symbol, to_symbol, from_amount, to_amount, burn_tx_hash, tx_hash, policy_id, mode, rate_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, op.ID, op.TransferID, op.Kind, op.FromSymbol, op.ToSymbol, op.FromAmount, op.ToAmount, op.BurnTxHash, op.TxHash, op.PolicyID, op.Mode, op.RateSource)
	if err != nil {
		return fmt.Errorf("failed to append settlement operation: %w", err)
	}

	r.logger.Info("Recorded settlement operation",
		zap.String("transfer_id", op.TransferID),
		zap.String("kind", string(op.Kind)),
		zap.String("tx_hash", op.TxHash),
		zap.String("mode", op.Mode))
	return nil
}

func (r *OperationRepository) ListByTransfer(ctx context.Context, transferID string) ([]model.OperationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transfer_id, kind, from_symbol, to_symbol, from_amount, to_amount, burn_tx_hash, tx_hash, policy_id, mode, rate_source, created_at
		FROM settlement_operations
		WHERE transfer_id = $1
		ORDER BY created_at
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement operations: %w", err)
	}
	defer rows.Close()

	var ops []model.OperationRecord
	for rows.Next() {
		var op model.OperationRecord
		if err := rows.Scan(&op.ID, &op.TransferID, &op.Kind, &op.FromSymbol, &op.ToSymbol, &op.FromAmount, &op.ToAmount,
			&op.BurnTxHash, &op.TxHash, &op.PolicyID, &op.Mode, &op.RateSource, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlement operations: %w", err)
	}

	return ops, nil
}
