package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"remit/apps/remit/internal/events"
	"remit/apps/remit/internal/model"
)

const transferColumns = `id, user_id, contact_id, status, sender_currency, sender_amount, recipient_currency,
	recipient_expected_amount, recipient_name, recipient_bank, recipient_account, exchange_rate, fee_percentage,
	fee_amount, total_amount, conversion_path, tx_hash, blockchain_tx_url, hub_amount, rate_source, failure_reason,
	needs_reconciliation, version, created_at, updated_at, paid_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type TransferRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTransferRepository(db *sql.DB, logger *zap.Logger) *TransferRepository {
	return &TransferRepository{db: db, logger: logger}
}

func scanTransfer(row rowScanner) (*model.Transfer, error) {
	var t model.Transfer
	err := row.Scan(&t.ID, &t.UserID, &t.ContactID, &t.Status, &t.SenderCurrency, &t.SenderAmount, &t.RecipientCurrency,
		&t.RecipientExpectedAmount, &t.RecipientName, &t.RecipientBank, &t.RecipientAccount, &t.ExchangeRate, &t.FeePercentage,
		&t.FeeAmount, &t.TotalAmount, &t.ConversionPath, &t.TxHash, &t.BlockchainTxURL, &t.HubAmount, &t.RateSource, &t.FailureReason,
		&t.NeedsReconciliation, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.PaidAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransferRepository) Create(ctx context.Context, t *model.Transfer) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid transfer: %w", err)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (id, user_id, contact_id, status, sender_currency, sender_amount, recipient_currency,
			recipient_expected_amount, recipient_name, recipient_bank, recipient_account, exchange_rate, fee_percentage,
			fee_amount, total_amount, conversion_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.UserID, t.ContactID, t.Status, t.SenderCurrency, t.SenderAmount, t.RecipientCurrency,
		t.RecipientExpectedAmount, t.RecipientName, t.RecipientBank, t.RecipientAccount, t.ExchangeRate, t.FeePercentage,
		t.FeeAmount, t.TotalAmount, t.ConversionPath)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	r.logger.Info("Created transfer", zap.String("transfer_id", t.ID), zap.String("status", string(t.Status)))
	return nil
}

func (r *TransferRepository) FindByID(ctx context.Context, id string) (*model.Transfer, error) {
	t, err := scanTransfer(r.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ClaimForProcessing moves a pending or paid transfer to processing when its version still
// matches. A transfer that moved on returns model.ErrStaleTransfer.
func (r *TransferRepository) ClaimForProcessing(ctx context.Context, id string, version int64) (*model.Transfer, error) {
	t, err := r.updateWithEvent(ctx, model.EventTransferProcessing, "", `
		UPDATE transfers
		SET status = 'processing', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = ANY($3)
		RETURNING `+transferColumns,
		id, version, statusArray(model.AllowedFrom(model.StatusProcessing)))
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, model.ErrStaleTransfer
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim transfer: %w", err)
	}

	r.logger.Info("Claimed transfer for processing", zap.String("transfer_id", id), zap.Int64("version", t.Version))
	return t, nil
}

// UpdateStatus applies update and moves the transfer to status in one statement guarded by
// the statuses status may be entered from. The matching outbox event is written in the same
// database transaction.
func (r *TransferRepository) UpdateStatus(ctx context.Context, id string, status model.Status, update model.StatusUpdate) (*model.Transfer, error) {
	allowed := model.AllowedFrom(status)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: nothing moves to %s", model.ErrInvalidTransition, status)
	}

	t, err := r.updateWithEvent(ctx, model.EventTypeForStatus(status), "", `
		UPDATE transfers
		SET status = $2,
			version = version + 1,
			updated_at = NOW(),
			tx_hash = COALESCE($4, tx_hash),
			blockchain_tx_url = COALESCE($5, blockchain_tx_url),
			hub_amount = COALESCE($6, hub_amount),
			recipient_expected_amount = COALESCE($7, recipient_expected_amount),
			exchange_rate = COALESCE($8, exchange_rate),
			conversion_path = COALESCE($9, conversion_path),
			rate_source = COALESCE($10, rate_source),
			failure_reason = COALESCE($11, failure_reason),
			paid_at = CASE WHEN $12 THEN NOW() ELSE paid_at END,
			completed_at = CASE WHEN $13 THEN NOW() ELSE completed_at END,
			needs_reconciliation = CASE WHEN $14 THEN FALSE ELSE needs_reconciliation END
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+transferColumns,
		id, status, statusArray(allowed),
		update.TxHash, update.ExplorerURL, update.HubAmount, update.RecipientAmount, update.ExchangeRate,
		update.ConversionPath, update.RateSource, update.FailureReason,
		status == model.StatusPaid, status == model.StatusCompleted,
		status == model.StatusCompleted || status == model.StatusFailed)
	if errors.Is(err, sql.ErrNoRows) {
		current, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Status, status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transfer status: %w", err)
	}

	r.logger.Info("Updated transfer status",
		zap.String("transfer_id", id),
		zap.String("status", string(status)),
		zap.Int64("version", t.Version))
	return t, nil
}

// RecordSubmission links the settling transaction to a transfer that is still processing.
func (r *TransferRepository) RecordSubmission(ctx context.Context, id, txHash, explorerURL string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE transfers
		SET tx_hash = $2, blockchain_tx_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, txHash, explorerURL)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: transfer %s is not processing", model.ErrInvalidTransition, id)
	}
	return nil
}

// MarkForReconciliation flags a processing transfer whose outcome is unknown. The status is left
// unchanged.
func (r *TransferRepository) MarkForReconciliation(ctx context.Context, id, reason string) (*model.Transfer, error) {
	t, err := r.updateWithEvent(ctx, model.EventTransferReconciliationRequired, reason, `
		UPDATE transfers
		SET needs_reconciliation = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+transferColumns,
		id)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("%w: transfer %s is not processing", model.ErrInvalidTransition, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark transfer for reconciliation: %w", err)
	}

	r.logger.Warn("Transfer needs reconciliation", zap.String("transfer_id", id), zap.String("reason", reason))
	return t, nil
}

// ListReconcilable returns processing transfers that were flagged or have not moved for staleAfter.
func (r *TransferRepository) ListReconcilable(ctx context.Context, staleAfter time.Duration, limit int) ([]*model.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE status = 'processing'
			AND (needs_reconciliation OR updated_at < NOW() - make_interval(secs => $1))
		ORDER BY updated_at
		LIMIT $2
	`, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconcilable transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*model.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}

	return transfers, nil
}

// updateWithEvent runs an UPDATE ... RETURNING and stores the outbox event for the resulting row
// in the same transaction. sql.ErrNoRows is returned unwrapped when no row matched.
func (r *TransferRepository) updateWithEvent(ctx context.Context, eventType, reason, query string, args ...any) (*model.Transfer, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	t, err := scanTransfer(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	if err := insertOutboxEvent(ctx, tx, eventType, t, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer update: %w", err)
	}
	return t, nil
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, eventType string, t *model.Transfer, reason string) error {
	eventID := uuid.New().String()
	payload, err := json.Marshal(events.NewSettlementEvent(eventID, eventType, t, reason))
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_outbox (id, transfer_id, event_type, status, payload)
		VALUES ($1, $2, $3, 'unsent', $4)
	`, eventID, t.ID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

func statusArray(statuses []model.Status) any {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return pq.Array(values)
}
