package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"remit/apps/remit/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// GetUnsentEventsForProcessing claims up to limit unsent events by moving them to 'processing'.
// Rows locked by another publisher are skipped.
func (r *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	rows, err := tx.QueryContext(ctx, `
		SELECT id, transfer_id, event_type, status, payload, created_at
		FROM settlement_outbox
		WHERE status = 'unsent'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	var ids []string
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.ID, &event.TransferID, &event.EventType, &event.Status, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
		ids = append(ids, event.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE settlement_outbox
		SET status = 'processing'
		WHERE id = ANY($1) AND status = 'unsent'
	`, pq.Array(ids)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *OutboxRepository) MarkEventAsSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE settlement_outbox
		SET status = 'sent'
		WHERE id = $1
	`, id)
	return err
}

// MarkEventAsFailed returns a claimed event to 'unsent' so the next pass retries it.
func (r *OutboxRepository) MarkEventAsFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE settlement_outbox
		SET status = 'unsent'
		WHERE id = $1 AND status = 'processing'
	`, id)
	return err
}

// ListByTransfer returns every event recorded for a transfer, oldest first.
func (r *OutboxRepository) ListByTransfer(ctx context.Context, transferID string) ([]model.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transfer_id, event_type, status, payload, created_at
		FROM settlement_outbox
		WHERE transfer_id = $1
		ORDER BY created_at
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox events: %w", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.ID, &event.TransferID, &event.EventType, &event.Status, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}

	return events, nil
}
