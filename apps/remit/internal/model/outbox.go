package model

import (
	"encoding/json"
	"time"
)

const (
	EventTransferProcessing             = "transfer.processing"
	EventTransferCompleted              = "transfer.completed"
	EventTransferFailed                 = "transfer.failed"
	EventTransferCancelled              = "transfer.cancelled"
	EventTransferPaid                   = "transfer.paid"
	EventTransferReconciliationRequired = "transfer.reconciliation_required"
)

type OutboxEvent struct {
	ID         string          `db:"id"`
	TransferID string          `db:"transfer_id"`
	EventType  string          `db:"event_type"`
	Status     string          `db:"status"`
	Payload    json.RawMessage `db:"payload"`
	CreatedAt  time.Time       `db:"created_at"`
}

// EventTypeForStatus maps a status change to the outbox event type announcing it.
func EventTypeForStatus(status Status) string {
	return "transfer." + string(status)
}
