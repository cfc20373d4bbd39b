package events

import (
	"time"

	"remit/apps/remit/internal/model"
)

const (
	TransferCreated = "transfer.created"
	TransferPaid    = "transfer.paid"
)

// TransferEvent is consumed from the transfer topic to trigger settlement.
type TransferEvent struct {
	EventType  string    `json:"event_type"`
	TransferID string    `json:"transfer_id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// SettlementEvent is published for every settlement status change.
type SettlementEvent struct {
	EventID             string    `json:"event_id"`
	EventType           string    `json:"event_type"`
	TransferID          string    `json:"transfer_id"`
	Status              string    `json:"status"`
	SenderCurrency      string    `json:"sender_currency"`
	SenderAmount        string    `json:"sender_amount"`
	RecipientCurrency   string    `json:"recipient_currency"`
	RecipientAmount     string    `json:"recipient_amount"`
	ExchangeRate        string    `json:"exchange_rate"`
	ConversionPath      string    `json:"conversion_path,omitempty"`
	RateSource          string    `json:"rate_source,omitempty"`
	TxHash              string    `json:"tx_hash,omitempty"`
	BlockchainTxURL     string    `json:"blockchain_tx_url,omitempty"`
	FailureReason       string    `json:"failure_reason,omitempty"`
	NeedsReconciliation bool      `json:"needs_reconciliation"`
	Timestamp           time.Time `json:"timestamp"`
}

// NewSettlementEvent snapshots t for the given event type.
func NewSettlementEvent(eventID, eventType string, t *model.Transfer, reason string) SettlementEvent {
	event := SettlementEvent{
		EventID:             eventID,
		EventType:           eventType,
		TransferID:          t.ID,
		Status:              string(t.Status),
		SenderCurrency:      t.SenderCurrency,
		SenderAmount:        t.SenderAmount.String(),
		RecipientCurrency:   t.RecipientCurrency,
		RecipientAmount:     t.RecipientExpectedAmount.String(),
		ExchangeRate:        t.ExchangeRate.String(),
		ConversionPath:      t.ConversionPath,
		NeedsReconciliation: t.NeedsReconciliation,
		FailureReason:       reason,
		Timestamp:           t.UpdatedAt,
	}
	if t.RateSource != nil {
		event.RateSource = string(*t.RateSource)
	}
	if t.TxHash != nil {
		event.TxHash = *t.TxHash
	}
	if t.BlockchainTxURL != nil {
		event.BlockchainTxURL = *t.BlockchainTxURL
	}
	if reason == "" && t.FailureReason != nil {
		event.FailureReason = *t.FailureReason
	}
	return event
}
