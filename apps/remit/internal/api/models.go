package api

import (
	"encoding/json"
	"time"

	"remit/apps/remit/internal/model"
)

// TransferResponse represents the settlement state of a transfer
type TransferResponse struct {
	TransferID              string     `json:"transfer_id"`
	Status                  string     `json:"status"`
	SenderCurrency          string     `json:"sender_currency"`
	SenderAmount            string     `json:"sender_amount"`
	RecipientCurrency       string     `json:"recipient_currency"`
	RecipientExpectedAmount string     `json:"recipient_expected_amount"`
	ExchangeRate            string     `json:"exchange_rate"`
	ConversionPath          string     `json:"conversion_path,omitempty"`
	HubAmount               *string    `json:"hub_amount,omitempty"`
	RateSource              *string    `json:"rate_source,omitempty"`
	TxHash                  *string    `json:"tx_hash,omitempty"`
	BlockchainTxURL         *string    `json:"blockchain_tx_url,omitempty"`
	FailureReason           *string    `json:"failure_reason,omitempty"`
	NeedsReconciliation     bool       `json:"needs_reconciliation"`
	UpdatedAt               time.Time  `json:"updated_at"`
	PaidAt                  *time.Time `json:"paid_at,omitempty"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
}

func newTransferResponse(t *model.Transfer) TransferResponse {
	response := TransferResponse{
		TransferID:              t.ID,
		Status:                  string(t.Status),
		SenderCurrency:          t.SenderCurrency,
		SenderAmount:            t.SenderAmount.String(),
		RecipientCurrency:       t.RecipientCurrency,
		RecipientExpectedAmount: t.RecipientExpectedAmount.String(),
		ExchangeRate:            t.ExchangeRate.String(),
		ConversionPath:          t.ConversionPath,
		TxHash:                  t.TxHash,
		BlockchainTxURL:         t.BlockchainTxURL,
		FailureReason:           t.FailureReason,
		NeedsReconciliation:     t.NeedsReconciliation,
		UpdatedAt:               t.UpdatedAt,
		PaidAt:                  t.PaidAt,
		CompletedAt:             t.CompletedAt,
	}
	if t.HubAmount.Valid {
		hubAmount := t.HubAmount.Decimal.String()
		response.HubAmount = &hubAmount
	}
	if t.RateSource != nil {
		source := string(*t.RateSource)
		response.RateSource = &source
	}
	return response
}

// SettleResponse is returned when a transfer has been queued
type SettleResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Queued     bool   `json:"queued"`
}

// EventResponse is one settlement event recorded for a transfer
type EventResponse struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	DeliveryStatus string          `json:"delivery_status"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CurrencyResponse describes a supported currency and its token
type CurrencyResponse struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	TokenSymbol      string `json:"token_symbol,omitempty"`
	TokenUnit        string `json:"token_unit,omitempty"`
	Decimals         int32  `json:"decimals"`
	Hub              bool   `json:"hub"`
	RequiresHubProof bool   `json:"requires_hub_proof"`
}

// HealthResponse reports the settlement runtime state
type HealthResponse struct {
	Status     string `json:"status"`
	Time       string `json:"time"`
	IssuerMode string `json:"issuer_mode"`
	QueueDepth int    `json:"queue_depth"`
	InFlight   int    `json:"in_flight"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
