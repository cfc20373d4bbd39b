package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrStaleTransfer     = errors.New("transfer was modified concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists, for every target status, the statuses it may be entered from.
var transitions = map[Status][]Status{
	StatusPaid:       {StatusPending},
	StatusProcessing: {StatusPending, StatusPaid},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusCancelled:  {StatusPending, StatusPaid},
}

// AllowedFrom returns the statuses from which target can be reached.
func AllowedFrom(target Status) []Status {
	return transitions[target]
}

// Settleable reports whether settlement may start from this status.
func (s Status) Settleable() bool {
	return s == StatusPending || s == StatusPaid
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type RateSource string

const (
	RateSourceLive   RateSource = "live"
	RateSourceStatic RateSource = "static"
)

type Transfer struct {
	ID        string  `db:"id" json:"id"`
	UserID    *string `db:"user_id" json:"user_id,omitempty"`
	ContactID string  `db:"contact_id" json:"contact_id"`
	Status    Status  `db:"status" json:"status"`

	SenderCurrency          string          `db:"sender_currency" json:"sender_currency"`
	SenderAmount            decimal.Decimal `db:"sender_amount" json:"sender_amount"`
	RecipientCurrency       string          `db:"recipient_currency" json:"recipient_currency"`
	RecipientExpectedAmount decimal.Decimal `db:"recipient_expected_amount" json:"recipient_expected_amount"`
	RecipientName           string          `db:"recipient_name" json:"recipient_name"`
	RecipientBank           string          `db:"recipient_bank" json:"recipient_bank"`
	RecipientAccount        string          `db:"recipient_account" json:"recipient_account"`

	ExchangeRate   decimal.Decimal `db:"exchange_rate" json:"exchange_rate"`
	FeePercentage  decimal.Decimal `db:"fee_percentage" json:"fee_percentage"`
	FeeAmount      decimal.Decimal `db:"fee_amount" json:"fee_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	ConversionPath string          `db:"conversion_path" json:"conversion_path"`

	TxHash              *string             `db:"tx_hash" json:"tx_hash,omitempty"`
	BlockchainTxURL     *string             `db:"blockchain_tx_url" json:"blockchain_tx_url,omitempty"`
	HubAmount           decimal.NullDecimal `db:"hub_amount" json:"hub_amount"`
	RateSource          *RateSource         `db:"rate_source" json:"rate_source,omitempty"`
	FailureReason       *string             `db:"failure_reason" json:"failure_reason,omitempty"`
	NeedsReconciliation bool                `db:"needs_reconciliation" json:"needs_reconciliation"`
	Version             int64               `db:"version" json:"version"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Validate checks the fields settlement relies on.
func (t *Transfer) Validate() error {
	switch {
	case t.ID == "":
		return errors.New("transfer id is empty")
	case t.ContactID == "":
		return errors.New("contact id is empty")
	case t.SenderCurrency == "" || t.RecipientCurrency == "":
		return errors.New("currency code is empty")
	case !t.SenderAmount.IsPositive():
		return errors.New("sender amount must be positive")
	case !t.Status.Valid():
		return errors.New("unknown status " + string(t.Status))
	}
	return nil
}

// StatusUpdate carries the optional fields written together with a status change.
// Nil fields are left untouched.
type StatusUpdate struct {
	TxHash          *string
	ExplorerURL     *string
	HubAmount       *decimal.Decimal
	RecipientAmount *decimal.Decimal
	ExchangeRate    *decimal.Decimal
	ConversionPath  *string
	RateSource      *RateSource
	FailureReason   *string
}

// Apply copies the update onto t and stamps timestamps for the new status.
func (u StatusUpdate) Apply(t *Transfer, status Status, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
	t.Version++
	if u.TxHash != nil {
		t.TxHash = u.TxHash
	}
	if u.ExplorerURL != nil {
		t.BlockchainTxURL = u.ExplorerURL
	}
	if u.HubAmount != nil {
		t.HubAmount = decimal.NewNullDecimal(*u.HubAmount)
	}
	if u.RecipientAmount != nil {
		t.RecipientExpectedAmount = *u.RecipientAmount
	}
	if u.ExchangeRate != nil {
		t.ExchangeRate = *u.ExchangeRate
	}
	if u.ConversionPath != nil {
		t.ConversionPath = *u.ConversionPath
	}
	if u.RateSource != nil {
		t.RateSource = u.RateSource
	}
	if u.FailureReason != nil {
		t.FailureReason = u.FailureReason
	}
	switch status {
	case StatusPaid:
		t.PaidAt = &now
	case StatusCompleted:
		t.CompletedAt = &now
		t.NeedsReconciliation = false
	case StatusFailed:
		t.NeedsReconciliation = false
	}
}
