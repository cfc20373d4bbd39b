package model

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAllowedFrom(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusProcessing, true},
		{StatusPaid, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPaid, StatusCancelled, true},
		{StatusProcessing, StatusCancelled, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusPaid, StatusPending, false},
		{StatusPending, StatusCompleted, false},
	}

	for _, test := range tests {
		t.Run(string(test.from)+"->"+string(test.to), func(t *testing.T) {
			if got := slices.Contains(AllowedFrom(test.to), test.from); got != test.allowed {
				t.Errorf("expected %v, got %v", test.allowed, got)
			}
		})
	}
}

func TestStatusUpdateApplyStampsTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transfer := &Transfer{ID: "t1", Status: StatusProcessing, NeedsReconciliation: true, Version: 3}
	hash := "ab"
	amount := decimal.RequireFromString("1500000.00")

	StatusUpdate{TxHash: &hash, RecipientAmount: &amount}.Apply(transfer, StatusCompleted, now)

	if transfer.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", transfer.Status)
	}
	if transfer.CompletedAt == nil || !transfer.CompletedAt.Equal(now) {
		t.Error("expected completed_at to be stamped")
	}
	if transfer.TxHash == nil || *transfer.TxHash != hash {
		t.Error("expected tx hash to be set")
	}
	if !transfer.RecipientExpectedAmount.Equal(amount) {
		t.Errorf("expected recipient amount %s, got %s", amount, transfer.RecipientExpectedAmount)
	}
	if transfer.NeedsReconciliation {
		t.Error("completion must clear the reconciliation flag")
	}
	if transfer.Version != 4 {
		t.Errorf("expected version 4, got %d", transfer.Version)
	}
}

func TestTransferValidate(t *testing.T) {
	valid := Transfer{
		ID:                "t1",
		ContactID:         "+6281234",
		Status:            StatusPaid,
		SenderCurrency:    "USD",
		SenderAmount:      decimal.NewFromInt(100),
		RecipientCurrency: "IDR",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid transfer, got %v", err)
	}

	zeroAmount := valid
	zeroAmount.SenderAmount = decimal.Zero
	if err := zeroAmount.Validate(); err == nil {
		t.Error("expected zero amount to be rejected")
	}

	badStatus := valid
	badStatus.Status = "settled"
	if err := badStatus.Validate(); err == nil {
		t.Error("expected unknown status to be rejected")
	}
}
