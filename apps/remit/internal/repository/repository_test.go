package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/events"
	"remit/apps/remit/internal/model"
)

// These tests run against a disposable Postgres database named by TEST_DB_URL.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("TEST_DB_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := InitMigration(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func newTestTransfer(status model.Status) *model.Transfer {
	return &model.Transfer{
		ID:                uuid.New().String(),
		ContactID:         "contact-1",
		Status:            status,
		SenderCurrency:    "USD",
		SenderAmount:      decimal.NewFromInt(100),
		RecipientCurrency: "IDR",
		RecipientName:     "Siti",
		RecipientBank:     "BCA",
		RecipientAccount:  "1234567890",
		FeePercentage:     decimal.RequireFromString("0.01"),
		FeeAmount:         decimal.NewFromInt(1),
		TotalAmount:       decimal.NewFromInt(101),
	}
}

func TestTransferLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	transfers := NewTransferRepository(db, zap.NewNop())
	outbox := NewOutboxRepository(db, zap.NewNop())

	transfer := newTestTransfer(model.StatusPending)
	if err := transfers.Create(ctx, transfer); err != nil {
		t.Fatalf("Failed to create transfer: %v", err)
	}

	paid, err := transfers.UpdateStatus(ctx, transfer.ID, model.StatusPaid, model.StatusUpdate{})
	if err != nil {
		t.Fatalf("Failed to mark paid: %v", err)
	}
	if paid.PaidAt == nil {
		t.Error("paid_at should be stamped")
	}

	claimed, err := transfers.ClaimForProcessing(ctx, transfer.ID, paid.Version)
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if claimed.Status != model.StatusProcessing {
		t.Errorf("Expected processing, got %s", claimed.Status)
	}

	if _, err := transfers.ClaimForProcessing(ctx, transfer.ID, paid.Version); !errors.Is(err, model.ErrStaleTransfer) {
		t.Errorf("Expected ErrStaleTransfer for second claim, got %v", err)
	}

	hash := strings.Repeat("ab", 32)
	if err := transfers.RecordSubmission(ctx, transfer.ID, hash, "https://explorer.test/tx/0x"+hash); err != nil {
		t.Fatalf("Failed to record submission: %v", err)
	}

	amount := decimal.NewFromInt(1500000)
	source := model.RateSourceStatic
	path := "USD->IDR"
	completed, err := transfers.UpdateStatus(ctx, transfer.ID, model.StatusCompleted, model.StatusUpdate{
		RecipientAmount: &amount,
		ConversionPath:  &path,
		RateSource:      &source,
	})
	if err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}
	if completed.CompletedAt == nil || completed.TxHash == nil || *completed.TxHash != hash {
		t.Errorf("Unexpected completed transfer %+v", completed)
	}
	if !completed.RecipientExpectedAmount.Equal(amount) {
		t.Errorf("Expected recipient amount %s, got %s", amount, completed.RecipientExpectedAmount)
	}

	if _, err := transfers.UpdateStatus(ctx, transfer.ID, model.StatusFailed, model.StatusUpdate{}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition after completion, got %v", err)
	}

	recorded, err := outbox.ListByTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("Failed to list outbox: %v", err)
	}
	expected := []string{model.EventTransferPaid, model.EventTransferProcessing, model.EventTransferCompleted}
	if len(recorded) != len(expected) {
		t.Fatalf("Expected %d outbox events, got %d", len(expected), len(recorded))
	}
	for i, eventType := range expected {
		if recorded[i].EventType != eventType {
			t.Errorf("Event %d: expected %s, got %s", i, eventType, recorded[i].EventType)
		}
	}

	var payload events.SettlementEvent
	if err := json.Unmarshal(recorded[2].Payload, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.TxHash != hash || payload.Status != string(model.StatusCompleted) {
		t.Errorf("Unexpected payload %+v", payload)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	transfers := NewTransferRepository(db, zap.NewNop())

	if _, err := transfers.FindByID(context.Background(), uuid.New().String()); !errors.Is(err, model.ErrTransferNotFound) {
		t.Errorf("Expected ErrTransferNotFound, got %v", err)
	}
}

func TestReconciliationFlag(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	transfers := NewTransferRepository(db, zap.NewNop())

	transfer := newTestTransfer(model.StatusPending)
	if err := transfers.Create(ctx, transfer); err != nil {
		t.Fatalf("Failed to create transfer: %v", err)
	}
	if _, err := transfers.MarkForReconciliation(ctx, transfer.ID, "timeout"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for pending transfer, got %v", err)
	}

	if _, err := transfers.ClaimForProcessing(ctx, transfer.ID, 0); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	flagged, err := transfers.MarkForReconciliation(ctx, transfer.ID, "confirmation timed out")
	if err != nil {
		t.Fatalf("Failed to flag: %v", err)
	}
	if !flagged.NeedsReconciliation || flagged.Status != model.StatusProcessing {
		t.Errorf("Expected flagged processing transfer, got %+v", flagged)
	}

	reconcilable, err := transfers.ListReconcilable(ctx, time.Hour, 1000)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	found := false
	for _, r := range reconcilable {
		if r.ID == transfer.ID {
			found = true
		}
	}
	if !found {
		t.Error("Flagged transfer should be reconcilable")
	}

	reason := "reverted"
	failed, err := transfers.UpdateStatus(ctx, transfer.ID, model.StatusFailed, model.StatusUpdate{FailureReason: &reason})
	if err != nil {
		t.Fatalf("Failed to fail transfer: %v", err)
	}
	if failed.NeedsReconciliation {
		t.Error("Reconciliation flag should clear on failure")
	}
}

func TestOperationAppend(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	transfers := NewTransferRepository(db, zap.NewNop())
	operations := NewOperationRepository(db, zap.NewNop())

	transfer := newTestTransfer(model.StatusPaid)
	if err := transfers.Create(ctx, transfer); err != nil {
		t.Fatalf("Failed to create transfer: %v", err)
	}

	burn := "11"
	err := operations.Append(ctx, model.OperationRecord{
		TransferID: transfer.ID,
		Kind:       model.OperationBurnAndMint,
		FromSymbol: "wADA",
		ToSymbol:   "PHPM",
		FromAmount: "10000000",
		ToAmount:   "8500",
		BurnTxHash: &burn,
		TxHash:     "22",
		PolicyID:   "7e1a39cd3f2f3d6ce5c8ea1cb03f4e7e4d6c0a05",
		Mode:       "mock",
		RateSource: model.RateSourceStatic,
	})
	if err != nil {
		t.Fatalf("Failed to append operation: %v", err)
	}

	ops, err := operations.ListByTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("Failed to list operations: %v", err)
	}
	if len(ops) != 1 || ops[0].BurnTxHash == nil || *ops[0].BurnTxHash != burn || ops[0].ToAmount != "8500" {
		t.Errorf("Unexpected operations %+v", ops)
	}
}
