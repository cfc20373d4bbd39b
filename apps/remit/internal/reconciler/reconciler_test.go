package reconciler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/confirmation"
	"remit/apps/remit/internal/model"
)

type fakeStore struct {
	transfers []*model.Transfer
	updated   map[string]model.Status
	updates   map[string]model.StatusUpdate
}

func (f *fakeStore) ListReconcilable(context.Context, time.Duration, int) ([]*model.Transfer, error) {
	return f.transfers, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status model.Status, update model.StatusUpdate) (*model.Transfer, error) {
	f.updated[id] = status
	f.updates[id] = update
	return &model.Transfer{ID: id, Status: status}, nil
}

type fakeOperations map[string][]model.OperationRecord

func (f fakeOperations) ListByTransfer(_ context.Context, transferID string) ([]model.OperationRecord, error) {
	return f[transferID], nil
}

type fakeChain map[string]confirmation.TxState

func (f fakeChain) Status(_ context.Context, txHash string) (confirmation.TxState, error) {
	state, exists := f[txHash]
	if !exists {
		return "", errors.New("unknown transaction")
	}
	return state, nil
}

func processing(id, recipient string, txHash *string) *model.Transfer {
	return &model.Transfer{
		ID:                  id,
		Status:              model.StatusProcessing,
		RecipientCurrency:   recipient,
		TxHash:              txHash,
		NeedsReconciliation: true,
	}
}

func hash(c string) *string {
	h := strings.Repeat(c, 64)
	return &h
}

func TestReconcileOnce(t *testing.T) {
	registry, err := assets.NewRegistry("ADA", assets.DefaultCurrencies())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	store := &fakeStore{
		transfers: []*model.Transfer{
			processing("confirmed", "IDR", hash("a")),
			processing("reverted", "IDR", hash("b")),
			processing("pending", "IDR", hash("c")),
			processing("unknown", "IDR", hash("d")),
			processing("no-hash", "IDR", nil),
			processing("hub", "MXN", hash("e")),
		},
		updated: make(map[string]model.Status),
		updates: make(map[string]model.StatusUpdate),
	}
	operations := fakeOperations{
		"confirmed": {{TxHash: *hash("a"), Kind: model.OperationMint, ToSymbol: "IDRM", ToAmount: "150000000", RateSource: model.RateSourceLive}},
		"hub":       {{TxHash: *hash("e"), Kind: model.OperationMint, ToSymbol: "wADA", ToAmount: "25000000", RateSource: model.RateSourceStatic}},
	}
	chain := fakeChain{
		*hash("a"): confirmation.TxConfirmed,
		*hash("b"): confirmation.TxReverted,
		*hash("c"): confirmation.TxPending,
		*hash("e"): confirmation.TxConfirmed,
	}

	reconciler := NewReconciler(store, operations, chain, registry, time.Second, time.Minute, zap.NewNop())
	resolved, err := reconciler.ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != 3 {
		t.Errorf("expected 3 resolved transfers, got %d", resolved)
	}

	expected := map[string]model.Status{
		"confirmed": model.StatusCompleted,
		"reverted":  model.StatusFailed,
		"hub":       model.StatusCompleted,
	}
	if len(store.updated) != len(expected) {
		t.Errorf("expected %d updates, got %v", len(expected), store.updated)
	}
	for id, status := range expected {
		if store.updated[id] != status {
			t.Errorf("%s: expected %s, got %s", id, status, store.updated[id])
		}
	}

	completed := store.updates["confirmed"]
	if completed.RecipientAmount == nil || !completed.RecipientAmount.Equal(decimal.NewFromInt(1500000)) {
		t.Errorf("expected recipient amount 1500000, got %v", completed.RecipientAmount)
	}
	if completed.RateSource == nil || *completed.RateSource != model.RateSourceLive {
		t.Errorf("expected live rate source, got %v", completed.RateSource)
	}

	hub := store.updates["hub"]
	if hub.HubAmount == nil || !hub.HubAmount.Equal(decimal.NewFromInt(25)) || hub.RecipientAmount != nil {
		t.Errorf("expected hub amount 25 only, got %+v", hub)
	}

	failed := store.updates["reverted"]
	if failed.FailureReason == nil || !strings.Contains(*failed.FailureReason, "reverted") {
		t.Errorf("expected failure reason, got %v", failed.FailureReason)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	registry, _ := assets.NewRegistry("ADA", assets.DefaultCurrencies())
	store := &fakeStore{updated: make(map[string]model.Status), updates: make(map[string]model.StatusUpdate)}
	reconciler := NewReconciler(store, fakeOperations{}, fakeChain{}, registry, time.Millisecond, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Start(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestNewReconcilerDefaultsInterval(t *testing.T) {
	registry, _ := assets.NewRegistry("ADA", assets.DefaultCurrencies())
	store := &fakeStore{updated: make(map[string]model.Status), updates: make(map[string]model.StatusUpdate)}
	reconciler := NewReconciler(store, fakeOperations{}, fakeChain{}, registry, 0, time.Minute, zap.NewNop())
	if reconciler.interval != defaultInterval {
		t.Fatalf("expected default interval, got %s", reconciler.interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reconciler.Start(ctx)
}
