package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/model"
	"remit/apps/remit/internal/settlement"
)

type fakeService struct {
	transfers map[string]*model.Transfer
	queued    []string
	queueErr  error
}

func (f *fakeService) SettleTransfer(transferID string) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	f.queued = append(f.queued, transferID)
	return nil
}

func (f *fakeService) GetSettlementStatus(_ context.Context, transferID string) (*model.Transfer, error) {
	t, exists := f.transfers[transferID]
	if !exists {
		return nil, model.ErrTransferNotFound
	}
	return t, nil
}

func (f *fakeService) QueueDepth() int { return len(f.queued) }

func (f *fakeService) InFlight() int { return len(f.queued) }

type fakeHistory struct {
	events map[string][]model.OutboxEvent
	err    error
}

func (f *fakeHistory) ListByTransfer(_ context.Context, transferID string) ([]model.OutboxEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[transferID], nil
}

func newTestServer(t *testing.T, service *fakeService) http.Handler {
	t.Helper()
	return newTestServerWithHistory(t, service, &fakeHistory{})
}

func newTestServerWithHistory(t *testing.T, service *fakeService, history *fakeHistory) http.Handler {
	t.Helper()
	registry, err := assets.NewRegistry("ADA", assets.DefaultCurrencies())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return NewServer(0, service, history, registry, "mock", zap.NewNop()).setupRoutes()
}

func newService() *fakeService {
	hash := "ab12"
	return &fakeService{transfers: map[string]*model.Transfer{
		"paid": {
			ID:                      "paid",
			Status:                  model.StatusPaid,
			SenderCurrency:          "USD",
			SenderAmount:            decimal.NewFromInt(100),
			RecipientCurrency:       "IDR",
			RecipientExpectedAmount: decimal.NewFromInt(1500000),
			ExchangeRate:            decimal.NewFromInt(15000),
		},
		"done": {
			ID:                "done",
			Status:            model.StatusCompleted,
			SenderCurrency:    "USD",
			RecipientCurrency: "MXN",
			HubAmount:         decimal.NewNullDecimal(decimal.NewFromInt(25)),
			TxHash:            &hash,
		},
	}}
}

func TestGetTransfer(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{name: "Found", id: "paid", wantStatus: http.StatusOK},
		{name: "Completed", id: "done", wantStatus: http.StatusOK},
		{name: "NotFound", id: "missing", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestServer(t, newService())
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/"+tt.id, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var response TransferResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.TransferID != tt.id {
				t.Errorf("expected transfer %s, got %s", tt.id, response.TransferID)
			}
		})
	}

	t.Run("HubAmount", func(t *testing.T) {
		router := newTestServer(t, newService())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/done", nil))

		var response TransferResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.HubAmount == nil || *response.HubAmount != "25" {
			t.Errorf("expected hub amount 25, got %v", response.HubAmount)
		}
		if response.TxHash == nil || *response.TxHash != "ab12" {
			t.Errorf("expected tx hash, got %v", response.TxHash)
		}
	})
}

func TestSettleTransfer(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		queueErr   error
		wantStatus int
		wantQueued bool
	}{
		{name: "Queued", id: "paid", wantStatus: http.StatusAccepted, wantQueued: true},
		{name: "NotFound", id: "missing", wantStatus: http.StatusNotFound},
		{name: "AlreadyTerminal", id: "done", wantStatus: http.StatusConflict},
		{name: "QueueFull", id: "paid", queueErr: settlement.ErrQueueFull, wantStatus: http.StatusServiceUnavailable},
		{name: "PoolStopped", id: "paid", queueErr: settlement.ErrPoolStopped, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newService()
			service.queueErr = tt.queueErr
			router := newTestServer(t, service)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfers/"+tt.id+"/settle", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if queued := len(service.queued) == 1 && service.queued[0] == tt.id; queued != tt.wantQueued {
				t.Errorf("expected queued=%v, got %v", tt.wantQueued, service.queued)
			}
		})
	}
}

func TestListEvents(t *testing.T) {
	recorded := &fakeHistory{events: map[string][]model.OutboxEvent{
		"done": {
			{ID: "e-1", TransferID: "done", EventType: model.EventTransferProcessing, Status: "sent",
				Payload: json.RawMessage(`{"status":"processing"}`), CreatedAt: time.Now()},
			{ID: "e-2", TransferID: "done", EventType: model.EventTransferCompleted, Status: "unsent",
				Payload: json.RawMessage(`{"status":"completed"}`), CreatedAt: time.Now()},
		},
	}}

	tests := []struct {
		name       string
		id         string
		history    *fakeHistory
		wantStatus int
		wantEvents []string
	}{
		{name: "Recorded", id: "done", history: recorded, wantStatus: http.StatusOK,
			wantEvents: []string{model.EventTransferProcessing, model.EventTransferCompleted}},
		{name: "NoneYet", id: "paid", history: recorded, wantStatus: http.StatusOK, wantEvents: []string{}},
		{name: "NotFound", id: "missing", history: recorded, wantStatus: http.StatusNotFound},
		{name: "StoreError", id: "done", history: &fakeHistory{err: errors.New("connection refused")}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestServerWithHistory(t, newService(), tt.history)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/"+tt.id+"/events", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var events []EventResponse
			if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if events == nil || len(events) != len(tt.wantEvents) {
				t.Fatalf("expected events %v, got %+v", tt.wantEvents, events)
			}
			for i, eventType := range tt.wantEvents {
				if events[i].EventType != eventType {
					t.Errorf("expected %s at %d, got %s", eventType, i, events[i].EventType)
				}
			}
		})
	}
}

func TestListCurrencies(t *testing.T) {
	router := newTestServer(t, newService())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/currencies", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var currencies []CurrencyResponse
	if err := json.NewDecoder(rec.Body).Decode(&currencies); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	byCode := make(map[string]CurrencyResponse)
	for _, c := range currencies {
		byCode[c.Code] = c
	}
	if !byCode["ADA"].Hub || byCode["USD"].Hub {
		t.Errorf("expected ADA as the only hub, got %+v", currencies)
	}
	if byCode["MXN"].TokenUnit != "" || byCode["IDR"].TokenUnit == "" {
		t.Errorf("expected token units only for tokenized currencies, got %+v", currencies)
	}
	if !byCode["PHP"].RequiresHubProof {
		t.Error("expected PHP to require hub proof")
	}
}

func TestHealthCheck(t *testing.T) {
	service := newService()
	service.queued = []string{"a", "b"}
	router := newTestServer(t, service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "healthy" || response.IssuerMode != "mock" || response.QueueDepth != 2 {
		t.Errorf("unexpected health response %+v", response)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}
}
