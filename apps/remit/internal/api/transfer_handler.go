package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/model"
	"remit/apps/remit/internal/settlement"
)

// SettlementService is the settlement surface exposed over HTTP.
type SettlementService interface {
	SettleTransfer(transferID string) error
	GetSettlementStatus(ctx context.Context, transferID string) (*model.Transfer, error)
	QueueDepth() int
	InFlight() int
}

// EventHistory lists the settlement events recorded for a transfer.
type EventHistory interface {
	ListByTransfer(ctx context.Context, transferID string) ([]model.OutboxEvent, error)
}

// TransferHandler handles transfer settlement endpoints
type TransferHandler struct {
	service  SettlementService
	history  EventHistory
	registry *assets.Registry
	logger   *zap.Logger
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(service SettlementService, history EventHistory, registry *assets.Registry, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{
		service:  service,
		history:  history,
		registry: registry,
		logger:   logger,
	}
}

// GetTransfer handles GET /api/transfers/{id}
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]
	if transferID == "" {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_transfer_id", "Transfer id is required")
		return
	}

	transfer, err := h.service.GetSettlementStatus(r.Context(), transferID)
	if errors.Is(err, model.ErrTransferNotFound) {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "transfer_not_found", "Transfer not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get transfer", zap.String("transfer_id", transferID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve transfer")
		return
	}

	writeJSONResponse(w, h.logger, http.StatusOK, newTransferResponse(transfer))
}

// SettleTransfer handles POST /api/transfers/{id}/settle
func (h *TransferHandler) SettleTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]
	if transferID == "" {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_transfer_id", "Transfer id is required")
		return
	}

	transfer, err := h.service.GetSettlementStatus(r.Context(), transferID)
	if errors.Is(err, model.ErrTransferNotFound) {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "transfer_not_found", "Transfer not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get transfer", zap.String("transfer_id", transferID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve transfer")
		return
	}

	if !transfer.Status.Settleable() {
		writeErrorResponse(w, h.logger, http.StatusConflict, "not_settleable", "Transfer is "+string(transfer.Status))
		return
	}

	if err := h.service.SettleTransfer(transferID); err != nil {
		if errors.Is(err, settlement.ErrQueueFull) || errors.Is(err, settlement.ErrPoolStopped) {
			writeErrorResponse(w, h.logger, http.StatusServiceUnavailable, "settlement_unavailable", err.Error())
			return
		}
		h.logger.Error("Failed to queue settlement", zap.String("transfer_id", transferID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "settlement_error", "Failed to queue settlement")
		return
	}

	h.logger.Info("Queued transfer for settlement", zap.String("transfer_id", transferID))
	writeJSONResponse(w, h.logger, http.StatusAccepted, SettleResponse{
		TransferID: transferID,
		Status:     string(transfer.Status),
		Queued:     true,
	})
}

// ListEvents handles GET /api/transfers/{id}/events
func (h *TransferHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]

	if _, err := h.service.GetSettlementStatus(r.Context(), transferID); err != nil {
		if errors.Is(err, model.ErrTransferNotFound) {
			writeErrorResponse(w, h.logger, http.StatusNotFound, "transfer_not_found", "Transfer not found")
			return
		}
		h.logger.Error("Failed to get transfer", zap.String("transfer_id", transferID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve transfer")
		return
	}

	recorded, err := h.history.ListByTransfer(r.Context(), transferID)
	if err != nil {
		h.logger.Error("Failed to list settlement events", zap.String("transfer_id", transferID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve events")
		return
	}

	events := make([]EventResponse, 0, len(recorded))
	for _, event := range recorded {
		events = append(events, EventResponse{
			EventID:        event.ID,
			EventType:      event.EventType,
			DeliveryStatus: event.Status,
			Payload:        event.Payload,
			CreatedAt:      event.CreatedAt,
		})
	}

	writeJSONResponse(w, h.logger, http.StatusOK, events)
}

// ListCurrencies handles GET /api/currencies
func (h *TransferHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	hub := h.registry.Hub()

	currencies := make([]CurrencyResponse, 0)
	for _, c := range h.registry.All() {
		response := CurrencyResponse{
			Code:             c.Code,
			Name:             c.Name,
			TokenSymbol:      c.TokenSymbol,
			Decimals:         c.Decimals,
			Hub:              c.Code == hub.Code,
			RequiresHubProof: c.RequiresHubProof,
		}
		if c.HasToken() {
			response.TokenUnit = c.TokenUnit()
		}
		currencies = append(currencies, response)
	}

	writeJSONResponse(w, h.logger, http.StatusOK, currencies)
}

// writeJSONResponse writes a JSON response with the specified status code
func writeJSONResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeErrorResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	writeJSONResponse(w, logger, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
