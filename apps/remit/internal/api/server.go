package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
)

// Server represents the API server
type Server struct {
	transferHandler *TransferHandler
	service         SettlementService
	issuerMode      string
	logger          *zap.Logger
	server          *http.Server
}

// NewServer creates a new API server
func NewServer(port int, service SettlementService, history EventHistory, registry *assets.Registry, issuerMode string, logger *zap.Logger) *Server {
	return &Server{
		transferHandler: NewTransferHandler(service, history, registry, logger),
		service:         service,
		issuerMode:      issuerMode,
		logger:          logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.server.Handler = s.setupRoutes()

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/transfers/{id}", s.transferHandler.GetTransfer).Methods("GET")
	api.HandleFunc("/transfers/{id}/settle", s.transferHandler.SettleTransfer).Methods("POST")
	api.HandleFunc("/transfers/{id}/events", s.transferHandler.ListEvents).Methods("GET")
	api.HandleFunc("/currencies", s.transferHandler.ListCurrencies).Methods("GET")
	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, s.logger, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Time:       time.Now().UTC().Format(time.RFC3339),
		IssuerMode: s.issuerMode,
		QueueDepth: s.service.QueueDepth(),
		InFlight:   s.service.InFlight(),
	})
}
