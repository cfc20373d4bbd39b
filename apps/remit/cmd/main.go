package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"remit/apps/remit/internal/api"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/config"
	"remit/apps/remit/internal/confirmation"
	"remit/apps/remit/internal/conversion"
	"remit/apps/remit/internal/event_publisher"
	"remit/apps/remit/internal/issuer"
	"remit/apps/remit/internal/reconciler"
	"remit/apps/remit/internal/repository"
	"remit/apps/remit/internal/settlement"
	"remit/apps/remit/internal/trigger"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg := config.NewConfig()

	logger.Info("Starting settlement service with configuration",
		zap.String("rpc_url", cfg.RpcURL),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("hub_currency", cfg.HubCurrency),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("settlement_topic", cfg.SettlementTopic),
		zap.String("transfer_topic", cfg.TransferTopic),
		zap.Int("workers", cfg.WorkerCount),
		zap.Uint64("finality_offset", cfg.FinalityOffset),
		zap.Int("api_port", cfg.APIPort),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	transferRepository := repository.NewTransferRepository(db, logger)
	operationRepository := repository.NewOperationRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	registry, err := assets.NewRegistry(cfg.HubCurrency, assets.DefaultCurrencies())
	if err != nil {
		logger.Fatal("Failed to build currency registry", zap.Error(err))
	}

	// Chain access decides the issuer mode once for the process lifetime
	var ethClient *ethclient.Client
	issuerOpts := issuer.Options{
		PrivateKey: cfg.IssuerPrivateKey,
		ChainID:    cfg.ChainID,
		GasLimit:   cfg.GasLimit,
	}
	if cfg.HasChainCredentials() {
		ethClient, err = ethclient.Dial(cfg.RpcURL)
		if err != nil {
			logger.Error("Failed to connect to RPC endpoint", zap.String("rpc_url", cfg.RpcURL), zap.Error(err))
		} else {
			defer ethClient.Close()
			issuerOpts.Backend = ethClient
		}
	}
	tokenIssuer := issuer.New(issuerOpts, registry, logger)

	var chainStatus confirmation.ChainStatus
	if tokenIssuer.Mode() == issuer.ModeMock {
		chainStatus = tokenIssuer.MockChain()
	} else {
		chainStatus = confirmation.NewEthereumStatus(ethClient, cfg.FinalityOffset)
	}

	rates := buildRateProvider(cfg, tokenIssuer.Mode(), logger)
	converter := conversion.NewEngine(rates, registry.Hub().Code)
	waiter := confirmation.NewWaiter(chainStatus, cfg.ConfirmationPollInterval, logger)

	orchestrator := settlement.NewOrchestrator(transferRepository, operationRepository, converter, tokenIssuer, waiter, registry,
		settlement.Options{
			ConfirmationMaxWait: cfg.ConfirmationMaxWait,
			ExplorerBaseURL:     cfg.ExplorerBaseURL,
			Retry:               settlement.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay},
		}, logger)

	pool := settlement.NewPool(orchestrator, transferRepository, cfg.WorkerCount, cfg.QueueSize, logger)
	pool.Start(ctx)

	reconcilerLoop := reconciler.NewReconciler(transferRepository, operationRepository, chainStatus, registry,
		cfg.ReconcileInterval, cfg.ReconcileStaleAfter, logger)
	go reconcilerLoop.Start(ctx)

	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.SettlementTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()
	go eventPublisher.StartPublishing(ctx)

	settlementTrigger, err := trigger.NewConsumer(cfg.KafkaBroker, cfg.TransferTopic, logger, pool)
	if err != nil {
		logger.Fatal("Failed to create settlement trigger", zap.Error(err))
	}
	defer settlementTrigger.Close()

	go func() {
		if err := settlementTrigger.Start(ctx); err != nil {
			logger.Fatal("Settlement trigger failed", zap.Error(err))
		}
	}()

	apiServer := api.NewServer(cfg.APIPort, pool, outboxRepository, registry, string(tokenIssuer.Mode()), logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	// Workers finish their current transfer; final writes do not depend on ctx
	cancel()
	pool.Stop()

	logger.Info("Application shutdown complete")
}

// buildRateProvider reads live rates from Redis when configured. The static table serves
// as fallback only when explicitly allowed, and as the sole source in mock mode.
func buildRateProvider(cfg *config.Config, mode issuer.Mode, logger *zap.Logger) conversion.RateProvider {
	static, err := conversion.ParseStaticRates(cfg.StaticRates)
	if err != nil {
		logger.Fatal("Failed to parse static rates", zap.Error(err))
	}

	if static.Len() == 0 && mode == issuer.ModeMock {
		static, err = conversion.ParseStaticRates(conversion.DefaultMockRates)
		if err != nil {
			logger.Fatal("Failed to parse default mock rates", zap.Error(err))
		}
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid Redis URL", zap.Error(err))
		}
		live := conversion.NewRedisRates(redis.NewClient(redisOpts))
		return conversion.NewFallbackRates(live, static, cfg.AllowStaticRates || mode == issuer.ModeMock, logger)
	}

	if !cfg.AllowStaticRates && mode == issuer.ModeLive {
		logger.Fatal("No live rate source configured and static rates are not allowed in live mode")
	}
	logger.Warn("Using static rate table", zap.Int("pairs", static.Len()))
	return static
}
