package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DbURL string

	// Chain access. Missing or invalid values put the issuer into mock mode.
	RpcURL           string
	ChainID          int64
	IssuerPrivateKey string
	GasLimit         uint64
	FinalityOffset   uint64
	ExplorerBaseURL  string

	HubCurrency string

	ConfirmationPollInterval time.Duration
	ConfirmationMaxWait      time.Duration
	RetryAttempts            int
	RetryBaseDelay           time.Duration

	WorkerCount int
	QueueSize   int

	RedisURL         string
	StaticRates      string
	AllowStaticRates bool

	KafkaBroker     string
	SettlementTopic string
	TransferTopic   string

	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration

	APIPort int
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	return &Config{
		DbURL:                    getEnvOrFatal("DB_URL"),
		RpcURL:                   os.Getenv("RPC_URL"),
		ChainID:                  int64(getEnvUint64("CHAIN_ID", 1)),
		IssuerPrivateKey:         os.Getenv("ISSUER_PRIVATE_KEY"),
		GasLimit:                 getEnvUint64("GAS_LIMIT", 200000),
		FinalityOffset:           getEnvUint64("FINALITY_OFFSET", 12),
		ExplorerBaseURL:          getEnvString("EXPLORER_BASE_URL", "https://etherscan.io"),
		HubCurrency:              strings.ToUpper(getEnvString("HUB_CURRENCY", "ADA")),
		ConfirmationPollInterval: getEnvDuration("CONFIRMATION_POLL_INTERVAL", 5*time.Second),
		ConfirmationMaxWait:      getEnvDuration("CONFIRMATION_MAX_WAIT", 120*time.Second),
		RetryAttempts:            getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:           getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		WorkerCount:              getEnvInt("WORKER_COUNT", 8),
		QueueSize:                getEnvInt("QUEUE_SIZE", 1024),
		RedisURL:                 os.Getenv("REDIS_URL"),
		StaticRates:              os.Getenv("STATIC_RATES"),
		AllowStaticRates:         getEnvBool("ALLOW_STATIC_RATES", false),
		KafkaBroker:              os.Getenv("KAFKA_BROKER"),
		SettlementTopic:          getEnvString("SETTLEMENT_TOPIC", "settlement-events"),
		TransferTopic:            getEnvString("TRANSFER_TOPIC", "transfer-events"),
		ReconcileInterval:        getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileStaleAfter:      getEnvDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
		APIPort:                  getEnvInt("API_PORT", 8080),
	}
}

// HasChainCredentials reports whether live issuance was configured at all.
// The issuer still validates the key itself.
func (c *Config) HasChainCredentials() bool {
	return c.RpcURL != "" && c.IssuerPrivateKey != ""
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("environment variable %s not set", key)

	return ""
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s") or a bare number of seconds. Values
// that are not positive fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		seconds, atoiErr := strconv.Atoi(value)
		if atoiErr != nil {
			log.Printf("Invalid duration %q for %s, using default %s", value, key, defaultValue)
			return defaultValue
		}
		parsed = time.Duration(seconds) * time.Second
	}
	if parsed <= 0 {
		log.Printf("Duration for %s must be positive, using default %s", key, defaultValue)
		return defaultValue
	}
	return parsed
}
