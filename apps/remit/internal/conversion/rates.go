package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/model"
)

// RateKeyPrefix namespaces the live rate feed in Redis: fx:rate:{FROM}:{TO}
const RateKeyPrefix = "fx:rate:"

// DefaultMockRates seeds the static table when mock mode runs without STATIC_RATES.
const DefaultMockRates = "USD/IDR=15000,USD/EUR=0.92,USD/ADA=2.5,EUR/ADA=2.7,ADA/IDR=6000,ADA/PHP=8.5,ADA/MXN=7,ADA/SGD=0.5"

// StaticRates is a fixed rate table used in mock mode or as a degraded fallback.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStaticRates() *StaticRates {
	return &StaticRates{rates: make(map[string]decimal.Decimal)}
}

// ParseStaticRates parses "USD/ADA=2.5,ADA/IDR=6000".
func ParseStaticRates(table string) (*StaticRates, error) {
	rates := NewStaticRates()
	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		pair, value, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("invalid rate entry %q", entry)
		}
		from, to, found := strings.Cut(pair, "/")
		if !found {
			return nil, fmt.Errorf("invalid currency pair %q", pair)
		}

		parsed, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate value %q: %w", value, err)
		}
		if !parsed.IsPositive() {
			return nil, fmt.Errorf("rate %s: %w", pair, ErrInvalidRate)
		}

		rates.Set(strings.TrimSpace(from), strings.TrimSpace(to), parsed)
	}
	return rates, nil
}

func (s *StaticRates) Set(from, to string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey(from, to)] = value
}

func (s *StaticRates) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rates)
}

func (s *StaticRates) Rate(_ context.Context, from, to string) (Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.rates[pairKey(from, to)]
	if !exists {
		return Rate{}, fmt.Errorf("static %s/%s: %w", from, to, ErrRateNotFound)
	}
	return Rate{Value: value, Source: model.RateSourceStatic}, nil
}

// RedisRates reads rates published by the external rate feed.
type RedisRates struct {
	client *redis.Client
}

func NewRedisRates(client *redis.Client) *RedisRates {
	return &RedisRates{client: client}
}

func (r *RedisRates) Rate(ctx context.Context, from, to string) (Rate, error) {
	key := RateKeyPrefix + strings.ToUpper(from) + ":" + strings.ToUpper(to)

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Rate{}, fmt.Errorf("live %s/%s: %w", from, to, ErrRateNotFound)
		}
		return Rate{}, fmt.Errorf("failed to read rate %s: %v: %w", key, err, ErrRateUnavailable)
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return Rate{}, fmt.Errorf("failed to parse rate %s=%q: %w", key, value, err)
	}
	return Rate{Value: parsed, Source: model.RateSourceLive}, nil
}

// FallbackRates consults primary first and, when allowed, the static table if the
// primary has no rate or cannot be reached.
type FallbackRates struct {
	primary       RateProvider
	fallback      RateProvider
	allowFallback bool
	logger        *zap.Logger
}

func NewFallbackRates(primary, fallback RateProvider, allowFallback bool, logger *zap.Logger) *FallbackRates {
	return &FallbackRates{primary: primary, fallback: fallback, allowFallback: allowFallback, logger: logger}
}

func (f *FallbackRates) Rate(ctx context.Context, from, to string) (Rate, error) {
	rate, err := f.primary.Rate(ctx, from, to)
	if err == nil || !f.allowFallback {
		return rate, err
	}
	if !errors.Is(err, ErrRateNotFound) && !errors.Is(err, ErrRateUnavailable) {
		return rate, err
	}

	fallbackRate, fallbackErr := f.fallback.Rate(ctx, from, to)
	if fallbackErr != nil {
		return Rate{}, err
	}

	f.logger.Warn("Using static fallback rate",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("rate", fallbackRate.Value.String()),
		zap.NamedError("primary_error", err))

	fallbackRate.Source = model.RateSourceStatic
	return fallbackRate, nil
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
