package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// do runs fn until it succeeds, fails with a non-transient error, or attempts run out.
func (p RetryPolicy) do(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || Classify(err) != KindTransient || attempt >= attempts {
			return err
		}

		logger.Warn("Transient settlement error, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
