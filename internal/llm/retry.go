package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryConfig controls how transient predictor failures are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first. Defaults to 3.
	MaxAttempts int
	// InitialInterval is the first backoff delay. Defaults to 500ms.
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay. Defaults to 10s.
	MaxInterval time.Duration
}

// Retrying wraps a Predictor with exponential backoff.
type Retrying struct {
	next   Predictor
	cfg    RetryConfig
	logger *zap.Logger
}

// ErrPermanent marks a prediction failure that must not be retried.
var ErrPermanent = errors.New("permanent prediction failure")

// NewRetrying wraps next. A nil logger disables logging.
func NewRetrying(next Predictor, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Predict calls the wrapped predictor until it succeeds, the attempts are
// exhausted, the error is permanent, or ctx is done.
func (r *Retrying) Predict(ctx context.Context, prompt string) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialInterval
	eb.MaxInterval = r.cfg.MaxInterval
	// Attempts bound the retries; elapsed time does not.
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxAttempts-1)), ctx)

	var out string
	attempt := 0
	op := func() error {
		attempt++
		resp, err := r.next.Predict(ctx, prompt)
		if err == nil {
			out = resp
			return nil
		}
		if errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("prediction failed", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return out, nil
}
