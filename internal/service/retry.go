package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/liliang-cn/ragsession/internal/domain"
)

// RetryPolicy bounds retries of side-effect-free upstream calls.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// retryCall runs op until it succeeds, fails permanently, or retries run out.
// Each attempt gets its own timeout derived from ctx.
func retryCall[T any](ctx context.Context, p RetryPolicy, timeout time.Duration, logger *zap.Logger, stage string, op func(context.Context) (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		exp.InitialInterval = p.InitialDelay
	}
	exp.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	attempt := func() (T, error) {
		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		v, err := op(attemptCtx)
		if err != nil && (ctx.Err() != nil || permanent(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Upstream call failed, retrying",
			zap.String("stage", stage),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotifyWithData(attempt, b, notify)
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	var malformed *domain.MalformedProviderResponseError
	switch {
	case errors.As(err, &malformed):
		return true
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}
