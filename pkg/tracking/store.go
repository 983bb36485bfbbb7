package tracking

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/cleanstep/pkg/provider"
)

// RetryPolicy bounds retries of blob store calls. MaxAttempts <= 1 means a
// single attempt.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// guardedStore applies rate limiting and the retry policy to a BlobStore.
// Only throttling and unavailability errors are retried.
type guardedStore struct {
	inner   provider.BlobStore
	retry   RetryPolicy
	limiter *rate.Limiter // nil if unlimited
	log     *zap.Logger
}

func newGuardedStore(inner provider.BlobStore, retry RetryPolicy, rateLimit float64, log *zap.Logger) *guardedStore {
	g := &guardedStore{inner: inner, retry: retry, log: log}
	if rateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rateLimit), 1)
	}
	return g
}

// put reopens the payload on every attempt so a retry never sends a
// partially consumed reader.
func (g *guardedStore) put(ctx context.Context, key string, open func() (io.ReadCloser, error), info provider.PutInfo) error {
	return g.do(ctx, "Put", key, func() error {
		body, err := open()
		if err != nil {
			return backoff.Permanent(err)
		}
		defer func() { _ = body.Close() }()
		return g.inner.Put(ctx, key, body, info)
	})
}

func (g *guardedStore) get(ctx context.Context, key string, consume func(*provider.Blob) error) error {
	return g.do(ctx, "Open", key, func() error {
		blob, err := g.inner.Open(ctx, key)
		if err != nil {
			return err
		}
		defer func() { _ = blob.Close() }()
		return consume(blob)
	})
}

func (g *guardedStore) remove(ctx context.Context, key string) error {
	return g.do(ctx, "Remove", key, func() error {
		return g.inner.Remove(ctx, key)
	})
}

func (g *guardedStore) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *guardedStore) do(ctx context.Context, op, key string, fn func() error) error {
	if g.retry.MaxAttempts <= 1 {
		if err := g.wait(ctx); err != nil {
			return err
		}
		err := fn()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	attempt := 0
	operation := func() error {
		attempt++
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !provider.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		g.log.Warn("blob store call failed",
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.retry.MaxAttempts),
			zap.Error(err))
		return err
	}

	b := backoff.NewExponentialBackOff()
	if g.retry.InitialInterval > 0 {
		b.InitialInterval = g.retry.InitialInterval
	}
	if g.retry.MaxInterval > 0 {
		b.MaxInterval = g.retry.MaxInterval
	}
	policy := backoff.WithMaxRetries(b, uint64(g.retry.MaxAttempts-1))
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
