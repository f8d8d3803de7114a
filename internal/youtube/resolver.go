package youtube

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
)

var (
	// ErrNotFound means the platform returned no item for the id. Not retryable.
	ErrNotFound = errors.New("resource not found")
	// ErrMalformed means the response could not be decoded into a resource. Not retryable.
	ErrMalformed = errors.New("malformed resource response")
	// ErrTransient means every attempt failed with a retryable error.
	ErrTransient = errors.New("resource temporarily unavailable")
)

// Resolver fetches authoritative metadata for a resource id.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Resource, error)
}

// Fetcher performs a single resolution attempt. Returning an error wrapping
// ErrTransient asks the retrying resolver to try again.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*Resource, error)
}

// Backoff describes a capped exponential retry schedule with jitter.
type Backoff struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff is the schedule used for resolver and hub requests.
func DefaultBackoff(maxAttempts int) Backoff {
	return Backoff{
		Base:        time.Second,
		Multiplier:  2,
		Cap:         30 * time.Second,
		MaxAttempts: maxAttempts,
	}
}

// Delay returns how long to wait before the given attempt (1-based).
// The first attempt never waits.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	base := b.Base
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base)
	for i := 2; i < attempt; i++ {
		d *= mult
		if b.Cap > 0 && d > float64(b.Cap) {
			d = float64(b.Cap)
			break
		}
	}
	delay := time.Duration(d)
	// up to 20% jitter keeps renewals of many channels from lining up
	if jitter := int64(delay) / 5; jitter > 0 {
		delay += time.Duration(rand.Int63n(jitter)) //nolint:gosec // non-crypto backoff jitter
	}
	if b.Cap > 0 && delay > b.Cap {
		delay = b.Cap
	}
	return delay
}

// Retry runs op until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. retryable decides which errors are retried.
func (b Backoff) Retry(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) (int, error) {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := b.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
			case <-timer.C:
			}
		}
		err = op(ctx)
		if err == nil || !retryable(err) {
			return attempt, err
		}
	}
	return attempts, err
}

// RetryingResolver wraps a Fetcher with the bounded backoff policy.
type RetryingResolver struct {
	fetcher Fetcher
	backoff Backoff
}

// NewRetryingResolver creates a resolver that retries transient fetch failures.
func NewRetryingResolver(fetcher Fetcher, backoff Backoff) *RetryingResolver {
	return &RetryingResolver{fetcher: fetcher, backoff: backoff}
}

// Resolve fetches id, retrying transient failures with backoff.
func (r *RetryingResolver) Resolve(ctx context.Context, id string) (*Resource, error) {
	var res *Resource
	attempts, err := r.backoff.Retry(ctx, func(ctx context.Context) error {
		var ferr error
		res, ferr = r.fetcher.Fetch(ctx, id)
		if ferr != nil && errors.Is(ferr, ErrTransient) {
			log.Debug("transient resolve failure",
				zap.String("video_id", id),
				zap.Error(ferr),
			)
		}
		return ferr
	}, IsTransient)
	if err != nil {
		if IsTransient(err) {
			log.Warn("resolve retry budget exhausted",
				zap.String("video_id", id),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return res, nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
