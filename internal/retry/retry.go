// Package retry runs an operation a bounded number of times with linear backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation. The wait before attempt n+1 is n*BaseDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Notify is called after a failed attempt that will be retried.
type Notify func(err error, attempt int, wait time.Duration)

// linearBackOff waits base, 2*base, 3*base, ... between attempts.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.base
}

func (l *linearBackOff) Reset() { l.n = 0 }

// Do calls op until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. The last error from op is returned on exhaustion.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: p.BaseDelay}, uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			return op(ctx)
		},
		b,
		func(err error, wait time.Duration) {
			if notify != nil {
				notify(err, attempt, wait)
			}
		},
	)
}

// Permanent wraps err so Do stops without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
