// internal/rate/limiter.go
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound mailbox calls so a run stays under provider quotas.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases tokens at a fixed rate up to a burst ceiling.
type TokenBucket struct {
	ticker *time.Ticker
	tokens chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// NewTokenBucket returns a limiter refilling rps tokens per second. The bucket
// starts full so the first burst calls proceed immediately.
func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	tb := &TokenBucket{
		ticker: time.NewTicker(time.Second / time.Duration(rps)),
		tokens: make(chan struct{}, burst),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		tb.tokens <- struct{}{}
	}
	go tb.refill()
	return tb
}

func (t *TokenBucket) refill() {
	defer close(t.exited)
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop halts the refill goroutine. Calls to Wait after Stop drain whatever
// tokens remain and then block until their context ends.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.done)
	<-t.exited
}

// Unlimited never blocks unless the context is already done.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
