package fetch

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	// MaxAttempts is the total number of tries. Default: 3.
	MaxAttempts int
	// BaseDelay is the first backoff delay; attempt n waits
	// BaseDelay * 2^n. Default: 1s.
	BaseDelay time.Duration
	// JitterWindow is the width of the random jitter added to each delay,
	// spreading synchronized retries apart. Default: 500ms.
	JitterWindow time.Duration
}

func (p *Policy) defaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.JitterWindow <= 0 {
		p.JitterWindow = 500 * time.Millisecond
	}
}

// Delay returns the backoff before retry attempt (0-based), jittered.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * (1 << attempt)
	// Jitter in [-window/2, +window/2).
	j := time.Duration(rand.Int63n(int64(p.JitterWindow))) - p.JitterWindow/2
	if d+j < 0 {
		return 0
	}
	return d + j
}

// Retry runs fn up to p.MaxAttempts times, sleeping p.Delay between
// attempts. The last error is returned when every attempt fails.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	p.defaults()
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if serr := sleepCtx(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

// RateLimitPolicy is the schedule for 429-class responses on detail-link
// fetches: three retries at 5s, 10s, 20s, then give up on the link.
var RateLimitPolicy = Policy{MaxAttempts: 4, BaseDelay: 5 * time.Second, JitterWindow: time.Millisecond}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
