package ratecontrol

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Spacer enforces a hard minimum interval between consecutive calls across
// every goroutine sharing it. One Spacer per upstream per process.
type Spacer struct {
	limiter *rate.Limiter
	spacing time.Duration
}

// NewSpacer returns a Spacer admitting one call per spacing. A non-positive
// spacing disables pacing.
func NewSpacer(spacing time.Duration) *Spacer {
	if spacing <= 0 {
		return &Spacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Spacer{limiter: rate.NewLimiter(rate.Every(spacing), 1), spacing: spacing}
}

// Wait blocks until the next call slot or until ctx is done.
func (s *Spacer) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// Spacing returns the configured interval.
func (s *Spacer) Spacing() time.Duration { return s.spacing }

// Backoff computes retry delays that double from Base up to Max.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Sleep waits Delay(attempt) or until ctx is done.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
