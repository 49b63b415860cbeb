package backoff

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// DefaultPolicy matches the publish retry defaults used elsewhere in the
// service.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// done. The delay between attempts grows by Multiplier each time.
func (p Policy) Retry(ctx context.Context, fn func() error) error {
	p = p.normalized()

	var lastErr error
	delay := p.BaseDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.MaxRetries+1, lastErr)
}
