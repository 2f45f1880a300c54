package scraper

import (
	"context"
	"math/rand"
	"time"
)

// Pacer sleeps a bounded random interval between externally observable
// actions, keeping the request cadence irregular enough to avoid
// behavioral fingerprinting.
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

// DefaultPacer matches the observed 2-8 second cadence.
func DefaultPacer() Pacer {
	return Pacer{Min: 2 * time.Second, Max: 8 * time.Second}
}

// Pause blocks for a random duration in [Min, Max], or until the context
// finishes. A zero pacer returns immediately.
func (p Pacer) Pause(ctx context.Context) error {
	d := p.next()
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

func (p Pacer) next() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)+1))
}
