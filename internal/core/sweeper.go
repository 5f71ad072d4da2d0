// ABOUTME: Background sweeper that purges expired processed-message records on an interval
// ABOUTME: Complements the lazy purge on insert for deployments with long idle periods
package core

import (
	"context"
	"sync"
	"time"

	"github.com/harper/threadkeeper/internal/logger"
)

// Purger deletes expired records and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper calls a Purger periodically until stopped.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. Intervals below one second are raised to one second.
func NewSweeper(p Purger, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{purger: p, interval: interval, log: log}
}

// Start launches the sweep loop. Calling Start on a running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single purge. Errors are logged, not returned; the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.log.Warn("processed message sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		s.log.Info("processed messages purged", "count", n)
	}
	return n
}
