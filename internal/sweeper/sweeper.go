// Package sweeper runs a cleanup task on a fixed interval in the background.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// Func performs one sweep and returns how many items it removed.
type Func func(ctx context.Context) (int, error)

// Sweeper calls a Func every interval until stopped. A failed sweep is logged and
// the next tick runs as usual.
type Sweeper struct {
	name     string
	interval time.Duration
	fn       Func
	logger   *zap.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	runs     int
	removed  int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets a logger for sweep results.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a sweeper named name that calls fn every interval.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Sweeper {
	s := &Sweeper{
		name:     name,
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Start launches the sweep loop. It runs until ctx is cancelled or Stop is called.
// A non-positive interval disables the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.interval <= 0 {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("sweeper started", zap.String("sweeper", s.name), zap.Duration("interval", s.interval))
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs the task once and returns the number of removed items.
func (s *Sweeper) Sweep(ctx context.Context) int {
	start := time.Now()
	n, err := s.call(ctx)

	s.mu.Lock()
	s.runs++
	s.removed += n
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("sweep failed", zap.String("sweeper", s.name), zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("sweep removed items", zap.String("sweeper", s.name), zap.Int("removed", n),
			zap.Duration("duration", time.Since(start)))
	} else {
		s.logger.Debug("sweep found nothing", zap.String("sweeper", s.name))
	}
	return n
}

// call runs fn, turning a panic into an error so the loop survives it.
func (s *Sweeper) call(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("sweep panicked: %v", r)
		}
	}()
	return s.fn(ctx)
}

// Stop ends the sweep loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()
		if !started {
			return
		}
		cancel()
		<-s.done
		s.logger.Debug("sweeper stopped", zap.String("sweeper", s.name))
	})
}

// Stats returns how many sweeps ran and how many items they removed in total.
func (s *Sweeper) Stats() (runs, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.removed
}
