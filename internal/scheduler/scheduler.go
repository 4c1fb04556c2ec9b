// Package scheduler runs a job on a fixed interval in the background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TickFunc is one run of the scheduled job.
type TickFunc func(ctx context.Context) error

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithName labels the scheduler in logs.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Name      string        `json:"name"`
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Ticks     int64         `json:"ticks"`
	LastTick  time.Time     `json:"last_tick,omitzero"`
	LastError string        `json:"last_error,omitempty"`
}

type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   TickFunc
	logger   *zap.Logger

	running atomic.Bool
	ticks   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu    sync.Mutex
	lastTick  time.Time
	lastError string
}

func New(interval time.Duration, tickFn TickFunc, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	s := &Scheduler{
		name:     "scheduler",
		interval: interval,
		tickFn:   tickFn,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("scheduler", s.name))
	return s, nil
}

// Start launches the loop and runs the first tick immediately. It returns
// false when the scheduler is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the running tick and waits for the loop to exit.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return Status{
		Name:      s.name,
		Running:   s.running.Load(),
		Interval:  s.interval,
		Ticks:     s.ticks.Load(),
		LastTick:  s.lastTick,
		LastError: s.lastError,
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	err := s.run(ctx)
	s.ticks.Add(1)

	s.lastMu.Lock()
	s.lastTick = start
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.lastMu.Unlock()

	if err != nil {
		s.logger.Error("scheduler tick failed", zap.Error(err), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return
	}
	s.logger.Debug("scheduler tick completed", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}

func (s *Scheduler) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic recovered: %v", r)
		}
	}()
	return s.tickFn(ctx)
}
