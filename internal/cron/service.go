package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
)

const defaultInterval = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval between ticks; zero means one minute.
	Interval time.Duration
}

// Service ticks on a fixed interval. Each tick takes the shared lock and runs
// every registered job in order; replicas that miss the lock skip the tick.
type Service struct {
	logg     *logger.Logger
	jobs     *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.Lock == nil:
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:     p.Logger,
		jobs:     p.Registry,
		lock:     p.Lock,
		metrics:  p.Metrics,
		interval: p.Interval,
	}
	if s.jobs == nil {
		s.jobs = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// JobNames lists the jobs run on each tick, in order.
func (s *Service) JobNames() []string {
	return s.jobs.Names()
}

// Start runs the loop on a background goroutine. Calling Start on a running
// service does nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		_ = s.Run(runCtx)
	}()
}

// Stop cancels a started loop and waits for the in-flight tick to return.
// It is safe to call more than once or without Start.
func (s *Service) Stop() {
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

// Run ticks immediately and then every interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.tick(ctx); err != nil {
			s.logg.Error(ctx, "cron.tick_failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	owned, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !owned {
		s.metrics.IncLockSkipped()
		s.logg.Debug(ctx, "cron.lock_held_elsewhere")
		return nil
	}
	defer func() {
		// the tick context may already be canceled on shutdown
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron.lock_release_failed", err)
		}
	}()

	for _, job := range s.jobs.Jobs() {
		if ctx.Err() != nil {
			break
		}
		s.runJob(ctx, job)
	}
	return nil
}

// runJob never fails the tick; one broken job must not starve the others.
func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	started := time.Now()
	err := job.Run(ctx)
	took := time.Since(started)
	s.metrics.ObserveRun(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron.job_failed", err)
		return
	}
	s.logg.Debug(ctx, "cron.job_done")
}
