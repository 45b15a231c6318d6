// Package worker hosts the background entrypoints: the cron scheduler that
// drives agent runs, digests, and cleanup.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/AliedRevenue/family-concierge-sub000/pkg/cache"
)

// Job kinds used for per-kind serialization and run locks.
const (
	JobAgentRun     = "agent_run"
	JobDailyDigest  = "digest_daily"
	JobWeeklyDigest = "digest_weekly"
	JobCleanup      = "cleanup"
)

// drainTimeout bounds how long Stop waits for in-flight jobs.
const drainTimeout = 30 * time.Second

// Scheduler wraps robfig/cron with two guarantees the agent needs: a job kind
// never overlaps itself (in-process flag plus an advisory redis lock), and
// shutdown cancels in-flight work then drains with a deadline. Ticks missed
// while down are not re-fired.
type Scheduler struct {
	cron   *cron.Cron
	lock   *cache.RunLock
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler creates a scheduler. lock may be nil; per-kind serialization
// within the process still holds.
func NewScheduler(lock *cache.RunLock) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron:    cron.New(),
		lock:    lock,
		log:     zlog,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// AddJob registers fn under the cron spec. lockTTL bounds how long a crashed
// holder can block the next run of the same kind.
func (s *Scheduler) AddJob(kind, spec string, lockTTL time.Duration, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(kind, lockTTL, fn)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("kind", kind).Str("spec", spec).Msg("registered job")
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts new triggers, cancels in-flight jobs, and waits up to the drain
// timeout for them to finish. Cancellation must come before any waiting: a
// job blocked on its context would otherwise hold shutdown open.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
	case <-time.After(drainTimeout):
		s.log.Warn().Dur("timeout", drainTimeout).Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) runJob(kind string, lockTTL time.Duration, fn func(ctx context.Context) error) {
	if s.ctx.Err() != nil {
		return
	}

	if !s.tryBegin(kind) {
		s.log.Warn().Str("kind", kind).Msg("skipping: previous run still in flight")
		return
	}
	defer s.end(kind)

	if s.lock != nil {
		ok, err := s.lock.Acquire(s.ctx, kind, lockTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("kind", kind).Msg("run lock check failed, running anyway")
		} else if !ok {
			s.log.Warn().Str("kind", kind).Msg("skipping: run lock held elsewhere")
			return
		} else {
			defer func() {
				if err := s.lock.Release(context.Background(), kind); err != nil {
					s.log.Warn().Err(err).Str("kind", kind).Msg("failed to release run lock")
				}
			}()
		}
	}

	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	s.log.Info().Str("kind", kind).Msg("job started")
	if err := fn(s.ctx); err != nil {
		s.log.Error().Err(err).Str("kind", kind).Dur("duration", time.Since(start)).Msg("job failed")
		return
	}
	s.log.Info().Str("kind", kind).Dur("duration", time.Since(start)).Msg("job finished")
}

func (s *Scheduler) tryBegin(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[kind] {
		return false
	}
	s.running[kind] = true
	return true
}

func (s *Scheduler) end(kind string) {
	s.mu.Lock()
	delete(s.running, kind)
	s.mu.Unlock()
}
