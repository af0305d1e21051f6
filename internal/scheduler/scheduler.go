package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"station-alerts/internal/logging"
)

// Job is one periodic entry. Run must return once its work is done; it is
// never invoked while a previous invocation of the same job is running.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Stats is a point-in-time view of one job.
type Stats struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
	Runs     int64         `json:"runs"`
	Skips    int64         `json:"skips"`
	Failures int64         `json:"failures"`
	NextDue  time.Time     `json:"next_due"`
}

type entry struct {
	job      Job
	running  atomic.Bool
	runs     atomic.Int64
	skips    atomic.Int64
	failures atomic.Int64

	mu   sync.Mutex
	next time.Time
}

// Scheduler checks its jobs every tick and starts those that are due.
type Scheduler struct {
	tick   time.Duration
	now    func() time.Time
	logger *logging.Logger

	mu      sync.Mutex
	entries []*entry
	started bool

	wg sync.WaitGroup
}

type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(tick time.Duration, logger *logging.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	if tick <= 0 {
		tick = time.Second
	}
	s := &Scheduler{tick: tick, now: time.Now, logger: logger.Component("scheduler")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Jobs must be added before Run.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already running", job.Name)
	}
	for _, e := range s.entries {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.entries = append(s.entries, &entry{job: job})
	return nil
}

// Run ticks until ctx is cancelled, then waits for running jobs to finish.
// Each job first fires one interval after Run starts.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.started = true
	start := s.now()
	for _, e := range s.entries {
		e.setNext(start.Add(e.job.Interval))
		s.logger.WithFields(logrus.Fields{"job": e.job.Name, "interval": e.job.Interval.String()}).Info("Job scheduled")
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping, waiting for running jobs")
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.dispatch(ctx, s.now())
		}
	}
}

// dispatch starts every job due at now. A due job whose previous run has
// not finished is skipped, not queued.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if !e.due(now) {
			continue
		}
		log := s.logger.WithField("job", e.job.Name)
		if !e.running.CompareAndSwap(false, true) {
			skipped := e.skips.Add(1)
			log.WithField("skips", skipped).Warn("Skipping tick: previous run still in progress")
			continue
		}
		e.runs.Add(1)

		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			defer e.running.Store(false)
			// A started cycle finishes even when shutdown begins.
			if err := e.job.Run(context.WithoutCancel(ctx)); err != nil {
				e.failures.Add(1)
				log.Errorf("Job failed: %v", err)
			}
		}(e)
	}
}

// Stats returns counters for every job in registration order.
func (s *Scheduler) Stats() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Stats, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		next := e.next
		e.mu.Unlock()
		list = append(list, Stats{
			Name:     e.job.Name,
			Interval: e.job.Interval,
			Running:  e.running.Load(),
			Runs:     e.runs.Load(),
			Skips:    e.skips.Load(),
			Failures: e.failures.Load(),
			NextDue:  next,
		})
	}
	return list
}

func (e *entry) setNext(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = t
}

// due reports whether the job should fire at now and advances its next slot
// past now, dropping slots missed while the process was busy.
func (e *entry) due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Before(e.next) {
		return false
	}
	for !e.next.After(now) {
		e.next = e.next.Add(e.job.Interval)
	}
	return true
}
