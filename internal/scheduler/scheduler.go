package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DailyJob     = "daily-azan-reschedule"
	ImmediateJob = "immediate-azan-reschedule"

	DefaultSpec = "1 0 * * *"
	DefaultFlex = 15 * time.Minute
)

var ErrUnknownJob = errors.New("unknown job")

// Reason says why a reconciliation was requested.
type Reason string

const (
	ReasonDaily           Reason = "daily"
	ReasonAppStart        Reason = "app-start"
	ReasonBootCompleted   Reason = "boot-completed"
	ReasonTimeChanged     Reason = "time-changed"
	ReasonTimezoneChanged Reason = "timezone-changed"
	ReasonDateChanged     Reason = "date-changed"
	ReasonManual          Reason = "manual"
	ReasonSettingsChanged Reason = "settings-changed"
)

// Policy decides what happens when a job with the same name is still pending.
type Policy int

const (
	Keep Policy = iota
	Replace
)

// Runner is the reconciliation the host runs.
type Runner interface {
	Run(ctx context.Context) error
}

type Backoff struct {
	Base     time.Duration
	Factor   float64
	Max      time.Duration
	Attempts int
}

var DefaultBackoff = Backoff{Base: 30 * time.Second, Factor: 2, Max: 30 * time.Minute, Attempts: 5}

// Delay returns the wait before the given retry; attempt 1 is the first retry.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

type Config struct {
	Spec     string
	Flex     time.Duration
	Location *time.Location
	Backoff  Backoff
}

type JobStatus struct {
	Name    string    `json:"name"`
	Reason  Reason    `json:"reason"`
	Attempt int       `json:"attempt"`
	Running bool      `json:"running"`
	NextRun time.Time `json:"next_run,omitempty"`
}

type job struct {
	status JobStatus
	cancel context.CancelFunc
}

// Scheduler hosts the daily and on-demand reconciliation jobs. Jobs are
// unique by name and failed runs are retried with backoff.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	clock   clockwork.Clock
	cfg     Config
	jitter  func(time.Duration) time.Duration
	ctx     context.Context
	stopAll context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func New(cfg Config, runner Runner, clock clockwork.Clock) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Flex < 0 {
		cfg.Flex = 0
	}
	if cfg.Backoff.Attempts <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("parse daily spec %q: %w", cfg.Spec, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		runner:  runner,
		clock:   clock,
		cfg:     cfg,
		jitter:  randomJitter,
		ctx:     ctx,
		stopAll: cancel,
		jobs:    make(map[string]*job),
	}, nil
}

func randomJitter(flex time.Duration) time.Duration {
	if flex <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(flex)))
}

// Start registers the daily trigger and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Spec, s.daily); err != nil {
		return fmt.Errorf("add daily reschedule: %w", err)
	}

	s.cron.Start()
	log.Info().Str("component", "scheduler").Str("spec", s.cfg.Spec).
		Str("tz", s.cfg.Location.String()).Dur("flex", s.cfg.Flex).Msg("scheduler started")

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.stopAll()
	s.wg.Wait()
	log.Info().Str("component", "scheduler").Msg("scheduler stopped")
}

func (s *Scheduler) daily() {
	s.enqueue(DailyJob, Keep, ReasonDaily, s.jitter(s.cfg.Flex))
}

// Trigger requests an immediate reconciliation. A pending immediate job is
// replaced by this one.
func (s *Scheduler) Trigger(reason Reason) {
	s.enqueue(ImmediateJob, Replace, reason, 0)
}

func (s *Scheduler) enqueue(name string, policy Policy, reason Reason, delay time.Duration) bool {
	logger := log.With().Str("component", "scheduler").Str("job", name).Str("reason", string(reason)).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		logger.Warn().Msg("scheduler stopped, job dropped")
		return false
	}

	if existing, ok := s.jobs[name]; ok {
		if policy == Keep {
			logger.Debug().Msg("job already pending, keeping it")
			return false
		}
		existing.cancel()
		logger.Debug().Str("replaced", string(existing.status.Reason)).Msg("pending job replaced")
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{
		status: JobStatus{Name: name, Reason: reason, NextRun: s.clock.Now().Add(delay)},
		cancel: cancel,
	}
	s.jobs[name] = j

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(ctx, j, delay)
	}()
	return true
}

func (s *Scheduler) execute(ctx context.Context, j *job, delay time.Duration) {
	logger := log.With().Str("component", "scheduler").Str("job", j.status.Name).Str("reason", string(j.status.Reason)).Logger()
	defer s.finish(j)

	if !s.wait(ctx, delay) {
		return
	}

	for attempt := 0; ; attempt++ {
		s.update(j, func(st *JobStatus) {
			st.Attempt = attempt + 1
			st.Running = true
		})

		// Runs against the host context; replacing a job only cancels its waits.
		err := s.runner.Run(s.ctx)

		s.update(j, func(st *JobStatus) { st.Running = false })
		if err == nil {
			logger.Debug().Int("attempt", attempt+1).Msg("job finished")
			return
		}

		if attempt+1 >= s.cfg.Backoff.Attempts {
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("job failed, giving up")
			return
		}

		backoff := s.cfg.Backoff.Delay(attempt + 1)
		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", backoff).Msg("job failed, retrying")
		s.update(j, func(st *JobStatus) { st.NextRun = s.clock.Now().Add(backoff) })

		if !s.wait(ctx, backoff) {
			return
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (s *Scheduler) update(j *job, fn func(*JobStatus)) {
	s.mu.Lock()
	fn(&j.status)
	s.mu.Unlock()
}

func (s *Scheduler) finish(j *job) {
	s.mu.Lock()
	if s.jobs[j.status.Name] == j {
		delete(s.jobs, j.status.Name)
	}
	s.mu.Unlock()
}

// Status reports a pending or running job by name.
func (s *Scheduler) Status(name string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return JobStatus{}, fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return j.status, nil
}

func (s *Scheduler) Pending() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// NextDaily is the next cron fire time, zero before Start.
func (s *Scheduler) NextDaily() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
