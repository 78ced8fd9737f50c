package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"smart-event-relay/internal/batch"
	"smart-event-relay/internal/config"
	"smart-event-relay/internal/cycle"
)

// Runner runs a named cycle
type Runner interface {
	Run(ctx context.Context, name string) ([]batch.Summary, error)
}

// Job is one cycle bound to its cron schedule
type Job struct {
	Cycle    string `json:"cycle"`
	Schedule string `json:"schedule"`
}

// JobStatus reports when a job last ran and runs next
type JobStatus struct {
	Job
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

// Scheduler triggers pipeline cycles on cron schedules. It is an optional
// trigger; every cycle can also be run on demand.
type Scheduler struct {
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	jobs      []Job
	runner    Runner
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// JobsFromConfig returns the cycle schedules configured for the scheduler
func JobsFromConfig(cfg config.SchedulerConfig) []Job {
	var jobs []Job
	for _, j := range []Job{
		{Cycle: "ingest", Schedule: cfg.IngestSchedule},
		{Cycle: "sync", Schedule: cfg.SyncSchedule},
		{Cycle: "dispatch", Schedule: cfg.DispatchSchedule},
	} {
		if j.Schedule != "" {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// NewScheduler creates a new scheduler
func NewScheduler(jobs []Job, runner Runner) *Scheduler {
	return &Scheduler{
		jobs:    jobs,
		runner:  runner,
		entries: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.VerbosePrintfLogger(logrus.StandardLogger()))),
	)
	entries := make(map[string]cron.EntryID, len(s.jobs))
	for _, job := range s.jobs {
		name := job.Cycle
		entryID, err := c.AddFunc(job.Schedule, func() { s.runCycle(name) })
		if err != nil {
			return fmt.Errorf("failed to add cron job for %s: %w", name, err)
		}
		entries[name] = entryID
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.entries = entries
	s.cron.Start()
	s.isRunning = true

	logrus.WithField("jobs", s.jobs).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any running cycles
	s.cancel()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runCycle(name string) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.WithField("cycle", name).Info("Scheduler not running, skipping cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.runner.Run(ctx, name); err != nil {
		logrus.WithError(err).WithField("cycle", name).Error("Scheduled cycle failed")
	}
}

// RunOnce runs a cycle immediately, independent of the schedule
func (s *Scheduler) RunOnce(ctx context.Context, name string) ([]batch.Summary, error) {
	logrus.WithField("cycle", name).Info("Running cycle once")
	return s.runner.Run(ctx, name)
}

// Status returns the schedule of every job. Run times are zero while stopped.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		st := JobStatus{Job: job}
		if s.isRunning {
			entry := s.cron.Entry(s.entries[job.Cycle])
			st.NextRun = entry.Next
			st.LastRun = entry.Prev
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// GetNextRun returns the earliest next run across all jobs
func (s *Scheduler) GetNextRun() time.Time {
	var next time.Time
	for _, st := range s.Status() {
		if !st.NextRun.IsZero() && (next.IsZero() || st.NextRun.Before(next)) {
			next = st.NextRun
		}
	}
	return next
}

// GetLastRun returns the latest previous run across all jobs
func (s *Scheduler) GetLastRun() time.Time {
	var last time.Time
	for _, st := range s.Status() {
		if st.LastRun.After(last) {
			last = st.LastRun
		}
	}
	return last
}

// Wait waits for running cycles to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

var _ Runner = (*cycle.Runner)(nil)
