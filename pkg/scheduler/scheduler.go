// Package scheduler runs active scan configs on their intervals. Each
// scheduled config gets its own goroutine; the config is re-read from the
// database before every run so edits and deactivation take effect without
// rescheduling.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// ErrNotScheduled is returned when unscheduling a config with no job.
var ErrNotScheduled = errors.New("config is not scheduled")

// Runner launches one execution of a config. The scheduler does not care
// about the result, only whether dispatch succeeded.
type Runner interface {
	Execute(ctx context.Context, cfg *models.ScanConfig) (*models.AggregatedResult, error)
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the per-config timer jobs.
type Scheduler struct {
	db     db.Service
	runner Runner
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a Scheduler.
func New(database db.Service, runner Runner) *Scheduler {
	return &Scheduler{
		db:     database,
		runner: runner,
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
}

// Start schedules every active config already in the database.
func (s *Scheduler) Start(ctx context.Context) error {
	configs, err := s.db.ListScanConfigs(true)
	if err != nil {
		return err
	}

	for i := range configs {
		s.Schedule(ctx, &configs[i])
	}

	log.Printf("Scheduler started with %d active configs", len(configs))

	return nil
}

// Schedule starts (or restarts) the timer job for a config. An existing
// job for the same config is replaced.
func (s *Scheduler) Schedule(ctx context.Context, cfg *models.ScanConfig) {
	if cfg.Interval <= 0 {
		log.Printf("Config %s has no interval, not scheduling", cfg.ID)
		return
	}

	s.mu.Lock()

	if old, ok := s.jobs[cfg.ID]; ok {
		old.cancel()
		<-old.done
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[cfg.ID] = j

	s.mu.Unlock()

	go s.run(jobCtx, cfg.ID, cfg.Interval, j)

	log.Printf("Scheduled config %s every %s", cfg.ID, cfg.Interval)
}

// Unschedule stops the timer job for a config.
func (s *Scheduler) Unschedule(configID string) error {
	s.mu.Lock()

	j, ok := s.jobs[configID]
	if ok {
		delete(s.jobs, configID)
	}

	s.mu.Unlock()

	if !ok {
		return ErrNotScheduled
	}

	j.cancel()
	<-j.done

	log.Printf("Unscheduled config %s", configID)

	return nil
}

// Scheduled reports whether the config currently has a timer job.
func (s *Scheduler) Scheduled(configID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.jobs[configID]

	return ok
}

// Stop cancels every job and waits for them to wind down.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	jobs := s.jobs
	s.jobs = make(map[string]*job)

	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}

func (s *Scheduler) run(ctx context.Context, configID string, interval time.Duration, j *job) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.fire(ctx, configID) {
				s.mu.Lock()
				if s.jobs[configID] == j {
					delete(s.jobs, configID)
				}
				s.mu.Unlock()

				return
			}
		}
	}
}

// fire runs one scheduled execution. It returns false when the job should
// stop: the config vanished, was deactivated, or is not recurring.
func (s *Scheduler) fire(ctx context.Context, configID string) bool {
	cfg, err := s.db.GetScanConfig(configID)
	if err != nil {
		if errors.Is(err, db.ErrConfigNotFound) {
			log.Printf("Config %s deleted, stopping its job", configID)
			return false
		}

		log.Printf("Error reloading config %s, skipping run: %v", configID, err)

		return true
	}

	if !cfg.Active {
		log.Printf("Config %s deactivated, stopping its job", configID)
		return false
	}

	// Run times advance whether or not dispatch finds agents, so a
	// config without coverage does not retry in a tight loop.
	now := s.now()
	next := now.Add(cfg.Interval)

	if err := s.db.UpdateRunTimes(configID, now, next); err != nil {
		log.Printf("Error advancing run times for config %s: %v", configID, err)
	}

	if _, err := s.runner.Execute(ctx, cfg); err != nil {
		log.Printf("Scheduled execution of config %s failed: %v", configID, err)
	}

	if !cfg.Recurring {
		log.Printf("Config %s is one-shot, stopping its job", configID)
		return false
	}

	return true
}
