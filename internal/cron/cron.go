// Package cron fires orchestrator cycles for configured cron triggers.
package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"

	robfig "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/model"
)

// CycleRunner is the part of the orchestrator the scheduler drives.
type CycleRunner interface {
	ReloadConfig(ctx context.Context) error
	Triggers() []model.Trigger
	RunCycle(ctx context.Context, trigger model.Trigger) (model.Cycle, error)
}

// ErrorHandler receives cycle-level failures. It must not block for long.
type ErrorHandler func(err error, trigger model.Trigger)

// Scheduler owns one cron instance at a time.
type Scheduler struct {
	mu      sync.Mutex
	runner  CycleRunner
	onError ErrorHandler
	cron    *robfig.Cron
}

// New creates a stopped scheduler.
func New(runner CycleRunner, onError ErrorHandler) *Scheduler {
	return &Scheduler{runner: runner, onError: onError}
}

// Start reloads the configuration and schedules every cron trigger with a
// valid expression. Invalid expressions are skipped. Jobs run with ctx, so a
// later Stop does not abort a cycle in flight. Start replaces any previous
// schedule.
func (s *Scheduler) Start(ctx context.Context) (int, error) {
	if err := s.runner.ReloadConfig(ctx); err != nil {
		return 0, fmt.Errorf("reload config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	c := robfig.New()
	scheduled := 0
	for _, trigger := range s.runner.Triggers() {
		if trigger.Type != model.TriggerCron || strings.TrimSpace(trigger.Schedule) == "" {
			continue
		}
		schedule, err := robfig.ParseStandard(trigger.Schedule)
		if err != nil {
			log.Warn().Err(err).Str("trigger", trigger.Name).Str("schedule", trigger.Schedule).Msg("skipping invalid cron expression")
			continue
		}
		c.Schedule(schedule, robfig.FuncJob(s.job(ctx, trigger)))
		scheduled++
	}
	c.Start()
	s.cron = c

	log.Info().Int("jobs", scheduled).Msg("cron scheduler started")
	return scheduled, nil
}

// Stop cancels all future firings. It does not wait for running cycles and
// is safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Restart is Stop followed by Start.
func (s *Scheduler) Restart(ctx context.Context) (int, error) {
	s.Stop()
	return s.Start(ctx)
}

// Jobs returns the number of scheduled entries.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

func (s *Scheduler) stopLocked() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	for _, entry := range s.cron.Entries() {
		s.cron.Remove(entry.ID)
	}
	s.cron = nil
}

func (s *Scheduler) job(ctx context.Context, trigger model.Trigger) func() {
	return func() {
		defer func() {
			if p := recover(); p != nil {
				s.report(fmt.Errorf("cycle panicked: %v", p), trigger)
			}
		}()
		cycle, err := s.runner.RunCycle(ctx, trigger)
		if err != nil {
			s.report(err, trigger)
			return
		}
		log.Info().Str("cycle_id", cycle.ID).Str("trigger", trigger.Name).Int("surfaced", len(cycle.Surfaced)).Msg("cron cycle completed")
	}
}

func (s *Scheduler) report(err error, trigger model.Trigger) {
	log.Error().Err(err).Str("trigger", trigger.Name).Msg("cron cycle failed")
	if s.onError == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Interface("panic", p).Msg("cron error handler panicked")
		}
	}()
	s.onError(err, trigger)
}
