// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/errors"
)

// JobFunc fires an automation's trigger: dispatching an execution for
// interval/daily triggers, or polling the feed for rss triggers. Chosen by
// the daemon at wiring time.
type JobFunc func(ctx context.Context, automation *store.Automation)

// job is one registered automation schedule.
type job struct {
	automation *store.Automation
	expr       *Expr
	next       time.Time
	runCount   int64
	errorCount int64
}

// Scheduler drives interval, daily, and rss-poll schedules off a 1-second
// tick, keyed by automation id.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	store    *store.Store
	dispatch JobFunc
	logger   *slog.Logger

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a scheduler. dispatch is called on every due tick and on
// the immediate run after activation.
func New(st *store.Store, dispatch JobFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     make(map[string]*job),
		store:    st,
		dispatch: dispatch,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// LoadActive registers every active automation whose trigger carries a
// schedule (interval, daily, rss). Called once at process start.
func (s *Scheduler) LoadActive(ctx context.Context) error {
	active, err := s.store.ListAutomations(ctx, store.AutomationFilter{Status: store.StatusActive})
	if err != nil {
		return errors.Wrap(err, "loading active automations")
	}

	for _, automation := range active {
		if !scheduled(automation.Trigger) {
			continue
		}
		if err := s.register(automation); err != nil {
			s.logger.Warn("skipping automation with unschedulable trigger",
				"automation_id", automation.ID,
				"trigger", automation.Trigger.String(),
				"error", err)
		}
	}

	s.logger.Info("schedules loaded", slog.Int("jobs", s.JobCount()))
	return nil
}

// Activate transitions an automation to active, registers its schedule,
// and runs it once immediately in the background. If registration fails,
// the status change is rolled back so scheduler state and store state
// stay consistent.
func (s *Scheduler) Activate(ctx context.Context, automationID string) error {
	automation, err := s.store.GetAutomation(ctx, automationID)
	if err != nil {
		return err
	}
	previous := automation.Status

	if err := s.store.UpdateAutomationStatus(ctx, automationID, store.StatusActive); err != nil {
		return err
	}
	automation.Status = store.StatusActive

	if scheduled(automation.Trigger) {
		if err := s.register(automation); err != nil {
			if rollbackErr := s.store.UpdateAutomationStatus(ctx, automationID, previous); rollbackErr != nil {
				s.logger.Error("failed to roll back status after scheduling failure",
					"automation_id", automationID,
					"error", rollbackErr)
			}
			return errors.Wrapf(err, "scheduling automation %s", automationID)
		}

		// Immediate run for responsiveness; outcome lands in the
		// execution log like any other tick.
		go s.dispatch(context.WithoutCancel(ctx), automation)
	}

	return nil
}

// Deactivate pauses an automation and cancels its schedule.
func (s *Scheduler) Deactivate(ctx context.Context, automationID string) error {
	if err := s.store.UpdateAutomationStatus(ctx, automationID, store.StatusPaused); err != nil {
		return err
	}
	s.remove(automationID)
	return nil
}

// Remove drops an automation's schedule without touching its status.
// Used when an automation is deleted.
func (s *Scheduler) Remove(automationID string) {
	s.remove(automationID)
}

// JobCount returns the number of registered schedules.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts the tick loop and waits for it to exit. In-flight jobs are
// not interrupted; the runner drains them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) register(automation *store.Automation) error {
	cronExpr, err := automation.Trigger.ToCron()
	if err != nil {
		return err
	}
	expr, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[automation.ID] = &job{
		automation: automation,
		expr:       expr,
		next:       expr.Next(time.Now()),
	}
	metrics.SetScheduledJobs(len(s.jobs))
	return nil
}

func (s *Scheduler) remove(automationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, automationID)
	metrics.SetScheduledJobs(len(s.jobs))
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.next.IsZero() || now.Before(j.next) {
			continue
		}

		s.logger.Debug("trigger due",
			"automation_id", j.automation.ID,
			"trigger", j.automation.Trigger.String())

		go s.dispatch(ctx, j.automation)
		j.next = j.expr.Next(now)
		j.runCount++
	}
}

// scheduled reports whether a trigger belongs on this scheduler: interval
// and daily triggers fire executions, rss triggers fire feed polls.
func scheduled(t *triggers.Trigger) bool {
	return t != nil && (t.Schedulable() || t.Type == triggers.TypeRSS)
}
