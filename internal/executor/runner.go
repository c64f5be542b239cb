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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/pkg/errors"
)

// Runner dispatches executions onto background goroutines with a
// concurrency cap. Trigger producers (scheduler ticks, RSS polls, webhook
// posts) all submit through it so the process has one place to drain on
// shutdown.
type Runner struct {
	executor *Executor
	logger   *slog.Logger

	semaphore chan struct{}
	draining  atomic.Bool
	active    atomic.Int64
	wg        sync.WaitGroup
}

// DefaultMaxParallel caps concurrent executions when no limit is
// configured.
const DefaultMaxParallel = 10

// NewRunner creates a runner over the executor.
func NewRunner(executor *Executor, maxParallel int, logger *slog.Logger) *Runner {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		executor:  executor,
		logger:    logger,
		semaphore: make(chan struct{}, maxParallel),
	}
}

// Submit creates the execution record and runs it in the background,
// returning the execution id immediately. Returns an error only when the
// runner is draining or the record cannot be created; execution failures
// are visible through the execution log.
func (r *Runner) Submit(ctx context.Context, automation *store.Automation, triggerType string, input map[string]any, user User) (string, error) {
	if r.draining.Load() {
		return "", errors.New("runner is draining, not accepting new executions")
	}

	executionID := NewExecutionID()
	err := r.executor.store.CreateExecution(ctx, &store.Execution{
		ID:           executionID,
		AutomationID: automation.ID,
		UserID:       automation.UserID,
		TriggerType:  triggerType,
		Input:        store.Sanitize(input),
	})
	if err != nil {
		return "", err
	}

	r.RunExisting(automation, executionID, input, user)
	return executionID, nil
}

// RunExisting runs an already-created execution record in the background.
// Webhook intake uses this after responding 200 with the execution id.
func (r *Runner) RunExisting(automation *store.Automation, executionID string, input map[string]any, user User) {
	r.wg.Add(1)
	r.active.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)

		r.semaphore <- struct{}{}
		defer func() { <-r.semaphore }()

		// Detached from the trigger's request context: the producer has
		// already responded by the time this runs.
		if err := r.executor.Execute(context.Background(), automation, executionID, user, input); err != nil {
			r.logger.Debug("background execution failed",
				"execution_id", executionID,
				"error", err)
		}
	}()
}

// ActiveCount returns the number of in-flight executions.
func (r *Runner) ActiveCount() int {
	return int(r.active.Load())
}

// StartDraining stops the runner accepting new submissions.
func (r *Runner) StartDraining() {
	r.draining.Store(true)
}

// WaitForDrain blocks until all active executions complete or the timeout
// elapses.
func (r *Runner) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			if remaining := r.ActiveCount(); remaining > 0 {
				return fmt.Errorf("drain timeout: %d execution(s) still running", remaining)
			}
			return nil
		case <-ticker.C:
			if r.ActiveCount() == 0 {
				return nil
			}
		}
	}
}
