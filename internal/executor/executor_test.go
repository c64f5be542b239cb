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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

type fixture struct {
	store    *store.Store
	registry *tools.Registry
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := tools.NewRegistry(nil)
	return &fixture{
		store:    st,
		registry: registry,
		executor: New(st, registry, nil),
	}
}

func (f *fixture) define(t *testing.T, name string, handler tools.Handler) {
	t.Helper()
	require.NoError(t, f.registry.Define(tools.Definition{Name: name}))
	require.NoError(t, f.registry.Bind(name, handler))
}

func (f *fixture) automation(t *testing.T, steps []store.Step) *store.Automation {
	t.Helper()
	a := &store.Automation{
		ID:      "auto_1",
		UserID:  "user_1",
		Name:    "test",
		Trigger: &triggers.Trigger{Type: triggers.TypeManual},
		Steps:   steps,
		Status:  store.StatusActive,
	}
	require.NoError(t, f.store.CreateAutomation(context.Background(), a))
	return a
}

func (f *fixture) pending(t *testing.T, automationID, executionID string) {
	t.Helper()
	require.NoError(t, f.store.CreateExecution(context.Background(), &store.Execution{
		ID: executionID, AutomationID: automationID, UserID: "user_1",
	}))
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "fetch", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return map[string]any{"price": 42.5}, nil
	})
	var sawParams map[string]any
	f.define(t, "notify", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		sawParams = params
		return map[string]any{"sent": true}, nil
	})

	a := f.automation(t, []store.Step{
		{Tool: "fetch", OutputAs: "quote"},
		{Tool: "notify", Params: map[string]any{
			"message": "price is {{quote.price}}",
			"raw":     "{{step_1.price}}",
		}},
	})
	f.pending(t, a.ID, "exec_1")

	require.NoError(t, f.executor.Execute(ctx, a, "exec_1", User{ID: "user_1"}, map[string]any{"triggerType": "manual"}))

	// Variable resolution: embedded refs stringify, exact refs keep type.
	assert.Equal(t, "price is 42.5", sawParams["message"])
	assert.Equal(t, 42.5, sawParams["raw"])

	exec, err := f.store.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	assert.Equal(t, store.ExecSuccess, exec.Status)
	require.NotNil(t, exec.FinishedAt)
	assert.NotNil(t, exec.ContextSnapshot["stepOutputs"])

	results, err := f.store.ListStepResults(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "success", results[1].Status)

	log, err := f.store.ListStateLog(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, store.ExecRunning, log[0].To)
	assert.Equal(t, store.ExecSuccess, log[1].To)
}

func TestExecuteStepFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "ok", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})
	f.define(t, "explode", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return nil, &errors.IntegrationError{Tool: "explode", StatusCode: 400, Message: "bad input"}
	})
	f.define(t, "never", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		t.Fatal("step after failure must not run")
		return nil, nil
	})

	a := f.automation(t, []store.Step{
		{Tool: "ok"}, {Tool: "explode"}, {Tool: "never"},
	})
	f.pending(t, a.ID, "exec_1")

	err := f.executor.Execute(ctx, a, "exec_1", User{ID: "user_1"}, nil)
	require.Error(t, err)

	var sf *errors.StepFailedError
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, 2, sf.StepIndex)
	assert.Equal(t, "explode", sf.Tool)

	exec, getErr := f.store.GetExecution(ctx, "exec_1")
	require.NoError(t, getErr)
	assert.Equal(t, store.ExecFailed, exec.Status)
	assert.Contains(t, exec.Error, "step 2")
	assert.NotNil(t, exec.ContextSnapshot)

	// Step results are a prefix: one success, one trailing failure.
	results, listErr := f.store.ListStepResults(ctx, "exec_1")
	require.NoError(t, listErr)
	require.Len(t, results, 2)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "failed", results[1].Status)
	assert.NotEmpty(t, results[1].Error)
}

func TestExecuteRetriesTransient(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}

	f := newFixture(t)
	ctx := context.Background()

	calls := 0
	f.define(t, "flaky", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, &errors.IntegrationError{Tool: "flaky", Message: "connection reset by peer", Transient: true}
		}
		return map[string]any{"ok": true}, nil
	})

	a := f.automation(t, []store.Step{{Tool: "flaky"}})
	f.pending(t, a.ID, "exec_1")

	require.NoError(t, f.executor.Execute(ctx, a, "exec_1", User{ID: "user_1"}, nil))
	assert.Equal(t, 2, calls)

	results, err := f.store.ListStepResults(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Retries)

	// Retrying entries are bracketed by running on both sides.
	log, err := f.store.ListStateLog(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.Equal(t, store.ExecRetrying, log[1].To)
	assert.Equal(t, float64(1), log[1].Metadata["attempt"])
	assert.NotEmpty(t, log[1].Metadata["error"])
	assert.Equal(t, store.ExecRunning, log[2].To)
	assert.Equal(t, float64(2), log[2].Metadata["next_attempt"])
	assert.Equal(t, store.ExecSuccess, log[3].To)
}

func TestExecuteUnknownTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "fetch_stock_price", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return nil, nil
	})

	a := f.automation(t, []store.Step{{Tool: "fetch_stonk_price"}})
	f.pending(t, a.ID, "exec_1")

	err := f.executor.Execute(ctx, a, "exec_1", User{ID: "user_1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "fetch_stock_price"?`)

	exec, getErr := f.store.GetExecution(ctx, "exec_1")
	require.NoError(t, getErr)
	assert.Equal(t, store.ExecFailed, exec.Status)
}

func TestExecutePanicCaptured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "kaboom", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		panic("nil map write")
	})

	a := f.automation(t, []store.Step{{Tool: "kaboom"}})
	f.pending(t, a.ID, "exec_1")

	err := f.executor.Execute(ctx, a, "exec_1", User{ID: "user_1"}, nil)
	require.Error(t, err)

	var ie *errors.InternalError
	assert.True(t, errors.As(err, &ie))

	exec, getErr := f.store.GetExecution(ctx, "exec_1")
	require.NoError(t, getErr)
	assert.Equal(t, store.ExecFailed, exec.Status)
}

func TestExecuteSchemaValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Define(tools.Definition{
		Name: "mail",
		InputSchema: &tools.InputSchema{
			Type:     "object",
			Required: []string{"to"},
		},
	}))
	require.NoError(t, f.registry.Bind("mail", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return map[string]any{}, nil
	}))

	a := f.automation(t, []store.Step{{Tool: "mail", Params: map[string]any{"subject": "hi"}}})
	f.pending(t, a.ID, "exec_1")

	err := f.executor.Execute(ctx, a, "exec_1", User{ID: "user_1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `requires parameter "to"`)
}

func TestDispatchCreatesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "noop", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	a := f.automation(t, []store.Step{{Tool: "noop"}})

	executionID, err := f.executor.Dispatch(ctx, a, "interval", map[string]any{"triggerType": "interval"}, User{ID: "user_1"})
	require.NoError(t, err)
	assert.Contains(t, executionID, "exec_")

	exec, err := f.store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, "interval", exec.TriggerType)
	assert.Equal(t, store.ExecSuccess, exec.Status)
}
