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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

func TestExecuteToolRecordsExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "echo", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return map[string]any{"echoed": params["value"]}, nil
	})
	a := f.automation(t, nil)

	result, err := f.executor.ExecuteTool(ctx, a.ID, "echo", map[string]any{"value": "hi"}, User{ID: "user_1"})
	require.NoError(t, err)
	assert.Contains(t, result.ExecutionID, "rpc_")
	assert.Equal(t, map[string]any{"echoed": "hi"}, result.Output)
	assert.Zero(t, result.Retries)

	exec, err := f.store.GetExecution(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "rpc", exec.TriggerType)
	assert.Equal(t, store.ExecSuccess, exec.Status)
	require.NotNil(t, exec.FinishedAt)

	results, err := f.store.ListStepResults(ctx, result.ExecutionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "echo", results[0].Tool)
	assert.Equal(t, "success", results[0].Status)
}

func TestExecuteToolFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "reject", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return nil, &errors.IntegrationError{Tool: "reject", StatusCode: 403, Message: "forbidden"}
	})
	a := f.automation(t, nil)

	result, err := f.executor.ExecuteTool(ctx, a.ID, "reject", nil, User{ID: "user_1"})
	require.Error(t, err)
	require.NotNil(t, result)

	exec, getErr := f.store.GetExecution(ctx, result.ExecutionID)
	require.NoError(t, getErr)
	assert.Equal(t, store.ExecFailed, exec.Status)
	assert.Contains(t, exec.Error, "forbidden")
}

func TestExecuteToolUnknownTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.define(t, "http_request", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		return nil, nil
	})
	a := f.automation(t, nil)

	_, err := f.executor.ExecuteTool(ctx, a.ID, "http_reqest", nil, User{ID: "user_1"})
	require.Error(t, err)

	var use *errors.UnsupportedStepError
	require.True(t, errors.As(err, &use))
	assert.Contains(t, err.Error(), "http_request")

	// An unknown tool is rejected before any record is written.
	execs, listErr := f.store.ListExecutions(ctx, a.ID, 10)
	require.NoError(t, listErr)
	assert.Empty(t, execs)
}

func TestExecuteToolValidatesSchema(t *testing.T) {
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
	a := f.automation(t, nil)

	_, err := f.executor.ExecuteTool(ctx, a.ID, "mail", map[string]any{"subject": "hi"}, User{ID: "user_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `requires parameter "to"`)
}
