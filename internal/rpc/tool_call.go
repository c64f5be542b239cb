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

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/relay/internal/executor"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/pkg/errors"
)

// callResult is the success payload returned as the tool result text.
type callResult struct {
	ExecutionID string         `json:"execution_id"`
	Output      map[string]any `json:"output"`
	Retries     int            `json:"retries,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}

// callError is the failure payload. Failures travel inside the result
// envelope (IsError), not as JSON-RPC protocol errors; a failed tool call
// is still a successful RPC exchange.
type callError struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Transient   bool   `json:"transient,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// callHandler returns the MCP handler that runs one named tool through the
// executor's single-step path.
func (s *Server) callHandler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.ensureAnchor(ctx); err != nil {
			s.logger.Error("tool call rejected", log.Error(err))
			metrics.RecordRPCRequest("tools/call", "error")
			return errorResult("", err), nil
		}

		params := request.GetArguments()
		result, err := s.executor.ExecuteTool(ctx, anchorAutomationID, toolName, params,
			executor.User{ID: "system"})
		if err != nil {
			executionID := ""
			if result != nil {
				executionID = result.ExecutionID
			}
			metrics.RecordRPCRequest("tools/call", "error")
			return errorResult(executionID, err), nil
		}

		payload, marshalErr := json.Marshal(callResult{
			ExecutionID: result.ExecutionID,
			Output:      result.Output,
			Retries:     result.Retries,
			DurationMS:  result.DurationMS,
		})
		if marshalErr != nil {
			metrics.RecordRPCRequest("tools/call", "error")
			return errorResult(result.ExecutionID, errors.Wrap(marshalErr, "encoding tool result")), nil
		}

		metrics.RecordRPCRequest("tools/call", "ok")
		s.logger.Info("tool call served",
			slog.String(log.ToolKey, toolName),
			slog.String(log.ExecutionIDKey, result.ExecutionID))
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// errorResult encodes a failure into the tool-result envelope.
func errorResult(executionID string, err error) *mcp.CallToolResult {
	ce := callError{
		ExecutionID: executionID,
		Kind:        "internal",
		Message:     err.Error(),
		Transient:   errors.IsTransient(err),
	}

	var ve *errors.ValidationError
	var use *errors.UnsupportedStepError
	var ie *errors.IntegrationError
	switch {
	case errors.As(err, &ve):
		ce.Kind = "validation"
		ce.Suggestion = ve.Suggestion
	case errors.As(err, &use):
		ce.Kind = "unknown_tool"
		if use.Suggestion != "" {
			ce.Suggestion = fmt.Sprintf("did you mean %q?", use.Suggestion)
		}
	case errors.As(err, &ie):
		ce.Kind = "integration"
	}

	payload, marshalErr := json.Marshal(ce)
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}

	result := mcp.NewToolResultText(string(payload))
	result.IsError = true
	return result
}
