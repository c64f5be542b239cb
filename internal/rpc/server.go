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

// Package rpc exposes the tool catalog to discovery clients over MCP.
//
// The server speaks JSON-RPC 2.0 over streamable HTTP: initialize,
// tools/list for the exposable catalog, tools/call for direct single-tool
// execution, and resources describing the registry. Calls run through the
// same executor pipeline as automation steps, so they are recorded,
// retried, and classified identically.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/relay/internal/executor"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

// anchorAutomationID is the automation row direct tool calls hang off.
// Executions reference an automation; calls arriving over RPC have none,
// so they share a paused system-owned anchor.
const anchorAutomationID = "rpc"

// Config configures the discovery server.
type Config struct {
	// Name is the advertised server name
	Name string

	// Version is the advertised server version
	Version string
}

// Server exposes the registry over MCP.
type Server struct {
	mcp      *server.MCPServer
	store    *store.Store
	executor *executor.Executor
	registry *tools.Registry
	logger   *slog.Logger

	anchorOnce sync.Once
	anchorErr  error

	toolCount int
}

// NewServer builds the MCP server and registers the exposable catalog and
// registry resources.
func NewServer(cfg Config, st *store.Store, exec *executor.Executor, registry *tools.Registry, logger *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "relay"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(true, true),
		),
		store:    st,
		executor: exec,
		registry: registry,
		logger:   log.WithComponent(logger, "rpc"),
	}

	s.registerTools()
	s.registerResources()
	return s
}

// ToolCount reports how many tools the server advertises.
func (s *Server) ToolCount() int {
	return s.toolCount
}

// registerTools adds every exposable definition as an MCP tool. Tools
// without a bound handler are still listed; calling one returns a
// tool-result error rather than a protocol error.
func (s *Server) registerTools() {
	defs := s.registry.ListExposable()
	for _, def := range defs {
		s.mcp.AddTool(mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: toMCPSchema(def.InputSchema),
		}, s.callHandler(def.Name))
	}
	s.toolCount = len(defs)
	s.logger.Info("discovery catalog registered", slog.Int("tools", s.toolCount))
}

// toMCPSchema converts a catalog input schema to the wire schema.
func toMCPSchema(schema *tools.InputSchema) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]any{},
	}
	if schema == nil {
		return out
	}
	if schema.Type != "" {
		out.Type = schema.Type
	}
	out.Required = schema.Required
	for name, prop := range schema.Properties {
		p := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			p["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			p["enum"] = prop.Enum
		}
		if prop.Default != nil {
			p["default"] = prop.Default
		}
		out.Properties[name] = p
	}
	return out
}

// ensureAnchor creates the anchor automation on first use. The row is
// paused so the scheduler never picks it up.
func (s *Server) ensureAnchor(ctx context.Context) error {
	s.anchorOnce.Do(func() {
		_, err := s.store.GetAutomation(ctx, anchorAutomationID)
		if err == nil {
			return
		}
		if !errors.IsNotFound(err) {
			s.anchorErr = err
			return
		}
		s.anchorErr = s.store.CreateAutomation(ctx, &store.Automation{
			ID:          anchorAutomationID,
			UserID:      "system",
			Name:        "Direct tool calls",
			Description: "Anchor for executions created over the discovery RPC",
			Trigger:     &triggers.Trigger{Type: triggers.TypeManual},
			Status:      store.StatusPaused,
		})
	})
	if s.anchorErr != nil {
		return fmt.Errorf("preparing rpc anchor: %w", s.anchorErr)
	}
	return nil
}
