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

// Package tools provides the tool registry for automation steps.
//
// A tool pairs a versioned definition (name, schemas, exposure flags) with a
// handler function that performs the actual work. Definitions are seeded from
// an embedded catalog at startup; handlers are bound separately so the daemon
// can describe tools it cannot currently run.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tombee/relay/pkg/errors"
)

// Handler executes a single tool invocation. params have already passed
// schema validation and variable resolution. The returned map becomes the
// step output stored under step_N in the execution context.
type Handler func(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error)

// ExecContext carries per-invocation execution metadata into handlers.
// Handlers must treat it as read-only.
type ExecContext struct {
	// ExecutionID identifies the run this invocation belongs to
	ExecutionID string

	// AutomationID identifies the owning automation
	AutomationID string

	// UserID is the automation owner
	UserID string

	// StepIndex is the 1-based position of the step, 0 for direct RPC calls
	StepIndex int

	// Logger is pre-tagged with execution fields
	Logger *slog.Logger

	// Variables is the step's context snapshot after resolution
	Variables map[string]any
}

// Definition describes a tool independently of whether a handler is bound.
type Definition struct {
	// Name is the unique tool identifier (e.g., "http_request")
	Name string `json:"name"`

	// Version is a semver-ish catalog version; "unversioned" for adopted handlers
	Version string `json:"version"`

	// Description explains what the tool does, shown to discovery clients
	Description string `json:"description"`

	// Category groups related tools (e.g., "data", "notify", "core")
	Category string `json:"category,omitempty"`

	// Exposable marks the tool as visible over the discovery RPC surface
	Exposable bool `json:"exposable"`

	// InputSchema constrains invocation parameters
	InputSchema *InputSchema `json:"input_schema,omitempty"`

	// OutputSchema documents the handler's result shape (not enforced)
	OutputSchema *InputSchema `json:"output_schema,omitempty"`
}

// Tool is a registered definition together with its handler, which is nil
// until Bind or Link attaches one.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Runnable reports whether the tool can actually execute.
func (t *Tool) Runnable() bool {
	return t != nil && t.Handler != nil
}

// Registry maintains the table of known tools. All methods are safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Define registers a tool definition without a handler.
// Returns an error if the name is empty or already defined.
func (r *Registry) Define(def Definition) error {
	if def.Name == "" {
		return &errors.ValidationError{
			Field:   "name",
			Message: "tool name cannot be empty",
		}
	}
	if def.Version == "" {
		def.Version = "unversioned"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return &errors.ValidationError{
			Field:      "name",
			Message:    fmt.Sprintf("tool already defined: %s", def.Name),
			Suggestion: "use Bind to attach a handler to an existing definition",
		}
	}

	r.tools[def.Name] = &Tool{Definition: def}
	return nil
}

// Bind attaches a handler to an existing definition.
// Returns a NotFoundError if the tool was never defined.
func (r *Registry) Bind(name string, handler Handler) error {
	if handler == nil {
		return &errors.ValidationError{
			Field:   "handler",
			Message: fmt.Sprintf("cannot bind nil handler for tool %s", name),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tool, exists := r.tools[name]
	if !exists {
		return &errors.NotFoundError{Resource: "tool", ID: name}
	}

	tool.Handler = handler
	return nil
}

// Lookup returns the tool for name, or nil if it is unknown. Unknown tools
// are not an error at this layer; callers decide how to surface them (the
// executor attaches an edit-distance suggestion, the RPC server returns a
// tool-result error).
func (r *Registry) Lookup(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool with the given name is defined.
func (r *Registry) Has(name string) bool {
	return r.Lookup(name) != nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ListExposable returns the definitions visible over the discovery RPC
// surface, sorted by name.
func (r *Registry) ListExposable() []Definition {
	defs := r.List()
	exposable := defs[:0]
	for _, def := range defs {
		if def.Exposable {
			exposable = append(exposable, def)
		}
	}
	return exposable
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// Suggest returns the registered name closest to the given unknown name,
// or "" when nothing is within the edit-distance threshold.
func (r *Registry) Suggest(name string) string {
	return suggest(name, r.Names())
}

// RenderPrompt renders the exposable catalog as human-readable text, one
// tool per line grouped by category. Used for discovery resources and
// operator-facing listings.
func (r *Registry) RenderPrompt() string {
	defs := r.ListExposable()
	if len(defs) == 0 {
		return "No tools available."
	}

	byCategory := make(map[string][]Definition)
	var categories []string
	for _, def := range defs {
		cat := def.Category
		if cat == "" {
			cat = "general"
		}
		if _, seen := byCategory[cat]; !seen {
			categories = append(categories, cat)
		}
		byCategory[cat] = append(byCategory[cat], def)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, cat := range categories {
		fmt.Fprintf(&b, "\n%s:\n", cat)
		for _, def := range byCategory[cat] {
			fmt.Fprintf(&b, "  - %s (%s): %s\n", def.Name, def.Version, def.Description)
			if def.InputSchema != nil && len(def.InputSchema.Required) > 0 {
				fmt.Fprintf(&b, "    required: %s\n", strings.Join(def.InputSchema.Required, ", "))
			}
		}
	}
	return b.String()
}
