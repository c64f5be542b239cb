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
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// User is the automation owner's identity as seen by handlers.
type User struct {
	ID    string            `json:"id"`
	Email string            `json:"email,omitempty"`

	// Handles maps messaging integrations to user handles
	// (e.g. "telegram" -> chat id).
	Handles map[string]string `json:"handles,omitempty"`
}

// ContextMemory is the per-execution working memory: a context document
// (user identity, trigger payload, custom values) plus the step output
// table. It is created once per execution and discarded at termination;
// only a summarized snapshot is persisted.
type ContextMemory struct {
	mu sync.Mutex

	executionID  string
	automationID string
	user         User
	startedAt    time.Time

	document    map[string]any
	stepOutputs map[string]any
}

// NewContextMemory creates the memory for one execution.
func NewContextMemory(executionID, automationID string, user User) *ContextMemory {
	return &ContextMemory{
		executionID:  executionID,
		automationID: automationID,
		user:         user,
		startedAt:    time.Now(),
		document:     make(map[string]any),
		stepOutputs:  make(map[string]any),
	}
}

// Set stores a value in the context document. Trigger producers use this
// to inject payloads (webhookPayload, rssFeed) before the first step.
func (m *ContextMemory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.document[key] = value
}

// Get reads a value from the context document.
func (m *ContextMemory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.document[key]
	return value, ok
}

// StoreStepOutput records a step's output under its positional key
// ("step_N") and, when the step declared an alias, under that alias too.
func (m *ContextMemory) StoreStepOutput(index int, alias string, output map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stepOutputs[fmt.Sprintf("step_%d", index)] = output
	if alias != "" {
		m.stepOutputs[alias] = output
	}
}

// StepOutputs returns a fresh shallow copy of the step output table.
// Handlers mutating the copy must not affect later steps.
func (m *ContextMemory) StepOutputs() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return shallowCopy(m.stepOutputs)
}

// BuildStepContext assembles the snapshot passed to a handler: execution
// identity, user, start time, the context document, and the step outputs.
// Each call returns fresh shallow copies.
func (m *ContextMemory) BuildStepContext() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := shallowCopy(m.document)
	snapshot["executionId"] = m.executionID
	snapshot["automationId"] = m.automationID
	snapshot["user"] = map[string]any{
		"id":      m.user.ID,
		"email":   m.user.Email,
		"handles": m.user.Handles,
	}
	snapshot["startedAt"] = m.startedAt.Format(time.RFC3339)
	snapshot["stepOutputs"] = shallowCopy(m.stepOutputs)
	return snapshot
}

// Summary produces the persisted context snapshot: strings truncated to
// 100 characters, arrays reported by length only, objects limited to their
// first five keys. Debuggability, not replay.
func (m *ContextMemory) Summary() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := map[string]any{
		"executionId":  m.executionID,
		"automationId": m.automationID,
		"startedAt":    m.startedAt.Format(time.RFC3339),
		"user": map[string]any{
			"id":    m.user.ID,
			"email": m.user.Email,
		},
	}

	outputs := make(map[string]any, len(m.stepOutputs))
	for key, value := range m.stepOutputs {
		outputs[key] = summarize(value)
	}
	summary["stepOutputs"] = outputs

	for key, value := range m.document {
		if _, taken := summary[key]; !taken {
			summary[key] = summarize(value)
		}
	}
	return summary
}

const (
	maxSummaryStringLen = 100
	maxSummaryKeys      = 5
)

func summarize(value any) any {
	switch v := value.(type) {
	case string:
		return truncateRunes(v, maxSummaryStringLen)

	case []any:
		return map[string]any{"type": "array", "count": len(v)}

	case map[string]any:
		out := make(map[string]any, maxSummaryKeys)
		for key, elem := range v {
			if len(out) >= maxSummaryKeys {
				break
			}
			out[key] = summarize(elem)
		}
		return out

	default:
		return value
	}
}

// truncateRunes caps s at limit bytes, backing up so the cut never
// splits a multi-byte rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
