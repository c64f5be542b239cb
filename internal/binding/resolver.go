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

// Package binding resolves {{path}} variable references in step parameters
// against the execution context.
//
// A parameter value that is exactly one reference ("{{step_1.price}}")
// resolves to the referenced value with its type preserved. References
// embedded in a larger string stringify: scalars via their natural
// rendering, maps and slices as compact JSON. A reference that does not
// resolve is left in place as the literal token, so a typo'd automation
// fails loudly downstream instead of silently substituting empty strings.
package binding

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Context is the lookup environment for reference resolution. Step outputs
// shadow the context document: "step_1" and step aliases are tried against
// StepOutputs first, everything else walks Document.
type Context struct {
	// StepOutputs holds prior step results keyed by positional name
	// ("step_1") and by alias when the step declared one.
	StepOutputs map[string]any

	// Document is the execution context snapshot (user, trigger,
	// webhookPayload, rssFeed, custom Set values).
	Document map[string]any
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}\s][^{}]*?)\s*\}\}`)

// Resolve recursively resolves references in value. Maps and slices are
// rebuilt with resolved elements; all other non-string values pass through
// unchanged.
func Resolve(value any, rctx *Context) any {
	if rctx == nil {
		rctx = &Context{}
	}

	switch v := value.(type) {
	case string:
		return resolveString(v, rctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = Resolve(elem, rctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = Resolve(elem, rctx)
		}
		return out
	default:
		return value
	}
}

// ResolveParams resolves every value in a parameter map.
func ResolveParams(params map[string]any, rctx *Context) map[string]any {
	resolved := Resolve(params, rctx)
	if m, ok := resolved.(map[string]any); ok {
		return m
	}
	return params
}

func resolveString(s string, rctx *Context) any {
	// A string that is exactly one reference preserves the value's type.
	if path, ok := pureReference(s); ok {
		if value, found := rctx.lookup(path); found {
			return value
		}
		return s
	}

	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		value, found := rctx.lookup(path)
		if !found || value == nil {
			// An explicit null renders the same as a missing path: keep
			// the token rather than splicing in an empty string.
			return token
		}
		return stringify(value)
	})
}

// pureReference reports whether s (after trimming) is a single {{path}}
// token with nothing around it, returning the inner path.
func pureReference(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if inner == "" || strings.ContainsAny(inner, "{}") {
		return "", false
	}
	return inner, true
}

// lookup resolves a dotted path, trying step outputs before the context
// document.
func (c *Context) lookup(path string) (any, bool) {
	segments, err := parsePath(path)
	if err != nil || len(segments) == 0 {
		return nil, false
	}

	if c.StepOutputs != nil {
		if value, ok := walk(c.StepOutputs, segments); ok {
			return value, true
		}
	}
	if c.Document != nil {
		if value, ok := walk(c.Document, segments); ok {
			return value, true
		}
	}
	return nil, false
}

// walk navigates root through path segments. Keys index maps, [N] indexes
// slices; any mismatch means the reference does not resolve.
func walk(root any, segments []segment) (any, bool) {
	current := root
	for _, seg := range segments {
		if seg.isIndex {
			list, ok := current.([]any)
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return nil, false
			}
			current = list[seg.index]
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for embedding inside a larger string.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%v", v)
	case float64, float32, int, int32, int64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
