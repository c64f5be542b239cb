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

package integrations

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

// transformHandler applies a jq expression to the input value. When no
// input is given, the expression runs against the step context snapshot so
// earlier outputs can be reshaped without an explicit reference.
func transformHandler(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
	expression, _ := params["expression"].(string)
	if expression == "" {
		return nil, &errors.ValidationError{Field: "expression", Message: "transform requires a jq expression"}
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:   "expression",
			Message: fmt.Sprintf("invalid jq expression %q: %v", expression, err),
		}
	}

	input, ok := params["input"]
	if !ok {
		input = anyMap(ec.Variables)
	}

	iter := query.RunWithContext(ctx, normalizeDeep(input))
	value, ok := iter.Next()
	if !ok {
		return map[string]any{"result": nil}, nil
	}
	if err, isErr := value.(error); isErr {
		return nil, &errors.IntegrationError{
			Tool:    "transform",
			Message: fmt.Sprintf("jq evaluation failed: %v", err),
			Cause:   err,
		}
	}

	return map[string]any{"result": value}, nil
}

// normalize coerces values into the types gojq accepts (JSON scalars,
// []any, map[string]any).
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, int, []any, map[string]any:
		return t
	case float32:
		return float64(t)
	case int64:
		return int(t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return fmt.Sprintf("%v", t)
	}
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeDeep(v)
	}
	return out
}

func normalizeDeep(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return anyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeDeep(e)
		}
		return out
	default:
		return normalize(t)
	}
}
