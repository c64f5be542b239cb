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

package tools

import (
	"fmt"
	"reflect"

	"github.com/tombee/relay/pkg/errors"
)

// InputSchema describes tool parameters using JSON Schema conventions.
// Only the subset relied on by the catalog is modeled: object type,
// per-property types, enums, and required fields.
type InputSchema struct {
	// Type is the JSON type; always "object" for tool inputs
	Type string `json:"type"`

	// Properties defines the accepted parameters
	Properties map[string]Property `json:"properties,omitempty"`

	// Required lists parameter names that must be present
	Required []string `json:"required,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	// Type is the JSON type (string, number, integer, boolean, array, object)
	Type string `json:"type"`

	// Description explains what this parameter represents
	Description string `json:"description,omitempty"`

	// Enum lists allowed values
	Enum []any `json:"enum,omitempty"`

	// Default provides a value when the parameter is omitted
	Default any `json:"default,omitempty"`
}

// Validate checks params against the schema: required fields present,
// values match declared types, enum values allowed. A nil schema accepts
// anything. Unknown parameters are passed through untouched; handlers
// ignore what they do not understand.
func (s *InputSchema) Validate(toolName string, params map[string]any) error {
	if s == nil {
		return nil
	}

	for _, req := range s.Required {
		if _, ok := params[req]; !ok {
			return &errors.ValidationError{
				Field:      req,
				Message:    fmt.Sprintf("tool %s requires parameter %q", toolName, req),
				Suggestion: "check the tool's input schema for required parameters",
			}
		}
	}

	for name, prop := range s.Properties {
		value, ok := params[name]
		if !ok || value == nil {
			continue
		}
		if prop.Type != "" && !matchesType(value, prop.Type) {
			return &errors.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("tool %s parameter %q must be %s, got %T", toolName, name, prop.Type, value),
			}
		}
		if len(prop.Enum) > 0 && !inEnum(value, prop.Enum) {
			return &errors.ValidationError{
				Field:      name,
				Message:    fmt.Sprintf("tool %s parameter %q has invalid value %v", toolName, name, value),
				Suggestion: fmt.Sprintf("allowed values: %v", prop.Enum),
			}
		}
	}

	return nil
}

// ApplyDefaults returns params with schema defaults filled in for omitted
// parameters. The input map is not modified.
func (s *InputSchema) ApplyDefaults(params map[string]any) map[string]any {
	if s == nil || len(s.Properties) == 0 {
		return params
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for name, prop := range s.Properties {
		if prop.Default == nil {
			continue
		}
		if _, ok := out[name]; !ok {
			out[name] = prop.Default
		}
	}
	return out
}

// matchesType checks a decoded JSON value against a JSON Schema type name.
// JSON numbers decode as float64, so integer accepts whole floats.
func matchesType(value any, jsonType string) bool {
	switch jsonType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumeric(value)
	case "integer":
		if f, ok := value.(float64); ok {
			return f == float64(int64(f))
		}
		switch value.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case "array":
		return reflect.ValueOf(value).Kind() == reflect.Slice
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func inEnum(value any, enum []any) bool {
	for _, allowed := range enum {
		if reflect.DeepEqual(value, allowed) {
			return true
		}
	}
	return false
}
