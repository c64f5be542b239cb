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

package store

import (
	"encoding/json"
	"sort"
	"unicode/utf8"
)

// Limits applied before payloads reach the store. The store holds
// summaries for debugging, not full replays.
const (
	maxSanitizedStringLen = 200
	maxSanitizedKeys      = 8
)

// Sanitize prepares a payload for durable storage: nil values are dropped
// recursively, arrays nested inside arrays collapse to JSON text, strings
// are capped at 200 characters, and objects keep at most 8 keys (sorted,
// for determinism). Sanitizing an already-sanitized payload is a no-op.
func Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out, _ := sanitizeValue(payload, false).(map[string]any)
	return out
}

func sanitizeValue(value any, inArray bool) any {
	switch v := value.(type) {
	case nil:
		return nil

	case string:
		return truncateString(v, maxSanitizedStringLen)

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			if v[k] == nil {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > maxSanitizedKeys {
			keys = keys[:maxSanitizedKeys]
		}

		out := make(map[string]any, len(keys))
		for _, k := range keys {
			if sanitized := sanitizeValue(v[k], false); sanitized != nil {
				out[k] = sanitized
			}
		}
		return out

	case []any:
		if inArray {
			// The store disallows nested arrays; collapse to JSON text.
			encoded, err := json.Marshal(v)
			if err != nil {
				return "[]"
			}
			return truncateString(string(encoded), maxSanitizedStringLen)
		}

		out := make([]any, 0, len(v))
		for _, elem := range v {
			if sanitized := sanitizeValue(elem, true); sanitized != nil {
				out = append(out, sanitized)
			}
		}
		return out

	default:
		return value
	}
}

// truncateString caps s at limit bytes, backing up so the cut never
// splits a multi-byte rune.
func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
