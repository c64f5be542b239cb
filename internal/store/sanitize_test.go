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
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDropsNils(t *testing.T) {
	out := Sanitize(map[string]any{
		"keep": "x",
		"drop": nil,
		"nested": map[string]any{
			"also_drop": nil,
			"keep":      1,
		},
	})

	assert.NotContains(t, out, "drop")
	nested := out["nested"].(map[string]any)
	assert.NotContains(t, nested, "also_drop")
	assert.Equal(t, 1, nested["keep"])
}

func TestSanitizeCapsStrings(t *testing.T) {
	long := strings.Repeat("a", 500)
	out := Sanitize(map[string]any{"text": long})
	assert.Len(t, out["text"].(string), 200)
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	// 3-byte runes that do not divide 200 evenly; a byte slice would cut
	// mid-rune and persist invalid UTF-8.
	long := strings.Repeat("日", 100)
	out := Sanitize(map[string]any{"text": long})

	text := out["text"].(string)
	assert.True(t, utf8.ValidString(text))
	assert.LessOrEqual(t, len(text), 200)
	assert.Equal(t, strings.Repeat("日", 66), text)
}

func TestSanitizeCapsObjectKeys(t *testing.T) {
	payload := map[string]any{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		payload[k] = k
	}

	out := Sanitize(payload)
	assert.Len(t, out, 8)
	// Keys are kept in sorted order for determinism.
	assert.Contains(t, out, "a")
	assert.NotContains(t, out, "j")
}

func TestSanitizeNestedArrays(t *testing.T) {
	out := Sanitize(map[string]any{
		"rows": []any{
			[]any{"x", "y"},
			"plain",
		},
	})

	rows := out["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, `["x","y"]`, rows[0])
	assert.Equal(t, "plain", rows[1])
}

func TestSanitizeIdempotent(t *testing.T) {
	payload := map[string]any{
		"text": strings.Repeat("z", 300),
		"rows": []any{[]any{1, 2}},
		"obj": map[string]any{
			"a": "1", "b": "2", "c": "3", "d": "4", "e": "5",
			"f": "6", "g": "7", "h": "8", "i": "9",
		},
	}

	once := Sanitize(payload)
	twice := Sanitize(once)
	assert.Equal(t, once, twice)
}

func TestSanitizeNil(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
}
