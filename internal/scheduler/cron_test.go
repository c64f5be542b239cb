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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"*/15 * * * *", false},
		{"0 */2 * * *", false},
		{"30 9 * * *", false},
		{"0 0 */3 * *", false},
		{"0 0 * * 1", false},
		{"0,15,30,45 * * * *", false},
		{"1-5 * * * *", false},
		{"0-30/10 * * * *", false},

		{"* * * *", true},       // 4 fields
		{"* * * * * *", true},   // 6 fields
		{"60 * * * *", true},    // minute out of range
		{"* 24 * * *", true},    // hour out of range
		{"* * 0 * *", true},     // day-of-month out of range
		{"* * * 13 *", true},    // month out of range
		{"* * * * 7", true},     // weekday out of range
		{"*/0 * * * *", true},   // zero step
		{"5-1 * * * *", true},   // inverted range
		{"abc * * * *", true},   // garbage
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if tt.wantErr {
			assert.Error(t, err, tt.expr)
		} else {
			assert.NoError(t, err, tt.expr)
		}
	}
}

func TestParseFieldValues(t *testing.T) {
	expr, err := ParseCron("*/15 9-11 1,15 * *")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 15, 30, 45}, expr.minutes)
	assert.Equal(t, []int{9, 10, 11}, expr.hours)
	assert.Equal(t, []int{1, 15}, expr.days)
	assert.Len(t, expr.months, 12)
	assert.Len(t, expr.weekdays, 7)
}

func TestNext(t *testing.T) {
	loc := time.UTC
	from := time.Date(2026, time.March, 10, 14, 7, 30, 0, loc) // Tuesday

	tests := []struct {
		expr string
		want time.Time
	}{
		// Every minute: the next whole minute.
		{"* * * * *", time.Date(2026, 3, 10, 14, 8, 0, 0, loc)},
		// Every 15 minutes: 14:15.
		{"*/15 * * * *", time.Date(2026, 3, 10, 14, 15, 0, 0, loc)},
		// Every 2 hours on the hour: 16:00.
		{"0 */2 * * *", time.Date(2026, 3, 10, 16, 0, 0, 0, loc)},
		// Daily at 09:30: tomorrow, 14:07 is already past it.
		{"30 9 * * *", time.Date(2026, 3, 11, 9, 30, 0, 0, loc)},
		// Daily at 23:59: tonight.
		{"59 23 * * *", time.Date(2026, 3, 10, 23, 59, 0, 0, loc)},
		// Weekly on Monday midnight: March 16.
		{"0 0 * * 1", time.Date(2026, 3, 16, 0, 0, 0, 0, loc)},
		// First of the month: April 1.
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		expr, err := ParseCron(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, expr.Next(from), tt.expr)
	}
}

func TestNextIsStrictlyAfter(t *testing.T) {
	expr, err := ParseCron("30 9 * * *")
	require.NoError(t, err)

	// Exactly on the boundary: the next match is tomorrow, not now.
	from := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC), expr.Next(from))
}

func TestNextUnsatisfiable(t *testing.T) {
	// February 31 never exists.
	expr, err := ParseCron("0 0 31 2 *")
	require.NoError(t, err)

	assert.True(t, expr.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).IsZero())
}
