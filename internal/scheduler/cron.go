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

// Package scheduler runs automations on their trigger schedules using a
// 5-field cron representation with 1-minute resolution.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed cron expression. Each field holds the sorted set of
// matching values.
type Expr struct {
	minutes  []int // 0-59
	hours    []int // 0-23
	days     []int // 1-31
	months   []int // 1-12
	weekdays []int // 0-6, 0 = Sunday
}

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = []fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses "minute hour day-of-month month day-of-week".
// Supported syntax: "*", single values, ranges ("1-5"), steps ("*/15",
// "0-30/10"), and comma lists.
func ParseCron(expr string) (*Expr, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(fieldSpecs) {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	parsed := make([][]int, len(fields))
	for i, field := range fields {
		spec := fieldSpecs[i]
		values, err := parseField(field, spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
		parsed[i] = values
	}

	return &Expr{
		minutes:  parsed[0],
		hours:    parsed[1],
		days:     parsed[2],
		months:   parsed[3],
		weekdays: parsed[4],
	}, nil
}

func parseField(field string, min, max int) ([]int, error) {
	seen := make(map[int]bool)
	var values []int

	for _, part := range strings.Split(field, ",") {
		step := 1
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", part[idx+1:])
			}
			step = n
			part = part[:idx]
		}

		start, end := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			var err error
			if start, err = strconv.Atoi(bounds[0]); err != nil {
				return nil, fmt.Errorf("invalid range start %q", bounds[0])
			}
			if end, err = strconv.Atoi(bounds[1]); err != nil {
				return nil, fmt.Errorf("invalid range end %q", bounds[1])
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			start, end = n, n
		}

		if start < min || end > max || start > end {
			return nil, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
		}

		for v := start; v <= end; v += step {
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}

	return values, nil
}

// Next returns the first time strictly after from that matches the
// expression, or the zero time if nothing matches within four years.
func (e *Expr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !matches(e.months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !matches(e.days, t.Day()) || !matches(e.weekdays, int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !matches(e.hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !matches(e.minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

func matches(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
