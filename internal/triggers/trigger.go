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

// Package triggers models automation trigger specifications: a tagged
// union over manual, interval, daily, webhook, rss, and event triggers,
// with validation and cron conversion for the schedulable kinds.
package triggers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tombee/relay/pkg/errors"
)

// Type is the trigger discriminator tag.
type Type string

const (
	TypeManual   Type = "manual"
	TypeInterval Type = "interval"
	TypeDaily    Type = "daily"
	TypeWebhook  Type = "webhook"
	TypeRSS      Type = "rss"
	TypeEvent    Type = "event"
)

// DefaultRSSInterval is the poll interval when an rss trigger omits one.
const DefaultRSSInterval = "15m"

var timeFormatRegex = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9])$`)
var intervalRegex = regexp.MustCompile(`^([0-9]+)([smhdw])$`)

// Trigger is a trigger specification. Fields other than Type are populated
// per the tag: Every for interval, At for daily, Secret for webhook, URL
// and Interval for rss, Event for the reserved event kind.
type Trigger struct {
	Type Type `json:"type"`

	// Every is the interval spec, "<N><unit>" with unit in s/m/h/d/w
	Every string `json:"every,omitempty"`

	// At is the daily fire time, "HH:MM" 24-hour
	At string `json:"at,omitempty"`

	// Secret enables HMAC verification for webhook triggers
	Secret string `json:"secret,omitempty"`

	// URL is the feed address for rss triggers
	URL string `json:"url,omitempty"`

	// Interval is the rss poll interval; defaults to DefaultRSSInterval
	Interval string `json:"interval,omitempty"`

	// Event carries integration-specific configuration for event triggers
	Event map[string]any `json:"event,omitempty"`
}

// Parse decodes and validates a JSON trigger specification.
func Parse(data []byte) (*Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &errors.ValidationError{
			Field:   "trigger",
			Message: fmt.Sprintf("invalid trigger JSON: %v", err),
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the trigger fields for its tag. Sub-minute intervals are
// coerced to 1m here since the cron layer has 1-minute resolution.
func (t *Trigger) Validate() error {
	switch t.Type {
	case TypeManual:
		return nil

	case TypeInterval:
		coerced, err := normalizeInterval(t.Every, "trigger.every")
		if err != nil {
			return err
		}
		t.Every = coerced
		return nil

	case TypeDaily:
		if !timeFormatRegex.MatchString(t.At) {
			return &errors.ValidationError{
				Field:      "trigger.at",
				Message:    fmt.Sprintf("invalid time %q", t.At),
				Suggestion: "use HH:MM in 24-hour format, e.g. 09:30",
			}
		}
		return nil

	case TypeWebhook:
		return nil

	case TypeRSS:
		if t.URL == "" {
			return &errors.ValidationError{
				Field:   "trigger.url",
				Message: "rss trigger requires a feed url",
			}
		}
		parsed, err := url.Parse(t.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return &errors.ValidationError{
				Field:   "trigger.url",
				Message: fmt.Sprintf("invalid feed url %q", t.URL),
			}
		}
		if t.Interval == "" {
			t.Interval = DefaultRSSInterval
		}
		coerced, err := normalizeInterval(t.Interval, "trigger.interval")
		if err != nil {
			return err
		}
		t.Interval = coerced
		return nil

	case TypeEvent:
		return nil

	default:
		return &errors.ValidationError{
			Field:      "trigger.type",
			Message:    fmt.Sprintf("unknown trigger type %q", t.Type),
			Suggestion: "valid types: manual, interval, daily, webhook, rss, event",
		}
	}
}

// Schedulable reports whether the trigger belongs on the cron scheduler.
// Webhook and rss triggers have their own producers; manual and event
// triggers are never scheduled.
func (t *Trigger) Schedulable() bool {
	return t.Type == TypeInterval || t.Type == TypeDaily
}

// normalizeInterval validates an "<N><unit>" interval and applies the two
// normalization rules: N >= 60 in a sub-unit is rejected (use the next unit
// up), and sub-minute intervals coerce to 1m.
func normalizeInterval(every, field string) (string, error) {
	matches := intervalRegex.FindStringSubmatch(every)
	if matches == nil {
		return "", &errors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("invalid interval %q", every),
			Suggestion: "use <N><unit> with unit s, m, h, d, or w, e.g. 15m",
		}
	}

	n, _ := strconv.Atoi(matches[1])
	unit := matches[2]

	if n == 0 {
		return "", &errors.ValidationError{
			Field:   field,
			Message: "interval must be positive",
		}
	}
	if n >= 60 && (unit == "s" || unit == "m") {
		return "", &errors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("interval %q exceeds the unit range", every),
			Suggestion: "use the next unit up, e.g. 90m -> 2h",
		}
	}

	if unit == "s" {
		return "1m", nil
	}
	return every, nil
}

// parseInterval splits a validated interval into count and unit.
func parseInterval(every string) (int, string, error) {
	matches := intervalRegex.FindStringSubmatch(every)
	if matches == nil {
		return 0, "", fmt.Errorf("invalid interval %q", every)
	}
	n, _ := strconv.Atoi(matches[1])
	return n, matches[2], nil
}

// String renders a short human-readable description.
func (t *Trigger) String() string {
	switch t.Type {
	case TypeInterval:
		return fmt.Sprintf("interval(%s)", t.Every)
	case TypeDaily:
		return fmt.Sprintf("daily(%s)", t.At)
	case TypeRSS:
		return fmt.Sprintf("rss(%s every %s)", t.URL, t.Interval)
	default:
		return string(t.Type)
	}
}

// MarshalJSON keeps the stored form stable across round-trips.
func (t *Trigger) MarshalJSON() ([]byte, error) {
	type alias Trigger
	return json.Marshal((*alias)(t))
}

// UnmarshalJSON accepts the tag as either "type" or a bare string for the
// manual case ("manual" shorthand used by older automations).
func (t *Trigger) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		t.Type = Type(tag)
		return nil
	}

	type alias Trigger
	return json.Unmarshal(data, (*alias)(t))
}
