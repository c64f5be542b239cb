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

package triggers

import (
	"fmt"
	"strconv"

	"github.com/tombee/relay/pkg/errors"
)

// ToCron converts a schedulable trigger (or an rss poll interval) into a
// 5-field cron expression:
//
//	every Nm       -> */N * * * *
//	every Nh       -> 0 */N * * *
//	every Nd       -> 0 0 */N * *
//	every Nw       -> 0 0 * * 1     (weekly on Monday; cron has no week step)
//	daily HH:MM    -> M H * * *
//
// Intervals must already be validated; sub-minute values were coerced to
// 1m by Validate.
func (t *Trigger) ToCron() (string, error) {
	switch t.Type {
	case TypeInterval:
		return intervalToCron(t.Every)

	case TypeDaily:
		matches := timeFormatRegex.FindStringSubmatch(t.At)
		if matches == nil {
			return "", &errors.ValidationError{
				Field:   "trigger.at",
				Message: fmt.Sprintf("invalid time %q", t.At),
			}
		}
		hour, _ := strconv.Atoi(matches[1])
		minute, _ := strconv.Atoi(matches[2])
		return fmt.Sprintf("%d %d * * *", minute, hour), nil

	case TypeRSS:
		return intervalToCron(t.Interval)

	default:
		return "", &errors.ValidationError{
			Field:   "trigger.type",
			Message: fmt.Sprintf("trigger type %q has no schedule", t.Type),
		}
	}
}

func intervalToCron(every string) (string, error) {
	n, unit, err := parseInterval(every)
	if err != nil {
		return "", &errors.ValidationError{Field: "trigger.every", Message: err.Error()}
	}

	switch unit {
	case "s":
		// Coerced during validation; kept as a belt for stored specs
		// that predate coercion.
		return "*/1 * * * *", nil
	case "m":
		return fmt.Sprintf("*/%d * * * *", n), nil
	case "h":
		return fmt.Sprintf("0 */%d * * *", n), nil
	case "d":
		return fmt.Sprintf("0 0 */%d * *", n), nil
	case "w":
		return "0 0 * * 1", nil
	default:
		return "", &errors.ValidationError{
			Field:   "trigger.every",
			Message: fmt.Sprintf("unknown interval unit in %q", every),
		}
	}
}
