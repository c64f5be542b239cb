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
	"time"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

// maxDelaySeconds bounds a delay step; automations are not a sleep service.
const maxDelaySeconds = 300

// delayHandler pauses the execution. The wait aborts when the execution
// context is cancelled.
func delayHandler(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
	seconds, ok := numberParam(params["seconds"])
	if !ok || seconds <= 0 {
		return nil, &errors.ValidationError{Field: "seconds", Message: "delay requires a positive duration"}
	}
	if seconds > maxDelaySeconds {
		return nil, &errors.ValidationError{
			Field:      "seconds",
			Message:    fmt.Sprintf("delay of %.0fs exceeds the %ds maximum", seconds, maxDelaySeconds),
			Suggestion: "use an interval trigger for long waits",
		}
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"slept_seconds": seconds}, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "delay cancelled")
	}
}
