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

package executor

import (
	"math/rand"
	"strings"
	"time"

	"github.com/tombee/relay/pkg/errors"
)

// Retry policy constants. A step is attempted at most MaxRetries+1 times.
const (
	MaxRetries  = 3
	baseDelayMS = 1000
	maxDelayMS  = 10000
)

// transientSignals are the substrings that mark an error message as a
// network-transient failure worth retrying.
var transientSignals = []string{
	"connection reset",
	"connection refused",
	"no such host",
	"name resolution",
	"eai_again",
	"socket hang up",
	"econnreset",
	"etimedout",
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"429",
	"503",
	"504",
}

// transientStatusCodes are HTTP statuses retried regardless of message.
var transientStatusCodes = map[int]bool{429: true, 503: true, 504: true}

// IsTransient classifies an error as transient (retry) or terminal (fail
// the step). Explicit classification on an IntegrationError wins; anything
// else falls back to scanning the message for transient signals.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ie *errors.IntegrationError
	if errors.As(err, &ie) {
		if ie.Transient {
			return true
		}
		if transientStatusCodes[ie.StatusCode] {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, signal := range transientSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

// Delay computes the backoff before retry attempt n (1-based):
// min(base * 2^(n-1) + jitter, cap) with jitter in [-25%, +25%] of the
// nominal delay. The first retry centers on 1s, the second on 2s.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	nominal := baseDelayMS * (1 << (attempt - 1))
	if nominal > maxDelayMS {
		nominal = maxDelayMS
	}

	jitter := int(float64(nominal) * 0.25 * (rand.Float64()*2 - 1))
	delay := nominal + jitter
	if delay > maxDelayMS {
		delay = maxDelayMS
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay) * time.Millisecond
}
