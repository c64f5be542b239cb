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

// Package httpclient builds the outbound HTTP clients used across relay:
// the http_request tool, the feed poller, and anything else that leaves
// the process.
//
// Every client shares the same stance:
//   - TLS 1.2 minimum, certificate validation on
//   - connection pooling with bounded idle connections
//   - User-Agent injection
//   - request logging with sensitive query parameters redacted
//   - optional transport-level retries with exponential backoff, jitter,
//     and Retry-After support
//
// Retries at this layer are off for tool and poller traffic; the
// executor owns retry policy there and double-retrying would multiply
// attempts. Enable them for fire-and-forget callers that have no retry
// loop of their own:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "relay-notify/1.0"
//	client, err := httpclient.New(cfg)
//
// Only idempotent methods (GET, HEAD, OPTIONS) are retried unless
// AllowNonIdempotentRetry is set; callers setting it are expected to
// send Idempotency-Key headers.
package httpclient
