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

package httpclient

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingTransport injects the User-Agent and logs each round trip with
// the URL sanitized. Requests that already carry a User-Agent keep it.
type loggingTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	elapsed := time.Since(start)

	url := sanitizeURL(req.URL)
	if err != nil {
		slog.Warn("outbound request failed",
			slog.String("method", req.Method),
			slog.String("url", url),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()))
		return nil, err
	}

	slog.Debug("outbound request",
		slog.String("method", req.Method),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", elapsed.Milliseconds()))
	return resp, nil
}
