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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/httpclient"
	"github.com/tombee/relay/pkg/tools"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 4 << 20
)

// httpRequestHandler performs one HTTP request. Transport-level retries are
// disabled; the executor's retry policy owns retry behavior.
func httpRequestHandler(userAgent string) tools.Handler {
	if userAgent == "" {
		userAgent = "relay/1.0"
	}

	return func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		url, _ := params["url"].(string)
		if url == "" {
			return nil, &errors.ValidationError{Field: "url", Message: "http_request requires a url"}
		}

		method := http.MethodGet
		if m, ok := params["method"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}

		timeout := defaultRequestTimeout
		if secs, ok := numberParam(params["timeout_seconds"]); ok && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}

		cfg := httpclient.DefaultConfig()
		cfg.Timeout = timeout
		cfg.UserAgent = userAgent
		cfg.RetryAttempts = 0
		client, err := httpclient.New(cfg)
		if err != nil {
			return nil, &errors.InternalError{Message: "building http client", Cause: err}
		}

		var bodyReader io.Reader
		contentType := ""
		if body, ok := params["body"]; ok && body != nil {
			switch b := body.(type) {
			case string:
				bodyReader = strings.NewReader(b)
			default:
				encoded, err := json.Marshal(b)
				if err != nil {
					return nil, &errors.ValidationError{Field: "body", Message: fmt.Sprintf("body is not JSON-encodable: %v", err)}
				}
				bodyReader = bytes.NewReader(encoded)
				contentType = "application/json"
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, &errors.ValidationError{Field: "url", Message: fmt.Sprintf("invalid request: %v", err)}
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			for name, value := range headers {
				if s, ok := value.(string); ok {
					req.Header.Set(name, s)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, &errors.IntegrationError{
				Tool:      "http_request",
				Message:   err.Error(),
				Transient: true,
				Cause:     err,
			}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &errors.IntegrationError{
				Tool:      "http_request",
				Message:   fmt.Sprintf("reading response: %v", err),
				Transient: true,
				Cause:     err,
			}
		}

		if resp.StatusCode >= 400 {
			return nil, &errors.IntegrationError{
				Tool:       "http_request",
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("%s %s returned HTTP %d", method, url, resp.StatusCode),
				Transient:  resp.StatusCode == 429 || resp.StatusCode == 503 || resp.StatusCode == 504,
			}
		}

		return map[string]any{
			"status":  resp.StatusCode,
			"headers": flattenHeaders(resp.Header),
			"body":    decodeBody(raw),
		}, nil
	}
}

// decodeBody returns parsed JSON when the body is JSON, else text.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var decoded any
		if err := json.Unmarshal(trimmed, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}

// numberParam accepts the numeric types JSON decoding and literal step
// params produce.
func numberParam(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
