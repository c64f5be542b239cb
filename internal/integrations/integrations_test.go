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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/rss"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

func execContext() *tools.ExecContext {
	return &tools.ExecContext{
		ExecutionID: "exec_test",
		StepIndex:   1,
		Variables: map[string]any{
			"user":        map[string]any{"email": "sam@example.com"},
			"stepOutputs": map[string]any{"step_1": map[string]any{"price": "190.23"}},
		},
	}
}

func TestHandlersCoverCatalog(t *testing.T) {
	client, err := rss.NewClient("")
	require.NoError(t, err)

	handlers := Handlers(Deps{Feeds: client, UserAgent: "relay-test/1.0"})
	for _, name := range []string{"http_request", "transform", "template", "delay", "fetch_feed"} {
		assert.Contains(t, handlers, name)
	}

	// Without a feed client the tool stays unbound rather than panicking
	// at call time.
	assert.NotContains(t, Handlers(Deps{}), "fetch_feed")
}

func TestHTTPRequestDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price": 190.23}`))
	}))
	t.Cleanup(srv.Close)

	handler := httpRequestHandler("relay-test/1.0")
	out, err := handler(context.Background(), map[string]any{"url": srv.URL}, execContext())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out["status"])
	body, ok := out["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 190.23, body["price"])
}

func TestHTTPRequestPostsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	handler := httpRequestHandler("relay-test/1.0")
	out, err := handler(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "POST",
		"body":   map[string]any{"ticker": "NVDA"},
	}, execContext())
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, out["status"])
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"ticker":"NVDA"}`, string(gotBody))
}

func TestHTTPRequestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		handler := httpRequestHandler("relay-test/1.0")
		_, err := handler(context.Background(), map[string]any{"url": srv.URL}, execContext())
		srv.Close()

		var ie *errors.IntegrationError
		require.True(t, errors.As(err, &ie), "status %d", tt.status)
		assert.Equal(t, tt.status, ie.StatusCode)
		assert.Equal(t, tt.transient, ie.Transient, "status %d", tt.status)
	}
}

func TestHTTPRequestConnectionFailureIsTransient(t *testing.T) {
	handler := httpRequestHandler("relay-test/1.0")
	_, err := handler(context.Background(), map[string]any{
		"url":             "http://127.0.0.1:1",
		"timeout_seconds": float64(1),
	}, execContext())

	var ie *errors.IntegrationError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.Transient)
}

func TestTransformExpression(t *testing.T) {
	out, err := transformHandler(context.Background(), map[string]any{
		"input":      map[string]any{"items": []any{float64(3), float64(1), float64(2)}},
		"expression": ".items | sort | .[0]",
	}, execContext())
	require.NoError(t, err)
	assert.EqualValues(t, 1, out["result"])
}

func TestTransformDefaultsToContext(t *testing.T) {
	out, err := transformHandler(context.Background(), map[string]any{
		"expression": ".stepOutputs.step_1.price",
	}, execContext())
	require.NoError(t, err)
	assert.Equal(t, "190.23", out["result"])
}

func TestTransformInvalidExpression(t *testing.T) {
	_, err := transformHandler(context.Background(), map[string]any{
		"expression": ".[[[",
	}, execContext())
	assert.True(t, errors.IsValidation(err))
}

func TestTemplateRenders(t *testing.T) {
	out, err := templateHandler(context.Background(), map[string]any{
		"template": "Price: {{.price}}",
		"data":     map[string]any{"price": "190.23"},
	}, execContext())
	require.NoError(t, err)
	assert.Equal(t, "Price: 190.23", out["rendered"])
}

func TestTemplateDefaultsToContext(t *testing.T) {
	out, err := templateHandler(context.Background(), map[string]any{
		"template": "To: {{.user.email}}",
	}, execContext())
	require.NoError(t, err)
	assert.Equal(t, "To: sam@example.com", out["rendered"])
}

func TestDelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := delayHandler(ctx, map[string]any{"seconds": float64(10)}, execContext())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDelayBounds(t *testing.T) {
	_, err := delayHandler(context.Background(), map[string]any{"seconds": float64(301)}, execContext())
	assert.True(t, errors.IsValidation(err))

	_, err = delayHandler(context.Background(), map[string]any{"seconds": float64(-1)}, execContext())
	assert.True(t, errors.IsValidation(err))
}

func TestFetchFeedLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>` +
			`<item><guid>a</guid><title>A</title></item>` +
			`<item><guid>b</guid><title>B</title></item>` +
			`<item><guid>c</guid><title>C</title></item>` +
			`</channel></rss>`))
	}))
	t.Cleanup(srv.Close)

	client, err := rss.NewClient("")
	require.NoError(t, err)

	handler := fetchFeedHandler(client)
	out, err := handler(context.Background(), map[string]any{
		"url":   srv.URL,
		"limit": float64(2),
	}, execContext())
	require.NoError(t, err)

	assert.Equal(t, "t", out["title"])
	items, ok := out["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 2)
}
