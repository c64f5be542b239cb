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

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/executor"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/tools"
)

type capturedCall struct {
	params    map[string]any
	variables map[string]any
}

// testHarness wires a store, a one-tool registry, and the intake behind an
// httptest server.
type testHarness struct {
	store    *store.Store
	intake   *Intake
	server   *httptest.Server
	mu       sync.Mutex
	captured []capturedCall
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &testHarness{store: st}

	registry := tools.NewRegistry(nil)
	require.NoError(t, registry.Define(tools.Definition{Name: "record_call", Version: "1.0.0"}))
	require.NoError(t, registry.Bind("record_call", func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.captured = append(h.captured, capturedCall{params: params, variables: ec.Variables})
		return map[string]any{"ok": true}, nil
	}))

	exec := executor.New(st, registry, nil)
	runner := executor.NewRunner(exec, 2, nil)
	h.intake = NewIntake(st, runner, cfg, nil)

	mux := http.NewServeMux()
	h.intake.Register(mux)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)

	return h
}

func (h *testHarness) seed(t *testing.T, id string, trigger *triggers.Trigger, status store.AutomationStatus) *store.Automation {
	t.Helper()
	a := &store.Automation{
		ID:      id,
		UserID:  "user_1",
		Name:    "hook target",
		Trigger: trigger,
		Steps:   []store.Step{{Tool: "record_call", Params: map[string]any{"ticker": "{{webhookPayload.ticker}}"}}},
		Status:  status,
	}
	require.NoError(t, h.store.CreateAutomation(context.Background(), a))
	return a
}

func (h *testHarness) post(t *testing.T, path string, body []byte, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (h *testHarness) waitForCall(t *testing.T) capturedCall {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if len(h.captured) > 0 {
			call := h.captured[0]
			h.mu.Unlock()
			return call
		}
		h.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("handler was never invoked")
	return capturedCall{}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestDeliveryUnknownAutomation(t *testing.T) {
	h := newHarness(t, Config{})
	resp, _ := h.post(t, "/hooks/nope", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeliveryWrongTriggerType(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeInterval, Every: "5m"}, store.StatusActive)

	resp, body := h.post(t, "/hooks/auto_1", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "not webhook-triggered")
}

func TestDeliveryBadSignature(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeWebhook, Secret: "s3cret"}, store.StatusActive)

	// Missing signature.
	resp, _ := h.post(t, "/hooks/auto_1", []byte(`{}`), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong signature.
	resp, _ = h.post(t, "/hooks/auto_1", []byte(`{}`), map[string]string{
		"X-Hub-Signature-256": "sha256=" + sign("wrong", []byte(`{}`)),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// No execution record was created.
	executions, err := h.store.ListExecutions(context.Background(), "auto_1", 0)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestDeliveryInactiveSkips(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeWebhook}, store.StatusPaused)

	resp, body := h.post(t, "/hooks/auto_1", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "skipped", body["status"])

	executions, err := h.store.ListExecutions(context.Background(), "auto_1", 0)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestDeliveryRunsExecution(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "auto_42", &triggers.Trigger{Type: triggers.TypeWebhook, Secret: "s3cret"}, store.StatusActive)

	payload := []byte(`{"ticker":"NVDA"}`)
	resp, body := h.post(t, "/hooks/auto_42", payload, map[string]string{
		"X-Hub-Signature-256": "sha256=" + sign("s3cret", payload),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	executionID, _ := body["execution_id"].(string)
	require.NotEmpty(t, executionID)

	call := h.waitForCall(t)
	assert.Equal(t, "NVDA", call.params["ticker"])

	wp, ok := call.variables["webhookPayload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "NVDA", wp["ticker"])
	assert.Equal(t, "webhook", call.variables["triggerType"])

	// The record reaches a terminal state with the payload on it.
	require.Eventually(t, func() bool {
		e, err := h.store.GetExecution(context.Background(), executionID)
		return err == nil && e.Status.Terminal()
	}, 3*time.Second, 20*time.Millisecond)

	e, err := h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecSuccess, e.Status)
	assert.Equal(t, "webhook", e.TriggerType)
}

func TestDeliverySecretHeaderVariant(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeWebhook, Secret: "s3cret"}, store.StatusActive)

	payload := []byte(`{"n":1}`)
	resp, _ := h.post(t, "/hooks/auto_1", payload, map[string]string{
		"X-Webhook-Secret": sign("s3cret", payload),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeliveryProcessSecretFallback(t *testing.T) {
	h := newHarness(t, Config{Secret: "proc-secret"})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeWebhook}, store.StatusActive)

	payload := []byte(`{"n":1}`)
	resp, _ := h.post(t, "/hooks/auto_1", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.post(t, "/hooks/auto_1", payload, map[string]string{
		"X-Hub-Signature-256": sign("proc-secret", payload),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeliveryRateLimit(t *testing.T) {
	h := newHarness(t, Config{RatePerMinute: 2})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeWebhook}, store.StatusActive)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp, _ := h.post(t, "/hooks/auto_1", []byte(`{}`), nil)
		codes = append(codes, resp.StatusCode)
	}
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestReadinessProbe(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "auto_1", &triggers.Trigger{Type: triggers.TypeWebhook}, store.StatusActive)

	resp, err := http.Get(h.server.URL + "/hooks/auto_1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, true, body["active"])

	resp2, err := http.Get(h.server.URL + "/hooks/ghost")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestParsePayloadShapes(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, parsePayload([]byte(`{"a":1}`)))
	assert.Equal(t, map[string]any{"value": []any{float64(1)}}, parsePayload([]byte(`[1]`)))
	assert.Equal(t, map[string]any{"raw": "plain text"}, parsePayload([]byte(`plain text`)))
	assert.Equal(t, map[string]any{}, parsePayload(nil))
}
