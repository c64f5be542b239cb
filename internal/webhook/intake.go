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

// Package webhook is the intake surface for webhook-triggered automations:
// POST /hooks/{automationID} verifies the delivery, records an execution,
// acknowledges with the execution id, and runs the automation in the
// background. Failures after the acknowledgment are visible only through
// the execution log.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/relay/internal/executor"
	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/errors"
)

// maxBodyBytes bounds an accepted delivery body.
const maxBodyBytes = 1 << 20

// headerAllowlist is the set of request headers captured into execution
// metadata. Everything else is dropped; deliveries routinely carry auth
// material in headers.
var headerAllowlist = []string{
	"Content-Type",
	"User-Agent",
	"X-Event-Type",
	"X-Request-Id",
}

// Config configures the intake.
type Config struct {
	// Secret is the process-wide fallback used when an automation's
	// trigger carries none.
	Secret string

	// RatePerMinute caps deliveries per automation; 0 disables limiting.
	RatePerMinute int
}

// Intake handles webhook deliveries.
type Intake struct {
	store  *store.Store
	runner *executor.Runner
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewIntake creates the intake surface.
func NewIntake(st *store.Store, runner *executor.Runner, cfg Config, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		store:    st,
		runner:   runner,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "webhook")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register mounts the intake routes on mux.
func (in *Intake) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /hooks/{id}", in.handleDelivery)
	mux.HandleFunc("GET /hooks/{id}", in.handleProbe)
}

// handleProbe is a readiness check: it reports whether the automation
// exists, is webhook-triggered, and is active, without running anything.
func (in *Intake) handleProbe(w http.ResponseWriter, r *http.Request) {
	automationID := r.PathValue("id")

	automation, err := in.store.GetAutomation(r.Context(), automationID)
	if err != nil {
		if errors.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "automation not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"automation_id": automation.ID,
		"trigger":       string(automation.Trigger.Type),
		"active":        automation.Status == store.StatusActive,
		"status":        "ready",
	})
}

func (in *Intake) handleDelivery(w http.ResponseWriter, r *http.Request) {
	automationID := r.PathValue("id")
	logger := in.logger.With(slog.String("automation_id", automationID))

	if !in.allow(automationID) {
		in.respond(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
		return
	}

	automation, err := in.store.GetAutomation(r.Context(), automationID)
	if err != nil {
		if errors.IsNotFound(err) {
			in.respond(w, http.StatusNotFound, map[string]any{"error": "automation not found"})
			return
		}
		logger.Error("automation lookup failed", "error", err)
		in.respond(w, http.StatusInternalServerError, map[string]any{"error": "lookup failed"})
		return
	}

	if automation.Trigger == nil || automation.Trigger.Type != triggers.TypeWebhook {
		in.respond(w, http.StatusBadRequest, map[string]any{
			"error": "automation is not webhook-triggered",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		in.respond(w, http.StatusBadRequest, map[string]any{"error": "failed to read body"})
		return
	}

	secret := automation.Trigger.Secret
	if secret == "" {
		secret = in.cfg.Secret
	}
	if secret != "" {
		if err := verifySignature(r, body, secret); err != nil {
			logger.Warn("signature verification failed", "error", err)
			in.respond(w, http.StatusUnauthorized, map[string]any{"error": "signature verification failed"})
			return
		}
	}

	if automation.Status != store.StatusActive {
		in.respond(w, http.StatusOK, map[string]any{
			"status": "skipped",
			"reason": "automation is not active",
		})
		return
	}

	// Deliveries without a caller-supplied request id get one, so every
	// delivery is traceable through the execution log.
	deliveryID := r.Header.Get("X-Request-Id")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	input := map[string]any{
		"triggerType":    "webhook",
		"webhookPayload": parsePayload(body),
		"webhookMeta": map[string]any{
			"delivery_id": deliveryID,
			"received_at": time.Now().Format(time.RFC3339),
			"source_ip":   sourceIP(r),
			"headers":     selectedHeaders(r),
		},
	}

	executionID := executor.NewExecutionID()
	err = in.store.CreateExecution(r.Context(), &store.Execution{
		ID:           executionID,
		AutomationID: automation.ID,
		UserID:       automation.UserID,
		TriggerType:  "webhook",
		Input:        store.Sanitize(input),
	})
	if err != nil {
		logger.Error("failed to create execution record", "error", err)
		in.respond(w, http.StatusInternalServerError, map[string]any{"error": "failed to create execution"})
		return
	}

	// Acknowledge first; the caller never sees the execution outcome.
	in.respond(w, http.StatusOK, map[string]any{"execution_id": executionID})

	in.runner.RunExisting(automation, executionID, input, executor.User{ID: automation.UserID})
}

// allow applies the per-automation delivery rate limit.
func (in *Intake) allow(automationID string) bool {
	if in.cfg.RatePerMinute <= 0 {
		return true
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	limiter, ok := in.limiters[automationID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(in.cfg.RatePerMinute)/60.0), in.cfg.RatePerMinute)
		in.limiters[automationID] = limiter
	}
	return limiter.Allow()
}

func (in *Intake) respond(w http.ResponseWriter, code int, payload map[string]any) {
	metrics.RecordWebhookRequest(strconv.Itoa(code))
	writeJSON(w, code, payload)
}

// verifySignature checks the delivery HMAC. The signature is a hex
// HMAC-SHA-256 of the raw body in X-Hub-Signature-256 (with or without the
// "sha256=" prefix) or X-Webhook-Secret. Comparison is constant time.
func verifySignature(r *http.Request, body []byte, secret string) error {
	sig := r.Header.Get("X-Hub-Signature-256")
	if sig == "" {
		sig = r.Header.Get("X-Webhook-Secret")
	}
	if sig == "" {
		return errors.New("no signature header")
	}
	sig = strings.TrimPrefix(sig, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// parsePayload decodes the body as a JSON object. Non-object JSON and
// non-JSON bodies are wrapped so handlers always see a map.
func parsePayload(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		return obj
	}

	var value any
	if err := json.Unmarshal(body, &value); err == nil {
		return map[string]any{"value": value}
	}
	return map[string]any{"raw": string(body)}
}

func selectedHeaders(r *http.Request) map[string]any {
	out := make(map[string]any)
	for _, name := range headerAllowlist {
		if v := r.Header.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
