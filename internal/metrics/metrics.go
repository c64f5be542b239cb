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

// Package metrics defines the Prometheus instrumentation for the relay
// daemon and the /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// executionsTotal tracks executions by trigger type and terminal status
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_executions_total",
			Help: "Total executions by trigger type and terminal status",
		},
		[]string{"trigger", "status"},
	)

	// executionDuration observes end-to-end execution duration
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_execution_duration_seconds",
			Help:    "End-to-end execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"trigger"},
	)

	// executionsActive tracks currently running executions
	executionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_executions_active",
			Help: "Number of currently running executions",
		},
	)

	// stepRetriesTotal tracks step retries by tool
	stepRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_step_retries_total",
			Help: "Total step retries by tool",
		},
		[]string{"tool"},
	)

	// stepDuration observes per-step handler duration
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_step_duration_seconds",
			Help:    "Step handler duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tool", "status"},
	)

	// scheduledJobs tracks jobs registered with the scheduler
	scheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_scheduler_jobs",
			Help: "Number of automations registered with the scheduler",
		},
	)

	// rssPollsTotal tracks feed polls by outcome
	rssPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rss_polls_total",
			Help: "Total RSS polls by outcome (new_items, no_change, error)",
		},
		[]string{"outcome"},
	)

	// webhookRequestsTotal tracks webhook intake requests by response code
	webhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_requests_total",
			Help: "Total webhook intake requests by HTTP status",
		},
		[]string{"code"},
	)

	// rpcRequestsTotal tracks discovery RPC calls by method and outcome
	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rpc_requests_total",
			Help: "Total tool-discovery RPC requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)
)

// RecordExecution records a terminal execution outcome.
func RecordExecution(trigger, status string, seconds float64) {
	executionsTotal.WithLabelValues(trigger, status).Inc()
	executionDuration.WithLabelValues(trigger).Observe(seconds)
}

// ExecutionStarted marks an execution as running.
func ExecutionStarted() { executionsActive.Inc() }

// ExecutionFinished marks an execution as done.
func ExecutionFinished() { executionsActive.Dec() }

// RecordStep records one step attempt.
func RecordStep(tool, status string, seconds float64) {
	stepDuration.WithLabelValues(tool, status).Observe(seconds)
}

// RecordStepRetry records a retry of a step.
func RecordStepRetry(tool string) {
	stepRetriesTotal.WithLabelValues(tool).Inc()
}

// SetScheduledJobs reports the scheduler's job count.
func SetScheduledJobs(n int) {
	scheduledJobs.Set(float64(n))
}

// RecordRSSPoll records a feed poll outcome.
func RecordRSSPoll(outcome string) {
	rssPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhookRequest records a webhook intake response.
func RecordWebhookRequest(code string) {
	webhookRequestsTotal.WithLabelValues(code).Inc()
}

// RecordRPCRequest records a discovery RPC call.
func RecordRPCRequest(method, outcome string) {
	rpcRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
