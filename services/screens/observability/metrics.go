// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the screens service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring generation turns.
// Metrics include:
//   - Session counters (by endpoint, outcome, finish reason)
//   - Structural operation counters (by tool, accepted or rejected)
//   - Session duration histograms
//   - Active session gauges
//   - Error and rate-limit counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics, so callers that do not care
// about metrics may pass nil.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for screen generation metrics
const screensSubsystem = "screens"

// Metrics holds all Prometheus metrics for screen generation.
//
// # Fields
//
//   - SessionsTotal: Completed sessions by endpoint and outcome
//   - FinishReasonsTotal: Successful sessions by finish reason
//   - OperationsTotal: Structural operations by tool and status
//   - PatchesAppliedTotal: Patches folded into a session Screen
//   - SessionDurationSeconds: Session duration by endpoint and outcome
//   - ActiveSessions: Sessions currently streaming
//   - ErrorsTotal: Errors by endpoint and code
//   - RateLimitedTotal: Requests rejected by the rate limiter
//   - KeepAlivesTotal: Keepalive comments written
type Metrics struct {
	SessionsTotal          *prometheus.CounterVec
	FinishReasonsTotal     *prometheus.CounterVec
	OperationsTotal        *prometheus.CounterVec
	PatchesAppliedTotal    prometheus.Counter
	SessionDurationSeconds *prometheus.HistogramVec
	ActiveSessions         *prometheus.GaugeVec
	ErrorsTotal            *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter
	KeepAlivesTotal        *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: Registerer to use. Tests pass prometheus.NewRegistry(); the
//     service passes prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "sessions_total",
				Help:      "Total number of generation sessions by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),

		FinishReasonsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "finish_reasons_total",
				Help:      "Successful sessions by finish reason",
			},
			[]string{"reason"},
		),

		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "operations_total",
				Help:      "Structural operations issued by the agent, by tool and status",
			},
			[]string{"tool", "status"},
		),

		PatchesAppliedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "patches_applied_total",
				Help:      "Patches folded into a session screen",
			},
		),

		SessionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "session_duration_seconds",
				Help:      "Total session duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "outcome"},
		),

		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "active_sessions",
				Help:      "Number of sessions currently streaming",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-client rate limiter",
			},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: screensSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeConfiguration    ErrorCode = "configuration"
	ErrorCodeLLMError         ErrorCode = "llm_error"
	ErrorCodeFinalValidation  ErrorCode = "final_validation"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint labels the surface that ran a session.
type Endpoint string

const (
	EndpointSSE       Endpoint = "sse"
	EndpointWebSocket Endpoint = "websocket"
	EndpointGenerate  Endpoint = "generate"
)

// Outcome of a session.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(string(endpoint)).Inc()
}

// SessionEnded decrements the active gauge and records outcome and duration.
//
// # Inputs
//
//   - endpoint: The surface that ran the session.
//   - seconds: Total duration in seconds.
//   - finishReason: Empty when the session failed.
func (m *Metrics) SessionEnded(endpoint Endpoint, seconds float64, finishReason string) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if finishReason == "" {
		outcome = OutcomeError
	} else {
		m.FinishReasonsTotal.WithLabelValues(finishReason).Inc()
	}
	m.ActiveSessions.WithLabelValues(string(endpoint)).Dec()
	m.SessionsTotal.WithLabelValues(string(endpoint), outcome).Inc()
	m.SessionDurationSeconds.WithLabelValues(string(endpoint), outcome).Observe(seconds)
}

// RecordOperation counts one agent tool call.
func (m *Metrics) RecordOperation(tool string, accepted bool) {
	if m == nil {
		return
	}
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.OperationsTotal.WithLabelValues(tool, status).Inc()
}

// RecordPatchApplied counts one folded Patch.
func (m *Metrics) RecordPatchApplied() {
	if m == nil {
		return
	}
	m.PatchesAppliedTotal.Inc()
}

// RecordError records an error.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordRateLimited counts one rejected request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}
