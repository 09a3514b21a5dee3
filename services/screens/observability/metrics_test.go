// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics creates a Metrics instance on an isolated registry.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.SessionStarted(EndpointSSE)
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("sse")); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}

	m.SessionEnded(EndpointSSE, 2.5, "budget")
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("sse")); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("sse", OutcomeSuccess)); got != 1 {
		t.Errorf("Expected 1 successful session, got %v", got)
	}
	if got := testutil.ToFloat64(m.FinishReasonsTotal.WithLabelValues("budget")); got != 1 {
		t.Errorf("Expected 1 budget finish, got %v", got)
	}
}

func TestSessionEnded_FailureHasNoFinishReason(t *testing.T) {
	m := newTestMetrics(t)

	m.SessionStarted(EndpointWebSocket)
	m.SessionEnded(EndpointWebSocket, 0.1, "")

	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("websocket", OutcomeError)); got != 1 {
		t.Errorf("Expected 1 failed session, got %v", got)
	}
	if got := testutil.CollectAndCount(m.FinishReasonsTotal); got != 0 {
		t.Errorf("Expected no finish reason series, got %d", got)
	}
}

func TestRecordOperation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordOperation("upsert_component", true)
	m.RecordOperation("upsert_component", true)
	m.RecordOperation("upsert_component", false)

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("upsert_component", "accepted")); got != 2 {
		t.Errorf("Expected 2 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("upsert_component", "rejected")); got != 1 {
		t.Errorf("Expected 1 rejected, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPatchApplied()
	m.RecordRateLimited()
	m.RecordKeepAlive(EndpointSSE)
	m.RecordError(EndpointGenerate, ErrorCodeLLMError)

	if got := testutil.ToFloat64(m.PatchesAppliedTotal); got != 1 {
		t.Errorf("Expected 1 patch, got %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitedTotal); got != 1 {
		t.Errorf("Expected 1 rate limited, got %v", got)
	}
	if got := testutil.ToFloat64(m.KeepAlivesTotal.WithLabelValues("sse")); got != 1 {
		t.Errorf("Expected 1 keepalive, got %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("generate", "llm_error")); got != 1 {
		t.Errorf("Expected 1 llm error, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionStarted(EndpointSSE)
	m.SessionEnded(EndpointSSE, 1, "finalize")
	m.RecordOperation("finalize", true)
	m.RecordPatchApplied()
	m.RecordError(EndpointSSE, ErrorCodeInternal)
	m.RecordRateLimited()
	m.RecordKeepAlive(EndpointSSE)
}
