// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianScreens/services/screens/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func request(r *gin.Engine, remote string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remote
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := newRouter(NewRateLimiter(0.001, 2, metrics))

	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1:1234").Code)

	w := request(r, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitedTotal))

	assert.Equal(t, http.StatusOK, request(r, "10.0.0.2:1234").Code, "buckets are per client")
}

func TestRateLimiter_ZeroDisables(t *testing.T) {
	r := newRouter(NewRateLimiter(0, 0, nil))
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, request(r, "10.0.0.1:1234").Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Allow("a")
	rl.Allow("b")

	rl.Cleanup(time.Now())
	assert.Equal(t, 2, rl.size())

	rl.Cleanup(time.Now().Add(staleAfter + time.Second))
	assert.Equal(t, 0, rl.size())
}
