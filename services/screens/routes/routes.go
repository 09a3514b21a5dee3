// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianScreens/services/screens/handlers"
	"github.com/AleutianAI/AleutianScreens/services/screens/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every screens endpoint on router.
//
// /health and /metrics are never rate limited. limiter may be nil, in which
// case the /v1/screens group is unlimited.
func SetupRoutes(router *gin.Engine, h *handlers.ScreensHandler, limiter *middleware.RateLimiter,
	gatherer prometheus.Gatherer) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1/screens")
	if limiter != nil {
		v1.Use(limiter.Middleware())
	}
	{
		v1.POST("/stream", h.HandleStream)
		v1.GET("/ws", h.HandleWebSocket)
		v1.POST("/generate", h.HandleGenerate)

		// Pure reducer endpoints; no model backend involved.
		v1.POST("/apply", handlers.HandleApply)
		v1.POST("/validate", handlers.HandleValidate)
	}
}
