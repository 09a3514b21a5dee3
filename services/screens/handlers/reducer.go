// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/gin-gonic/gin"
)

// HandleApply folds a Patch into a Screen with the same reducer the
// streaming session uses. No model is involved.
//
// Unknown component ids in the Patch are not errors; they are dropped by
// the reducer. Only malformed shapes are rejected with 400.
func HandleApply(c *gin.Context) {
	var req datatypes.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, requestErrorResponse(err))
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, requestErrorResponse(err))
		return
	}

	next := screen.Apply(req.Screen, req.Patch)
	digest, err := screen.Digest(next)
	if err != nil {
		slog.Error("Failed to digest applied screen", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, datatypes.ApplyResponse{Screen: next, Digest: digest})
}

// HandleValidate reports every invariant a Screen breaks. An invalid Screen
// is a 200 with valid=false; only an unreadable body is a 400.
func HandleValidate(c *gin.Context) {
	var req datatypes.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, requestErrorResponse(err))
		return
	}

	resp := datatypes.ValidateResponse{Valid: true, Violations: []screen.Violation{}}
	if err := screen.Validate(req.Screen); err != nil {
		resp.Valid = false
		resp.Violations = violationsOf(err)
	}
	c.JSON(http.StatusOK, resp)
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
