// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
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
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/gin-gonic/gin"
)

// serviceName identifies this service in the health payload.
const serviceName = "neurowatch-orchestrator"

// HealthCheck handles GET /health. Reports the registry size alongside the
// liveness signal; a failing store makes the check fail.
func HealthCheck(registry store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := registry.CountPatients(c.Request.Context())
		if err != nil {
			slog.Error("Health check failed to count patients", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "patient registry unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":              "healthy",
			"service":             serviceName,
			"timestamp":           time.Now().UTC().Format(time.RFC3339),
			"patients_registered": count,
		})
	}
}
