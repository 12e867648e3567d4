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
	"net/http"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
)

// respondServiceError maps a service-layer error onto the HTTP surface.
//
// # Description
//
// The service layer returns typed errors; every handler funnels them through
// here so the mapping stays in one place. ReportNotUploadedError keeps its
// structured blocking payload (code, message, action); everything else uses
// the plain {"error": ...} body.
//
// # Inputs
//
//   - c: The gin context to write the response to.
//   - err: The service-layer error.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case services.IsReportNotUploaded(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   services.ReportGateCode,
			"message": services.ReportGateMessage,
			"action":  services.ReportGateAction,
		})
	case services.IsPatientNotFound(err), services.IsSessionNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case services.IsInvalidAnswer(err), services.IsAssessmentNotReady(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case services.IsGenerationError(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
