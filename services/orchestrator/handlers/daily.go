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
	"strconv"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var dailyTracer = otel.Tracer("neurowatch.orchestrator.handlers")

// defaultDailyHistoryDays is the history window when the request carries no
// days parameter.
const defaultDailyHistoryDays = 7

// HandleDailyQuestion handles POST /patient/:patientId/daily-question.
//
// # Description
//
// Generates one personalized daily check-in question from the patient's
// recent concerns and risk trend. Generation failures degrade to the fixed
// fallback question, so the endpoint only errors when the patient is unknown
// or the store is down.
func HandleDailyQuestion(daily *services.DailyQuestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := dailyTracer.Start(c.Request.Context(), "HandleDailyQuestion")
		defer span.End()

		patientID := c.Param("patientId")
		span.SetAttributes(attribute.String("patient.id", patientID))

		question, err := daily.GenerateDailyQuestion(ctx, patientID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to generate daily question",
				"patient_id", patientID, "error", err)
			respondServiceError(c, err)
			return
		}

		span.SetAttributes(attribute.Bool("daily.fallback", question.Fallback))
		c.JSON(http.StatusOK, datatypes.DailyQuestionResponse{
			Success:       true,
			DailyQuestion: *question,
		})
	}
}

// SaveDailyAnswer handles POST /patient/:patientId/daily-question/answer.
func SaveDailyAnswer(daily *services.DailyQuestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		patientID := c.Param("patientId")

		var req datatypes.DailyAnswerRequest
		if err := c.BindJSON(&req); err != nil {
			slog.Error("Failed to bind daily answer request",
				"patient_id", patientID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := daily.SaveDailyAnswer(c.Request.Context(), patientID, &req); err != nil {
			slog.Error("Failed to save daily answer",
				"patient_id", patientID, "error", err)
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"message":    "Daily answer saved successfully",
			"patient_id": patientID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// GetDailyHistory handles GET /patient/:patientId/daily-question/history.
// Returns up to one answered check-in per day of the window (default 7
// days), newest first.
func GetDailyHistory(daily *services.DailyQuestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		patientID := c.Param("patientId")

		days := defaultDailyHistoryDays
		if raw := c.Query("days"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				days = parsed
			}
		}

		resp, err := daily.RecentDailyAnswers(c.Request.Context(), patientID, days)
		if err != nil {
			slog.Error("Failed to load daily question history",
				"patient_id", patientID, "error", err)
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
