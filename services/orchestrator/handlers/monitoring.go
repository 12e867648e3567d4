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

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var monitoringTracer = otel.Tracer("neurowatch.orchestrator.handlers")

// StartMonitoringSession handles POST /monitoring/session/start.
//
// # Description
//
// Creates a new structured monitoring session for the patient. The patient
// must be registered and must have an indexed medical report; a closed gate
// returns the structured 400 blocking payload and no session is created.
//
// # Outputs
//
//   - 201: {session_id, patient_id, max_questions}
//   - 400: gate blocked, or invalid request body
//   - 404: patient not registered
func StartMonitoringSession(manager *services.MonitoringSessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := monitoringTracer.Start(c.Request.Context(), "StartMonitoringSession")
		defer span.End()

		var req datatypes.StartSessionRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind start session request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("patient.id", req.PatientID))

		resp, err := manager.StartSession(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to start monitoring session",
				"patient_id", req.PatientID, "error", err)
			respondServiceError(c, err)
			return
		}

		span.SetAttributes(attribute.String("session.id", resp.SessionID))
		slog.Info("Monitoring session started",
			"session_id", resp.SessionID,
			"patient_id", resp.PatientID,
			"max_questions", resp.MaxQuestions,
		)
		c.JSON(http.StatusCreated, resp)
	}
}

// NextMonitoringQuestion handles POST /monitoring/session/:sessionId/next-question.
//
// # Description
//
// Generates the next monitoring question for the session, or returns the
// terminal {status: "complete", question: null} marker once the question
// budget is exhausted. Question generation has no fallback; a generator
// failure surfaces as a 500.
func NextMonitoringQuestion(manager *services.MonitoringSessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := monitoringTracer.Start(c.Request.Context(), "NextMonitoringQuestion")
		defer span.End()

		sessionID := c.Param("sessionId")
		span.SetAttributes(attribute.String("session.id", sessionID))

		resp, err := manager.NextQuestion(ctx, sessionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to generate next question",
				"session_id", sessionID, "error", err)
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// SubmitMonitoringAnswer handles POST /monitoring/session/:sessionId/submit-answer.
//
// The answer is validated against its declared type before being recorded;
// a failed validation returns 400 and the caller resubmits.
func SubmitMonitoringAnswer(manager *services.MonitoringSessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := monitoringTracer.Start(c.Request.Context(), "SubmitMonitoringAnswer")
		defer span.End()

		sessionID := c.Param("sessionId")
		span.SetAttributes(attribute.String("session.id", sessionID))

		var req datatypes.SubmitAnswerRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind submit answer request",
				"session_id", sessionID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := manager.SubmitAnswer(ctx, sessionID, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to submit answer",
				"session_id", sessionID, "error", err)
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// GetMonitoringAssessment handles POST /monitoring/session/:sessionId/assessment.
//
// # Description
//
// Produces the final risk assessment for the session and completes it. The
// session must have collected at least the minimum number of answers (400
// otherwise). The assessment itself never fails: when the generator is down
// or returns unusable output the deterministic keyword fallback classifies
// the transcript instead.
func GetMonitoringAssessment(manager *services.MonitoringSessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := monitoringTracer.Start(c.Request.Context(), "GetMonitoringAssessment")
		defer span.End()

		sessionID := c.Param("sessionId")
		span.SetAttributes(attribute.String("session.id", sessionID))

		assessment, err := manager.GetAssessment(ctx, sessionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to assess monitoring session",
				"session_id", sessionID, "error", err)
			respondServiceError(c, err)
			return
		}

		span.SetAttributes(attribute.String("risk.level", assessment.RiskLevel))
		slog.Info("Monitoring session assessed",
			"session_id", sessionID,
			"risk_level", assessment.RiskLevel,
			"questions_asked", assessment.TotalQuestionsAsked,
		)
		c.JSON(http.StatusOK, assessment)
	}
}

// GetMonitoringSession handles GET /monitoring/session/:sessionId. Read-only
// snapshot of the session state, including the assessment once produced.
func GetMonitoringSession(manager *services.MonitoringSessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		snapshot, err := manager.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("Failed to load monitoring session",
				"session_id", sessionID, "error", err)
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}
