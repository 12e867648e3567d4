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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("neurowatch.orchestrator.handlers")

// HandleChatQuery handles POST /chat/query.
//
// # Description
//
// Runs one patient message through the gated retrieve-answer-assess pipeline:
// report gate, dual retrieval (shared corpus + patient records), grounded
// answer generation, and per-exchange risk assessment. The exchange is
// persisted to the patient's history with its risk tag.
//
// # Outputs
//
//   - 200: {answer, risk_level, risk_reason, source_documents, timestamp}
//   - 400: gate blocked, or invalid request body
//   - 404: patient not registered
//   - 500: answer generation failed
func HandleChatQuery(chat *services.ChatRAGService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatQuery")
		defer span.End()

		var req datatypes.ChatQueryRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind chat query request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("patient.id", req.PatientID),
			attribute.Int("message.length", len(req.Message)),
		)

		resp, err := chat.Process(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Chat query failed", "patient_id", req.PatientID, "error", err)
			respondServiceError(c, err)
			return
		}

		span.SetAttributes(attribute.String("risk.level", resp.RiskLevel))
		c.JSON(http.StatusOK, resp)
	}
}

// GetChatHistory handles GET /patient/:patientId/chat/history.
//
// Returns the newest `limit` exchanges in chronological order; limit defaults
// to the store cap when absent or unparseable.
func GetChatHistory(registry store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		patientID := c.Param("patientId")

		limit := store.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		if _, err := registry.GetPatient(ctx, patientID); err != nil {
			if errors.Is(err, store.ErrPatientNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("patient not found: %s", patientID)})
				return
			}
			slog.Error("Failed to look up patient", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		rows, err := registry.History(ctx, patientID, limit)
		if err != nil {
			slog.Error("Failed to load chat history", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		entries := make([]datatypes.ChatHistoryEntry, 0, len(rows))
		for i := range rows {
			entries = append(entries, rows[i].HistoryEntry())
		}

		c.JSON(http.StatusOK, datatypes.ChatHistoryResponse{
			PatientID: patientID,
			Total:     len(entries),
			History:   entries,
		})
	}
}

// ClearChatHistory handles DELETE /patient/:patientId/chat/history.
//
// Deletes all persisted exchanges for the patient and drops the in-memory
// conversational window so the next chat starts from a clean slate.
func ClearChatHistory(registry store.Store, chat *services.ChatRAGService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		patientID := c.Param("patientId")

		if _, err := registry.GetPatient(ctx, patientID); err != nil {
			if errors.Is(err, store.ErrPatientNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("patient not found: %s", patientID)})
				return
			}
			slog.Error("Failed to look up patient", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		removed, err := registry.ClearHistory(ctx, patientID)
		if err != nil {
			slog.Error("Failed to clear chat history", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		chat.ResetMemory(patientID)

		slog.Info("Chat history cleared", "patient_id", patientID, "removed", removed)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("Chat history cleared for patient %s", patientID),
		})
	}
}
