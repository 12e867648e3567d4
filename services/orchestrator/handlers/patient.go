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
)

// defaultRiskSummaryDays is the aggregation window when the request carries
// no days parameter.
const defaultRiskSummaryDays = 30

// RegisterPatient handles POST /patient/register.
//
// # Outputs
//
//   - 201: {success, message, patient_id}
//   - 400: invalid request body
//   - 409: patient ID or email already registered
func RegisterPatient(registry store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterPatientRequest
		if err := c.BindJSON(&req); err != nil {
			slog.Error("Failed to bind register patient request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		patient := &store.Patient{
			PatientID:      req.PatientID,
			Name:           req.Name,
			Age:            req.Age,
			MedicalHistory: req.MedicalHistory,
		}
		if req.Email != "" {
			patient.Email = &req.Email
		}

		if err := registry.RegisterPatient(c.Request.Context(), patient); err != nil {
			if errors.Is(err, store.ErrDuplicatePatient) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Failed to register patient", "patient_id", req.PatientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Patient registered", "patient_id", req.PatientID)
		c.JSON(http.StatusCreated, gin.H{
			"success":    true,
			"message":    fmt.Sprintf("Patient %s registered successfully", req.Name),
			"patient_id": req.PatientID,
		})
	}
}

// GetPatient handles GET /patient/:patientId.
func GetPatient(registry store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		patientID := c.Param("patientId")

		patient, err := registry.GetPatient(c.Request.Context(), patientID)
		if err != nil {
			if errors.Is(err, store.ErrPatientNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("patient not found: %s", patientID)})
				return
			}
			slog.Error("Failed to look up patient", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, patient.Response())
	}
}

// GetReportStatus handles GET /patient/:patientId/report/status.
//
// # Description
//
// Probes the report gate without starting anything: tells the caller whether
// the patient's private index holds report passages and whether monitoring
// may proceed. Upload surfaces poll this before offering the monitoring
// flow.
func GetReportStatus(registry store.Store, gate services.ReportGate) gin.HandlerFunc {
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

		open, err := gate.CanProceed(ctx, patientID)
		if err != nil {
			slog.Error("Report gate check failed", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		status := datatypes.ReportStatusAwaiting
		if open {
			status = datatypes.ReportStatusReady
		}
		c.JSON(http.StatusOK, datatypes.ReportStatusResponse{
			PatientID:                patientID,
			HasMedicalReport:         open,
			Status:                   status,
			CanProceedWithMonitoring: open,
		})
	}
}

// GetRiskSummary handles GET /patient/:patientId/risk/summary.
//
// Aggregates the risk tags persisted with the patient's history over the
// last `days` days (default 30): per-level distribution, total tagged rows,
// and the most severe level present.
func GetRiskSummary(registry store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		patientID := c.Param("patientId")

		days := defaultRiskSummaryDays
		if raw := c.Query("days"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				days = parsed
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

		summary, err := registry.RiskSummary(ctx, patientID, days)
		if err != nil {
			slog.Error("Failed to aggregate risk summary", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, datatypes.RiskSummaryResponse{
			PatientID:        patientID,
			RiskDistribution: summary.Distribution,
			TotalQueries:     summary.Total,
			MaxRiskLevel:     summary.MaxLevel,
		})
	}
}
