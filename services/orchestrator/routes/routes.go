// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
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
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/handlers"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the full HTTP surface on the router. The metrics
// endpoint is only mounted when enableMetrics is set.
func SetupRoutes(router *gin.Engine, registry store.Store, gate services.ReportGate,
	chat *services.ChatRAGService, manager *services.MonitoringSessionManager,
	daily *services.DailyQuestionService, enableMetrics bool) {

	router.GET("/health", handlers.HealthCheck(registry))
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.POST("/chat/query", handlers.HandleChatQuery(chat))

	// Patient registry, history and daily check-in routes
	patient := router.Group("/patient")
	{
		patient.POST("/register", handlers.RegisterPatient(registry))
		patient.GET("/:patientId", handlers.GetPatient(registry))
		patient.GET("/:patientId/report/status", handlers.GetReportStatus(registry, gate))
		patient.GET("/:patientId/chat/history", handlers.GetChatHistory(registry))
		patient.DELETE("/:patientId/chat/history", handlers.ClearChatHistory(registry, chat))
		patient.GET("/:patientId/risk/summary", handlers.GetRiskSummary(registry))
		patient.POST("/:patientId/daily-question", handlers.HandleDailyQuestion(daily))
		patient.POST("/:patientId/daily-question/answer", handlers.SaveDailyAnswer(daily))
		patient.GET("/:patientId/daily-question/history", handlers.GetDailyHistory(daily))
	}

	// Monitoring interview routes
	sessions := router.Group("/monitoring/session")
	{
		sessions.POST("/start", handlers.StartMonitoringSession(manager))
		sessions.POST("/:sessionId/next-question", handlers.NextMonitoringQuestion(manager))
		sessions.POST("/:sessionId/submit-answer", handlers.SubmitMonitoringAnswer(manager))
		sessions.POST("/:sessionId/assessment", handlers.GetMonitoringAssessment(manager))
		sessions.GET("/:sessionId", handlers.GetMonitoringSession(manager))
	}
}
