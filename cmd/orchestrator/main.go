// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the Neurowatch monitoring HTTP server.
//
// This is the main entry point for the containerized orchestrator service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - GIN_MODE: Gin framework mode (default: release)
//   - LLM_BACKEND_TYPE: generation provider - groq, openai, ollama (default: groq)
//   - GROQ_API_KEY / OPENAI_API_KEY: generation credentials
//   - GENERATION_MODEL: generation model name
//   - WEAVIATE_SERVICE_URL: vector index URL (required)
//   - SHARED_INDEX_CLASS: shared corpus class (default: SharedClinical)
//   - PATIENT_INDEX_PREFIX: private class prefix (default: Patient)
//   - EMBEDDING_SERVICE_URL: embedding endpoint
//   - PATIENT_DB_PATH: sqlite registry path (default: neurowatch.db)
//   - SESSION_STORE: memory or badger (default: memory)
//   - SESSION_STORE_PATH: badger directory (default: neurowatch-sessions)
//   - MAX_QUESTIONS: default interview budget (default: 6)
//   - RETENTION_ENABLED: session sweeper toggle (default: false)
//   - RETENTION_INTERVAL_SECONDS: sweep interval (default: 3600)
//   - SESSION_MAX_AGE_SECONDS: completed-session max age (default: 86400)
//   - RETENTION_LOG_PATH: audit log path (default: neurowatch-retention.log)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//   - ENABLE_METRICS: /metrics exposure (default: true)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:               getEnvInt("ORCHESTRATOR_PORT", 12210),
		GinMode:            getEnvString("GIN_MODE", "release"),
		LLMBackend:         getEnvString("LLM_BACKEND_TYPE", "groq"),
		WeaviateURL:        os.Getenv("WEAVIATE_SERVICE_URL"),
		SharedIndexClass:   getEnvString("SHARED_INDEX_CLASS", "SharedClinical"),
		PatientIndexPrefix: getEnvString("PATIENT_INDEX_PREFIX", "Patient"),
		PatientDBPath:      getEnvString("PATIENT_DB_PATH", "neurowatch.db"),
		SessionStore:       getEnvString("SESSION_STORE", "memory"),
		SessionStorePath:   getEnvString("SESSION_STORE_PATH", "neurowatch-sessions"),
		MaxQuestions:       getEnvInt("MAX_QUESTIONS", 6),
		RetentionEnabled:   getEnvBool("RETENTION_ENABLED", false),
		RetentionInterval:  getEnvSeconds("RETENTION_INTERVAL_SECONDS", 3600),
		SessionMaxAge:      getEnvSeconds("SESSION_MAX_AGE_SECONDS", 86400),
		RetentionLogPath:   getEnvString("RETENTION_LOG_PATH", "neurowatch-retention.log"),
		OTelEndpoint:       getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		EnableMetrics:      getEnvBool("ENABLE_METRICS", true),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
		"session_store", cfg.SessionStore,
		"retention_enabled", cfg.RetentionEnabled,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
// Accepts the strconv.ParseBool forms (1/0, t/f, true/false...).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvSeconds returns the environment variable, interpreted as a whole
// number of seconds, as a time.Duration.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
