// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// Constants for default connection settings
const (
	DefaultOrchestratorPort = 12210
	DefaultOrchestratorHost = "localhost"
)

// getOrchestratorBaseURL returns the standard address for the orchestrator.
func getOrchestratorBaseURL() string {
	// 1. Priority: Environment Variable (Used by Tests & Docker overrides)
	if url := os.Getenv("NEUROWATCH_ORCHESTRATOR_URL"); url != "" {
		return url
	}
	// 2. Default: Standard Host/Port
	return fmt.Sprintf("http://%s:%d", DefaultOrchestratorHost, DefaultOrchestratorPort)
}

// newWeaviateClient builds a Weaviate client from WEAVIATE_SERVICE_URL.
// Seeding talks to the vector index directly, not through the orchestrator.
func newWeaviateClient() *weaviate.Client {
	raw := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if raw == "" {
		log.Fatalf("WEAVIATE_SERVICE_URL must be set to seed the vector index")
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		log.Fatalf("Invalid Weaviate URL: %s", raw)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	return client
}

// sharedIndexClass returns the shared corpus class name, honoring the
// SHARED_INDEX_CLASS override the orchestrator also respects.
func sharedIndexClass() string {
	if v := os.Getenv("SHARED_INDEX_CLASS"); v != "" {
		return v
	}
	return datatypes.SharedClinicalClass
}

// patientIndexPrefix returns the per-patient class prefix, honoring the
// PATIENT_INDEX_PREFIX override the orchestrator also respects.
func patientIndexPrefix() string {
	if v := os.Getenv("PATIENT_INDEX_PREFIX"); v != "" {
		return v
	}
	return datatypes.DefaultPatientClassPrefix
}
