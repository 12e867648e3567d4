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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// healthResponse mirrors the orchestrator's GET /health payload.
type healthResponse struct {
	Status             string `json:"status"`
	Service            string `json:"service"`
	Timestamp          string `json:"timestamp"`
	PatientsRegistered int64  `json:"patients_registered"`
}

// runStatus is the CLI handler for "neurowatch status [patient-id]".
//
// Without arguments it reports orchestrator health. With a patient id it
// additionally reports whether that patient's medical report has been
// indexed and monitoring can start.
func runStatus(cmd *cobra.Command, args []string) {
	baseURL := getOrchestratorBaseURL()

	health, err := fetchHealth(baseURL)
	if err != nil {
		log.Fatalf("Orchestrator unreachable at %s: %v", baseURL, err)
	}

	fmt.Println("--- Neurowatch Orchestrator ---")
	fmt.Printf("Status:              %s\n", health.Status)
	fmt.Printf("Service:             %s\n", health.Service)
	fmt.Printf("Patients registered: %d\n", health.PatientsRegistered)
	fmt.Printf("Reported at:         %s\n", health.Timestamp)

	if len(args) == 0 {
		return
	}

	patientID := args[0]
	report, err := fetchReportStatus(baseURL, patientID)
	if err != nil {
		log.Fatalf("Failed to get report status for %s: %v", patientID, err)
	}

	reportState := "missing"
	if report.HasMedicalReport {
		reportState = "indexed"
	}
	monitoringState := "blocked until a report is uploaded"
	if report.CanProceedWithMonitoring {
		monitoringState = "can start"
	}

	fmt.Printf("--- Patient %s ---\n", patientID)
	fmt.Printf("Medical report:      %s\n", reportState)
	fmt.Printf("Status:              %s\n", report.Status)
	fmt.Printf("Monitoring:          %s\n", monitoringState)
}

// fetchHealth calls GET /health on the orchestrator.
func fetchHealth(baseURL string) (healthResponse, error) {
	var health healthResponse

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return health, fmt.Errorf("orchestrator returned %s: %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("failed to parse health response: %w", err)
	}
	return health, nil
}

// fetchReportStatus calls GET /patient/:id/report/status on the
// orchestrator.
func fetchReportStatus(baseURL, patientID string) (datatypes.ReportStatusResponse, error) {
	var report datatypes.ReportStatusResponse

	resp, err := http.Get(fmt.Sprintf("%s/patient/%s/report/status", baseURL, patientID))
	if err != nil {
		return report, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return report, fmt.Errorf("patient not registered")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return report, fmt.Errorf("orchestrator returned %s: %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("failed to parse report status response: %w", err)
	}
	return report, nil
}
