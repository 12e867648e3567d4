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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	manifestPath string
	reportFile   string
	auditLogPath string

	rootCmd = &cobra.Command{
		Use:   "neurowatch",
		Short: "A cli to manage the Neurowatch clinical monitoring stack",
		Long: `Neurowatch is a tool for operating the post-discharge clinical
				monitoring stack: seeding the vector index with clinical content,
				checking patient readiness, and auditing session retention.`,
	}

	// --- Seeding ---
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Populate the vector index with clinical content",
	}
	seedSharedCmd = &cobra.Command{
		Use:   "shared",
		Short: "Seed the shared clinical reference corpus from a YAML manifest",
		Long: `Reads a YAML manifest listing clinical reference text files, splits
				each one into passages, embeds them via the embedding service, and
				writes them to the shared corpus class in Weaviate.`,
		Run: runSeedShared, // Defined in cmd_seed.go
	}
	seedPatientCmd = &cobra.Command{
		Use:   "patient [patient-id]",
		Short: "Seed one patient's private report index from a text file",
		Long: `Reads a patient's medical report from a plain-text file, splits it
				into passages, embeds them via the embedding service, and writes
				them to the patient's private class in Weaviate. Once passages
				exist, the report gate opens and monitoring can start.`,
		Args: cobra.ExactArgs(1),
		Run:  runSeedPatient, // Defined in cmd_seed.go
	}

	// --- Status ---
	statusCmd = &cobra.Command{
		Use:   "status [patient-id]",
		Short: "Show orchestrator health, and a patient's report status with an id",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStatus, // Defined in cmd_status.go
	}

	// --- Retention Audit ---
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Inspect the session retention audit log",
	}
	auditVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the retention audit hash chain",
		Long: `Walks the retention audit log and checks that every deletion record
				links to its predecessor and hashes to its stored entry hash. Use
				this to verify that the deletion trail has not been tampered with.`,
		Run: runAuditVerify, // Defined in cmd_audit.go
	}
	auditStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show retention audit log statistics",
		Run:   runAuditStatus, // Defined in cmd_audit.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedSharedCmd)
	seedSharedCmd.Flags().StringVar(&manifestPath, "manifest", "corpus.yaml",
		"Path to the YAML manifest listing corpus source files")
	seedCmd.AddCommand(seedPatientCmd)
	seedPatientCmd.Flags().StringVar(&reportFile, "file", "",
		"Path to the patient's medical report text file")
	_ = seedPatientCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditStatusCmd)
	auditCmd.PersistentFlags().StringVar(&auditLogPath, "log", "neurowatch-retention.log",
		"Path to the retention audit log file")
}
