// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log"
	"log/slog"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// SharedClinicalClass is the class holding the clinical reference corpus
// shared by all patients.
const SharedClinicalClass = "SharedClinical"

// DefaultPatientClassPrefix is the class-name prefix for per-patient report
// indices.
const DefaultPatientClassPrefix = "Patient"

// PatientClassName maps a patient identifier to its private Weaviate class.
//
// Weaviate class names must start with an uppercase letter and contain only
// alphanumerics and underscores, so every other rune in the patient ID is
// mapped to an underscore.
//
//	PatientClassName("Patient", "p-001") == "Patient_p_001"
func PatientClassName(prefix, patientID string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('_')
	for _, r := range patientID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func passageProperties() []*models.Property {
	indexFilterable := new(bool)
	*indexFilterable = true

	return []*models.Property{
		{
			Name:         "content",
			DataType:     []string{"text"},
			Description:  "The passage text.",
			Tokenization: "word",
		},
		{
			Name:            "source",
			DataType:        []string{"text"},
			Description:     "The original document or file this passage came from.",
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		},
		{
			Name:            "patient_id",
			DataType:        []string{"text"},
			Description:     "Owning patient identifier. Empty for the shared corpus.",
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		},
		{
			Name:            "timestamp",
			DataType:        []string{"number"},
			Description:     "Unix milliseconds when the passage was indexed.",
			IndexFilterable: indexFilterable,
		},
	}
}

// GetSharedClinicalSchema returns the schema for the shared clinical
// reference corpus.
func GetSharedClinicalSchema() *models.Class {
	return &models.Class{
		Class:       SharedClinicalClass,
		Description: "Clinical reference passages shared by all patients.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: passageProperties(),
	}
}

// GetPatientReportSchema returns the schema for one patient's private report
// index. className must come from PatientClassName.
func GetPatientReportSchema(className string) *models.Class {
	return &models.Class{
		Class:       className,
		Description: "Private medical report passages for a single patient.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: passageProperties(),
	}
}

// EnsureWeaviateSchema creates the fixed classes if they do not exist yet.
// Per-patient classes are created lazily at ingest time via
// EnsurePatientClass.
func EnsureWeaviateSchema(client *weaviate.Client) {
	// A list of functions that return our schema definitions.
	schemaGetters := []func() *models.Class{
		GetSharedClinicalSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// Check if the class already exists.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				// If we fail to create it, it's a fatal error.
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}

// EnsureSharedClass creates the shared corpus class if it does not exist
// yet, under className (deployments may rename it via SHARED_INDEX_CLASS).
// Never exits the process; seeding callers handle the error.
func EnsureSharedClass(ctx context.Context, client *weaviate.Client, className string) error {
	_, err := client.Schema().ClassGetter().WithClassName(className).Do(ctx)
	if err == nil {
		return nil
	}

	slog.Info("Shared class not found, creating it...", "class", className)
	class := GetSharedClinicalSchema()
	class.Class = className
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return err
	}
	slog.Info("Successfully created shared class", "class", className)
	return nil
}

// EnsurePatientClass creates the private report class for a patient if it
// does not exist yet. Unlike EnsureWeaviateSchema this never exits the
// process; ingestion callers handle the error.
func EnsurePatientClass(ctx context.Context, client *weaviate.Client, className string) error {
	_, err := client.Schema().ClassGetter().WithClassName(className).Do(ctx)
	if err == nil {
		return nil
	}

	slog.Info("Patient class not found, creating it...", "class", className)
	class := GetPatientReportSchema(className)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return err
	}
	slog.Info("Successfully created patient class", "class", className)
	return nil
}
