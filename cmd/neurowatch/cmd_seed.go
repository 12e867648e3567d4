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
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate/entities/models"
	"gopkg.in/yaml.v3"

	"github.com/NeurowatchAI/Neurowatch/pkg/logging"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
)

// Passage splitting parameters. These mirror what the retrieval side was
// tuned against, so they are deliberately constants rather than flags.
const (
	chunkSize     = 500
	chunkOverlap  = 50
	minChunkChars = 50
)

// corpusManifest lists the text sources for the shared clinical corpus.
//
// Example corpus.yaml:
//
//	sources:
//	  - path: medical_books/stroke_recovery_guide.txt
//	  - path: medical_books/tbi_reference.txt
//	    name: tbi_reference_handbook
type corpusManifest struct {
	Sources []corpusSource `yaml:"sources"`
}

// corpusSource is one entry in the manifest. Path is resolved relative to
// the manifest file; Name defaults to the file name without extension.
type corpusSource struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// runSeedShared is the CLI handler for "neurowatch seed shared".
//
// It loads the manifest, ensures the shared corpus class exists, then
// splits, embeds, and indexes every listed source.
func runSeedShared(cmd *cobra.Command, args []string) {
	logger := logging.Default()
	defer logger.Close()

	manifest, baseDir, err := loadManifest(manifestPath)
	if err != nil {
		log.Fatalf("Failed to load manifest: %v", err)
	}

	client := newWeaviateClient()
	className := sharedIndexClass()
	ctx := context.Background()

	if err := datatypes.EnsureSharedClass(ctx, client, className); err != nil {
		log.Fatalf("Failed to ensure shared class %s: %v", className, err)
	}

	embedder := services.NewServiceEmbedder()
	totalChunks := 0

	for _, src := range manifest.Sources {
		path := src.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read source %s: %v", src.Path, err)
		}

		name := src.Name
		if name == "" {
			name = sourceNameFromPath(src.Path)
		}

		fmt.Printf("Seeding %s into %s...\n", name, className)
		count, err := indexDocument(ctx, client, embedder, logger, indexRequest{
			ClassName: className,
			Source:    name,
			Content:   string(content),
		})
		if err != nil {
			log.Fatalf("Failed to index %s: %v", name, err)
		}
		fmt.Printf("  %d passages indexed\n", count)
		totalChunks += count
	}

	fmt.Println("------------------------------------------------------------------")
	fmt.Printf("Shared corpus seeding complete: %d sources, %d passages\n",
		len(manifest.Sources), totalChunks)
}

// runSeedPatient is the CLI handler for "neurowatch seed patient <id>".
//
// It reads the report file, ensures the patient's private class exists,
// then splits, embeds, and indexes the report. Once passages land, the
// report gate opens for this patient.
func runSeedPatient(cmd *cobra.Command, args []string) {
	logger := logging.Default()
	defer logger.Close()

	patientID := args[0]

	content, err := os.ReadFile(reportFile)
	if err != nil {
		log.Fatalf("Failed to read report file %s: %v", reportFile, err)
	}

	client := newWeaviateClient()
	className := datatypes.PatientClassName(patientIndexPrefix(), patientID)
	ctx := context.Background()

	if err := datatypes.EnsurePatientClass(ctx, client, className); err != nil {
		log.Fatalf("Failed to ensure patient class %s: %v", className, err)
	}

	embedder := services.NewServiceEmbedder()

	fmt.Printf("Seeding report for patient %s into %s...\n", patientID, className)
	count, err := indexDocument(ctx, client, embedder, logger, indexRequest{
		ClassName: className,
		Source:    sourceNameFromPath(reportFile),
		PatientID: patientID,
		Content:   string(content),
	})
	if err != nil {
		log.Fatalf("Failed to index report: %v", err)
	}

	fmt.Println("------------------------------------------------------------------")
	fmt.Printf("Report indexed: %d passages. Patient %s is ready for monitoring.\n",
		count, patientID)
}

// indexRequest carries one document through splitting, embedding, and
// indexing. PatientID is empty for shared corpus content.
type indexRequest struct {
	ClassName string
	Source    string
	PatientID string
	Content   string
}

// indexDocument splits a document into passages, embeds each one via the
// embedding service, and batch-writes the vectored objects to Weaviate.
//
// # Inputs
//
//   - req: The document, its target class, and its source label.
//
// # Outputs
//
//   - int: Number of passages Weaviate accepted.
//   - error: Non-nil if splitting, embedding, or the batch write fails.
func indexDocument(ctx context.Context, client *weaviate.Client, embedder services.Embedder, logger *logging.Logger, req indexRequest) (int, error) {
	chunks, err := splitIntoPassages(req.Content)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no usable passages after splitting; the source needs at least %d characters of text", minChunkChars)
	}
	logger.Info("Split document into passages",
		"source", req.Source,
		"class", req.ClassName,
		"passages", len(chunks),
	)

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		vector, err := embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("failed to embed passage %d of %d: %w", i+1, len(chunks), err)
		}

		// Deterministic ID from class+content keeps re-seeding idempotent.
		hash := sha256.Sum256([]byte(req.ClassName + chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  req.ClassName,
			ID:     strfmt.UUID(docUUID.String()),
			Vector: vector,
			Properties: map[string]interface{}{
				"content":    chunk,
				"source":     fmt.Sprintf("%s_part_%d", req.Source, i+1),
				"patient_id": req.PatientID,
				"timestamp":  time.Now().UnixMilli(),
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save passages to Weaviate: %w", err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			created++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				logger.Warn("Weaviate rejected passage",
					"source", req.Source,
					"error", errItem.Message,
				)
			}
		}
	}

	if created < len(chunks) {
		logger.Warn("Some passages were not indexed",
			"source", req.Source,
			"indexed", created,
			"total", len(chunks),
		)
	}

	return created, nil
}

// loadManifest reads and validates the corpus manifest. Returns the parsed
// manifest and the directory source paths resolve against.
func loadManifest(path string) (corpusManifest, string, error) {
	var manifest corpusManifest

	data, err := os.ReadFile(path)
	if err != nil {
		return manifest, "", err
	}

	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, "", fmt.Errorf("invalid manifest YAML: %w", err)
	}

	if len(manifest.Sources) == 0 {
		return manifest, "", fmt.Errorf("manifest lists no sources")
	}
	for i, src := range manifest.Sources {
		if strings.TrimSpace(src.Path) == "" {
			return manifest, "", fmt.Errorf("manifest source %d has no path", i+1)
		}
	}

	return manifest, filepath.Dir(path), nil
}

// splitIntoPassages cleans a document and splits it into passages sized
// for embedding. Fragments shorter than minChunkChars carry too little
// clinical signal to retrieve against and are dropped.
func splitIntoPassages(content string) ([]string, error) {
	cleaned := cleanText(content)
	if len(cleaned) < minChunkChars {
		return nil, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to split content: %w", err)
	}

	passages := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(strings.TrimSpace(chunk)) > minChunkChars {
			passages = append(passages, chunk)
		}
	}
	return passages, nil
}

// cleanText normalizes extracted text: trims each line and drops blank
// lines so page furniture does not end up in passages.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "\n")
}

// sourceNameFromPath derives a source label from a file path:
// "books/stroke_guide.txt" becomes "stroke_guide".
func sourceNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
