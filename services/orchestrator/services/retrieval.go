// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// retrievalTracer is the OpenTelemetry tracer for retrieval operations.
var retrievalTracer = otel.Tracer("neurowatch.orchestrator.services.retrieval")

// DefaultKPerSource is the passage count fetched from each index when the
// caller passes a non-positive k.
const DefaultKPerSource = 3

// Compile-time interface implementation checks.
var (
	_ RetrievalGateway = (*WeaviateRetrievalGateway)(nil)
	_ Embedder         = (*ServiceEmbedder)(nil)
)

// =============================================================================
// Interfaces
// =============================================================================

// Embedder computes a vector embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ServiceEmbedder implements Embedder against the external embedding service
// configured via EMBEDDING_SERVICE_URL.
type ServiceEmbedder struct{}

// NewServiceEmbedder creates an Embedder backed by the embedding service.
func NewServiceEmbedder() *ServiceEmbedder {
	return &ServiceEmbedder{}
}

// Embed computes the embedding for text via the embedding service.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp datatypes.EmbeddingResponse
	if err := resp.GetWithContext(ctx, text); err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return resp.Vector, nil
}

// Passage is one retrieved clinical passage.
//
// # Fields
//
//   - Content: The passage text.
//   - Source: Source document label stored at index time.
//   - Class: The Weaviate class the passage came from. Distinguishes shared
//     corpus hits from private report hits.
//   - Distance: Vector distance reported by Weaviate, nil when absent.
type Passage struct {
	Content  string   `json:"content"`
	Source   string   `json:"source"`
	Class    string   `json:"class"`
	Distance *float32 `json:"distance,omitempty"`
}

// RetrievalGateway retrieves clinical passages for a query from both the
// shared corpus and the patient's private index.
//
// # Description
//
// The gateway embeds the query once and fans out to both indices. Results
// are always ordered shared corpus first, then private report passages,
// independent of which query resolves first. An index whose class does not
// exist contributes an empty slice rather than an error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type RetrievalGateway interface {
	// Retrieve returns up to kPerSource passages per index for the query.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation, timeouts, and tracing.
	//   - patientID: Selects the private class to query.
	//   - query: The text to embed and search with.
	//   - kPerSource: Per-index result cap; non-positive means
	//     DefaultKPerSource.
	//
	// # Outputs
	//
	//   - []Passage: Shared hits first, then private hits. Never nil on
	//     success.
	//   - error: Non-nil if embedding or either index query fails.
	Retrieve(ctx context.Context, patientID, query string, kPerSource int) ([]Passage, error)
}

// =============================================================================
// WeaviateRetrievalGateway
// =============================================================================

// WeaviateRetrievalGateway implements RetrievalGateway over two Weaviate
// classes: the shared clinical corpus and the per-patient report class.
type WeaviateRetrievalGateway struct {
	client      *weaviate.Client
	embedder    Embedder
	sharedClass string
	classPrefix string
}

// NewRetrievalGateway creates a gateway over the given Weaviate client.
//
// sharedClass and classPrefix fall back to the schema defaults when empty.
func NewRetrievalGateway(client *weaviate.Client, embedder Embedder, sharedClass, classPrefix string) *WeaviateRetrievalGateway {
	if sharedClass == "" {
		sharedClass = datatypes.SharedClinicalClass
	}
	if classPrefix == "" {
		classPrefix = datatypes.DefaultPatientClassPrefix
	}
	return &WeaviateRetrievalGateway{
		client:      client,
		embedder:    embedder,
		sharedClass: sharedClass,
		classPrefix: classPrefix,
	}
}

// Retrieve embeds the query once and runs both index queries concurrently.
//
// # Description
//
// The shared corpus and the patient's private class are searched in parallel
// via an errgroup; the merged result keeps shared passages ahead of private
// ones regardless of completion order. A missing class on either side yields
// an empty contribution, so a patient whose shared corpus was never seeded
// still gets report-grounded answers.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - patientID: Selects the private class via PatientClassName.
//   - query: The text to search with.
//   - kPerSource: Per-index cap; non-positive means DefaultKPerSource.
//
// # Outputs
//
//   - []Passage: Merged passages, shared first. Empty (not nil) when both
//     indices are absent or empty.
//   - error: Non-nil if embedding fails or a present index errors.
func (g *WeaviateRetrievalGateway) Retrieve(ctx context.Context, patientID, query string, kPerSource int) ([]Passage, error) {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	if kPerSource <= 0 {
		kPerSource = DefaultKPerSource
	}
	patientClass := datatypes.PatientClassName(g.classPrefix, patientID)
	span.SetAttributes(
		attribute.String("patient.id", patientID),
		attribute.String("weaviate.shared_class", g.sharedClass),
		attribute.String("weaviate.patient_class", patientClass),
		attribute.Int("retrieval.k_per_source", kPerSource),
	)

	vector, err := g.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var sharedHits, patientHits []Passage
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		hits, err := g.queryClass(egCtx, g.sharedClass, vector, kPerSource)
		if err != nil {
			return err
		}
		sharedHits = hits
		return nil
	})
	eg.Go(func() error {
		hits, err := g.queryClass(egCtx, patientClass, vector, kPerSource)
		if err != nil {
			return err
		}
		patientHits = hits
		return nil
	})
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index query failed")
		return nil, err
	}

	// Shared corpus guidance always leads, private report passages follow.
	passages := make([]Passage, 0, len(sharedHits)+len(patientHits))
	passages = append(passages, sharedHits...)
	passages = append(passages, patientHits...)

	span.SetAttributes(
		attribute.Int("retrieval.shared_hits", len(sharedHits)),
		attribute.Int("retrieval.patient_hits", len(patientHits)),
	)
	slog.Debug("Retrieved clinical passages",
		"patient_id", patientID,
		"shared_hits", len(sharedHits),
		"patient_hits", len(patientHits),
	)
	return passages, nil
}

// queryClass runs one nearVector query against className. A class absent
// from the schema yields a nil slice and no error.
func (g *WeaviateRetrievalGateway) queryClass(ctx context.Context, className string, vector []float32, k int) ([]Passage, error) {
	exists, err := g.client.Schema().ClassExistenceChecker().
		WithClassName(className).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check class %s: %w", className, err)
	}
	if !exists {
		return nil, nil
	}

	nearVector := g.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "distance"},
		}},
	}

	result, err := g.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed for %s: %w", className, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results for %s: %w", className, err)
	}

	rows := parsed.Rows(className)
	passages := make([]Passage, 0, len(rows))
	for _, row := range rows {
		passages = append(passages, Passage{
			Content:  row.Content,
			Source:   row.Source,
			Class:    className,
			Distance: row.Additional.Distance,
		})
	}
	return passages, nil
}

// =============================================================================
// Context Assembly Helpers
// =============================================================================

// maxContextPassages caps how many retrieved passages are folded into a
// generation prompt.
const maxContextPassages = 6

// JoinPassages renders up to maxContextPassages passage texts as one context
// block separated by blank lines.
func JoinPassages(passages []Passage) string {
	limit := len(passages)
	if limit > maxContextPassages {
		limit = maxContextPassages
	}
	parts := make([]string, 0, limit)
	for _, p := range passages[:limit] {
		parts = append(parts, p.Content)
	}
	return joinNonEmpty(parts)
}

// PassageSources returns the source labels of the passages in order,
// deduplicated while preserving first occurrence.
func PassageSources(passages []Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	sources := make([]string, 0, len(passages))
	for _, p := range passages {
		if p.Source == "" {
			continue
		}
		if _, dup := seen[p.Source]; dup {
			continue
		}
		seen[p.Source] = struct{}{}
		sources = append(sources, p.Source)
	}
	return sources
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p
	}
	return out
}
