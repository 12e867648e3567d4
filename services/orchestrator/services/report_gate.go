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
)

// reportGateTracer is the OpenTelemetry tracer for report gate checks.
var reportGateTracer = otel.Tracer("neurowatch.orchestrator.services.report_gate")

// Compile-time interface implementation check.
var _ ReportGate = (*WeaviateReportGate)(nil)

// ReportGate decides whether a patient has an indexed medical report.
//
// # Description
//
// Every monitoring and chat operation runs through this gate before any
// retrieval or generation happens. A patient with no indexed report passages
// is blocked with the canonical NO_MEDICAL_REPORT payload; there is no
// degraded or partial mode.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ReportGate interface {
	// CanProceed reports whether the patient's private index holds at least
	// one passage.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation, timeouts, and tracing.
	//   - patientID: The patient to check.
	//
	// # Outputs
	//
	//   - bool: True when at least one report passage is indexed.
	//   - error: Non-nil only for index query failures. A missing class is
	//     not an error; it reads as "no report".
	CanProceed(ctx context.Context, patientID string) (bool, error)
}

// WeaviateReportGate implements ReportGate against the patient's private
// Weaviate class.
type WeaviateReportGate struct {
	client      *weaviate.Client
	classPrefix string
}

// NewReportGate creates a report gate backed by the given Weaviate client.
//
// classPrefix names the per-patient class family; empty means the default
// prefix. The resulting class for a patient is PatientClassName(prefix, id).
func NewReportGate(client *weaviate.Client, classPrefix string) *WeaviateReportGate {
	if classPrefix == "" {
		classPrefix = datatypes.DefaultPatientClassPrefix
	}
	return &WeaviateReportGate{
		client:      client,
		classPrefix: classPrefix,
	}
}

// CanProceed checks the patient's private class for indexed report passages.
//
// # Description
//
// Two-step check: the class must exist in the schema, and its meta count must
// be greater than zero. An existing but empty class still blocks, so a
// half-finished upload can never open the gate.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - patientID: The patient to check. Sanitized into the class name.
//
// # Outputs
//
//   - bool: True when monitoring may proceed.
//   - error: Non-nil if the existence check or aggregate query fails.
func (g *WeaviateReportGate) CanProceed(ctx context.Context, patientID string) (bool, error) {
	ctx, span := reportGateTracer.Start(ctx, "report_gate.can_proceed")
	defer span.End()

	className := datatypes.PatientClassName(g.classPrefix, patientID)
	span.SetAttributes(
		attribute.String("patient.id", patientID),
		attribute.String("weaviate.class", className),
	)

	exists, err := g.client.Schema().ClassExistenceChecker().
		WithClassName(className).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "class existence check failed")
		return false, fmt.Errorf("failed to check class %s: %w", className, err)
	}
	if !exists {
		slog.Debug("Report gate closed: patient class absent",
			"patient_id", patientID,
			"class", className,
		)
		span.SetAttributes(attribute.Bool("gate.open", false))
		return false, nil
	}

	result, err := g.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{
			Name: "meta",
			Fields: []graphql.Field{
				{Name: "count"},
			},
		}).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate query failed")
		return false, fmt.Errorf("failed to count passages in %s: %w", className, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.AggregateMetaResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate parse failed")
		return false, fmt.Errorf("failed to parse aggregate response for %s: %w", className, err)
	}

	count := parsed.Count(className)
	open := count > 0
	span.SetAttributes(
		attribute.Int64("weaviate.passage_count", count),
		attribute.Bool("gate.open", open),
	)

	if !open {
		slog.Debug("Report gate closed: patient class empty",
			"patient_id", patientID,
			"class", className,
		)
	}
	return open, nil
}
