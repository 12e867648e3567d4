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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("SharedClinical").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, p := range parsed.Get["SharedClinical"] {
//	    fmt.Println(p.Source)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// PassageResult represents a single retrieved passage from a nearVector
// query against a passage class.
type PassageResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	PatientID  string `json:"patient_id"`
	Timestamp  int64  `json:"timestamp"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// PassageQueryResponse represents a Get response keyed by class name.
//
// Patient classes are named dynamically, so the response is a map from class
// name to result rows rather than a fixed struct field per class.
type PassageQueryResponse struct {
	Get map[string][]PassageResult `json:"Get"`
}

// Rows returns the result rows for the given class, nil when the class is
// absent from the response.
func (r *PassageQueryResponse) Rows(className string) []PassageResult {
	if r == nil || r.Get == nil {
		return nil
	}
	return r.Get[className]
}

// AggregateMetaResponse represents an Aggregate meta{count} response keyed
// by class name.
type AggregateMetaResponse struct {
	Aggregate map[string][]struct {
		Meta struct {
			Count float64 `json:"count"`
		} `json:"meta"`
	} `json:"Aggregate"`
}

// Count returns the object count for the given class, zero when the class is
// absent from the response.
func (r *AggregateMetaResponse) Count(className string) int64 {
	if r == nil || r.Aggregate == nil {
		return 0
	}
	rows := r.Aggregate[className]
	if len(rows) == 0 {
		return 0
	}
	return int64(rows[0].Meta.Count)
}
