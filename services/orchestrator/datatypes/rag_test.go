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
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

func TestPassagePropertiesToMap(t *testing.T) {
	props := PassageProperties{
		Content:   "Patient reported intermittent dizziness.",
		Source:    "discharge_summary.pdf",
		PatientId: "p-001",
		Timestamp: 1700000000000,
	}

	m := props.ToMap()

	if m["content"] != props.Content {
		t.Errorf("content = %v", m["content"])
	}
	if m["source"] != props.Source {
		t.Errorf("source = %v", m["source"])
	}
	if m["patient_id"] != props.PatientId {
		t.Errorf("patient_id = %v", m["patient_id"])
	}
	if m["timestamp"] != props.Timestamp {
		t.Errorf("timestamp = %v", m["timestamp"])
	}
}

func TestParseGraphQLResponse_Passages(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Patient_p_001": []interface{}{
					map[string]interface{}{
						"content":    "No seizures since discharge.",
						"source":     "followup_note.txt",
						"patient_id": "p-001",
						"timestamp":  float64(1700000000000),
						"_additional": map[string]interface{}{
							"id":       "aaaa-bbbb",
							"distance": 0.12,
						},
					},
					map[string]interface{}{
						"content":    "Prescribed levetiracetam 500mg twice daily.",
						"source":     "discharge_summary.pdf",
						"patient_id": "p-001",
						"timestamp":  float64(1700000000001),
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
	if err != nil {
		t.Fatalf("ParseGraphQLResponse failed: %v", err)
	}

	rows := parsed.Rows("Patient_p_001")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Content != "No seizures since discharge." {
		t.Errorf("rows[0].Content = %q", rows[0].Content)
	}
	if rows[0].Additional.Distance == nil || *rows[0].Additional.Distance != 0.12 {
		t.Errorf("rows[0].Additional.Distance = %v", rows[0].Additional.Distance)
	}
	if rows[1].Additional.Distance != nil {
		t.Error("rows[1] has no distance and should parse as nil")
	}
}

func TestPassageQueryResponse_RowsMissingClass(t *testing.T) {
	parsed := &PassageQueryResponse{}
	if rows := parsed.Rows("Patient_missing"); rows != nil {
		t.Errorf("expected nil rows for unknown class, got %v", rows)
	}
}

func TestParseGraphQLResponse_AggregateCount(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Aggregate": map[string]interface{}{
				"Patient_p_001": []interface{}{
					map[string]interface{}{
						"meta": map[string]interface{}{
							"count": float64(7),
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[AggregateMetaResponse](resp)
	if err != nil {
		t.Fatalf("ParseGraphQLResponse failed: %v", err)
	}

	if got := parsed.Count("Patient_p_001"); got != 7 {
		t.Errorf("Count = %d, want 7", got)
	}
	if got := parsed.Count("Patient_missing"); got != 0 {
		t.Errorf("Count for unknown class = %d, want 0", got)
	}
}

func TestParseGraphQLResponse_NilResponse(t *testing.T) {
	if _, err := ParseGraphQLResponse[PassageQueryResponse](nil); err == nil {
		t.Error("expected error for nil response")
	}
}
