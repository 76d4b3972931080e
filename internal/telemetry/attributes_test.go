// SPDX-License-Identifier: MIT
package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("POST", "/api/transform-card", "/api/transform-card", 200)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "POST")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/transform-card")
	verifyAttribute(t, attrs, HTTPURLKey, "/api/transform-card")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestJobAttributes(t *testing.T) {
	tests := []struct {
		name       string
		jobID      string
		status     string
		durationMS int64
		wantLen    int
	}{
		{
			name:       "all fields",
			jobID:      "a7c9e1f3-0000-4000-8000-000000000001",
			status:     "completed",
			durationMS: 4500,
			wantLen:    3,
		},
		{
			name:       "no duration yet",
			jobID:      "a7c9e1f3-0000-4000-8000-000000000002",
			status:     "queued",
			durationMS: 0,
			wantLen:    2,
		},
		{
			name:    "empty fields",
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := JobAttributes(tt.jobID, tt.status, tt.durationMS)

			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}

			if tt.jobID != "" {
				verifyAttribute(t, attrs, JobIDKey, tt.jobID)
			}
			if tt.status != "" {
				verifyAttribute(t, attrs, JobStatusKey, tt.status)
			}
			if tt.durationMS > 0 {
				verifyInt64Attribute(t, attrs, JobDurationKey, tt.durationMS)
			}
		})
	}
}

func TestArtifactAttributes(t *testing.T) {
	attrs := ArtifactAttributes("card", "cards/10.0.0.7_card_1_20260815_143000_a1b2.png", 48213)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, ArtifactKindKey, "card")
	verifyAttribute(t, attrs, ArtifactKeyKey, "cards/10.0.0.7_card_1_20260815_143000_a1b2.png")
	verifyIntAttribute(t, attrs, ArtifactBytesKey, 48213)
}

func TestCapacityAttributes(t *testing.T) {
	attrs := CapacityAttributes(4, 3)

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyIntAttribute(t, attrs, CapacitySlotsKey, 4)
	verifyIntAttribute(t, attrs, CapacityInFlightKey, 3)
}

func TestVideoAttributes(t *testing.T) {
	arn := "arn:aws:bedrock:us-east-1:123456789012:async-invoke/abc123"
	attrs := VideoAttributes(arn, "in_progress")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, VideoInvocationKey, arn)
	verifyAttribute(t, attrs, VideoStateKey, "in_progress")

	if got := VideoAttributes("", ""); len(got) != 0 {
		t.Errorf("Expected 0 attributes for empty fields, got %d", len(got))
	}
}

func TestErrorAttributes(t *testing.T) {
	err := errors.New("test error")
	attrs := ErrorAttributes(err, "throttle")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "throttle")
}

func TestAttributeKeys_Consistency(t *testing.T) {
	// Verify attribute keys follow OpenTelemetry conventions
	keys := []string{
		HTTPMethodKey,
		HTTPStatusCodeKey,
		HTTPRouteKey,
		JobIDKey,
		ArtifactKindKey,
		SessionIDKey,
		CapacitySlotsKey,
		VideoInvocationKey,
		ErrorKey,
	}

	for _, key := range keys {
		if key == "" {
			t.Errorf("Expected non-empty attribute key")
		}
	}
}

// Helper functions for attribute verification

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
