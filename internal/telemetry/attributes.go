// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Job attributes
	JobIDKey       = "job.id"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	// Artifact attributes
	ArtifactKindKey  = "artifact.kind"
	ArtifactKeyKey   = "artifact.key"
	ArtifactBytesKey = "artifact.bytes"

	// Session attributes
	SessionIDKey = "session.id"

	// Capacity attributes
	CapacitySlotsKey    = "capacity.slots"
	CapacityInFlightKey = "capacity.in_flight"

	// Video attributes
	VideoInvocationKey = "video.invocation_arn"
	VideoStateKey      = "video.state"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(jobID, status string, durationMS int64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(JobStatusKey, status))
	}
	if durationMS > 0 {
		attrs = append(attrs, attribute.Int64(JobDurationKey, durationMS))
	}
	return attrs
}

// ArtifactAttributes creates artifact-related span attributes.
func ArtifactAttributes(kind, key string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ArtifactKindKey, kind),
		attribute.String(ArtifactKeyKey, key),
		attribute.Int(ArtifactBytesKey, size),
	}
}

// CapacityAttributes creates capacity-related span attributes.
func CapacityAttributes(slots, inFlight int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(CapacitySlotsKey, slots),
		attribute.Int(CapacityInFlightKey, inFlight),
	}
}

// VideoAttributes creates video-generation span attributes.
func VideoAttributes(invocationARN, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if invocationARN != "" {
		attrs = append(attrs, attribute.String(VideoInvocationKey, invocationARN))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(VideoStateKey, state))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
