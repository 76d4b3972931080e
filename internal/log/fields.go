// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldSessionID = "session_id"
	FieldClientIP  = "client_ip"
	FieldDeviceID  = "device_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAction    = "action"
	FieldOutcome   = "outcome"

	// Artifact fields
	FieldArtifactKey   = "s3_key"
	FieldArtifactKind  = "kind"
	FieldInvocationARN = "invocation_arn"

	// Queue fields
	FieldQueueBackend = "queue_backend"
	FieldReceiveCount = "receive_count"

	// Capacity fields
	FieldSlots    = "available_slots"
	FieldInFlight = "in_flight"
)
