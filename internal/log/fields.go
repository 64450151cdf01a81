// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldTenantID       = "tenant_id"
	FieldQueueID        = "queue_id"
	FieldSessionID      = "session_id"
	FieldUserIdentifier = "user_identifier"
	FieldRequestID      = "request_id"
	FieldCorrelationID  = "correlation_id"
	FieldSubscriptionID = "subscription_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Admission fields
	FieldPriority = "priority"
	FieldPosition = "position"
	FieldReleased = "released"
	FieldWaiting  = "waiting"
	FieldServing  = "serving"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Delivery fields
	FieldURL        = "url"
	FieldAttempt    = "attempt"
	FieldStatusCode = "status_code"
	FieldDurationMS = "duration_ms"
)
