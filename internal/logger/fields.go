package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldComponent = "component"
	FieldJobID     = "job_id"

	// FieldImageID is the UUID assigned to an image on rename.
	FieldImageID = "image_id"

	// FieldFileName is the object key the webhook reported.
	FieldFileName = "file_name"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"

	FieldModel       = "model"
	FieldAttempt     = "attempt"
	FieldConfidence  = "confidence"
	FieldTotalTokens = "total_tokens"
)
