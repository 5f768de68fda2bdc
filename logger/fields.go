package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across gdscraper.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID          = "job_id"
	FieldCorrelationKey = "key"
	FieldRequestID      = "request_id"

	// Components
	FieldComponent = "component"
	FieldHandler   = "handler"
	FieldWorkerID  = "worker_id"

	// Scrape pipeline
	FieldState   = "state"
	FieldFrom    = "from"
	FieldRegion  = "region"
	FieldStep    = "step"
	FieldReason  = "reason"
	FieldOutcome = "outcome"
	FieldResumes = "resumes"

	// Messaging
	FieldTopic     = "topic"
	FieldGroup     = "group"
	FieldMessageID = "message_id"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Status
	FieldStatus = "status"

	// Files, storage and network
	FieldPath    = "path"
	FieldURL     = "url"
	FieldBucket  = "bucket"
	FieldAddress = "address"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey          contextKey = "logger_job_id"
	correlationKeyKey contextKey = "logger_correlation_key"
	requestIDKey      contextKey = "logger_request_id"
	componentKey      contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithCorrelationKey adds the outbound message key of a job to the context for logging
func WithCorrelationKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, correlationKeyKey, key)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if key, ok := ctx.Value(correlationKeyKey).(string); ok && key != "" {
		fields = append(fields, FieldCorrelationKey, key)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global logger.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	runner := scrape.NewRunner(machine, publisher, cfg, logger.ComponentLogger("scrape.runner"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
