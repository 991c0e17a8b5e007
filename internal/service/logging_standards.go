package service

// Logging Standards for jerosync
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the sync layer.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldPeer      = "peer"
	LogFieldPrincipal = "principal"
	LogFieldAuthor    = "author"
	LogFieldStatusID  = "status_id"
	LogFieldTempID    = "temp_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// State and events
	LogFieldEvent      = "event"
	LogFieldState      = "state"
	LogFieldVisible    = "visible"
	LogFieldOnline     = "online"
	LogFieldGeneration = "generation"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"
	LogFieldInterval = "interval"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldMethod     = "method"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Request tracing
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
	LogFieldFailures  = "consecutive_failures"
)

// Log Level Usage Guidelines
//
// DEBUG: Per-tick detail. Heartbeat emissions, poll results, audio playback rejections.
//
// INFO: Lifecycle. Session start/stop, components started/stopped, connection restored.
//
// WARN: The sync layer degrades but continues. A failed presence refresh, a skipped
// status author, a lost gateway connection, a failed send.
//
// ERROR: An operation the user asked for failed and nothing will fix it by itself.
//
// FATAL: Only in main, for configuration or storage required at startup.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldPeer:   privacy.MaskPrincipal(peerID),
//     LogFieldTempID: tempID,
// }).Warn("Failed to send message")
