package core

import (
	"errors"
	"fmt"
)

// Kind is the closed error taxonomy of the system. Every failure the engine,
// dispatcher, memory, or client can raise maps to exactly one Kind.
type Kind string

const (
	KindTransport           Kind = "transport"
	KindAuth                Kind = "auth"
	KindInvalidRequest      Kind = "invalid_request"
	KindContextLength       Kind = "context_length"
	KindRateLimitExhausted  Kind = "rate_limit_exhausted"
	KindUnknownTool         Kind = "unknown_tool"
	KindDuplicateTool       Kind = "duplicate_tool"
	KindMalformedArguments  Kind = "malformed_arguments"
	KindInvalidArguments    Kind = "invalid_arguments"
	KindToolExecution       Kind = "tool_execution"
	KindToolTimeout         Kind = "tool_timeout"
	KindRequiredToolMissing Kind = "required_tool_missing"
	KindStuckLoop           Kind = "stuck_loop"
	KindCancelled           Kind = "cancelled"
)

// retryableKinds are the LLM-client-level failures considered transient by
// the retry policy; everything else is treated as final on first
// observation. Tool-level kinds are never retried: the dispatcher reports
// each one once, as an error ToolResult.
var retryableKinds = map[Kind]bool{
	KindTransport:          true,
	KindRateLimitExhausted: true,
}

// IsRetryable reports whether an error of this kind may succeed on retry.
func (k Kind) IsRetryable() bool {
	return retryableKinds[k]
}

// CoreError is the single structured error type used throughout the engine,
// dispatcher, memory, and client. Collapsing what would otherwise be three
// separate types (tool error, provider error, loop error) into one keeps
// the Session Facade's translation step to a single errors.As call.
type CoreError struct {
	Kind Kind

	// Component names the subsystem that raised the error, e.g. "llmclient",
	// "toolset", "convo", "stepengine".
	Component string

	// ToolName and InvocationID are set for tool-scoped errors.
	ToolName     string
	InvocationID string

	// Message is a human-readable description; falls back to Cause.Error().
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Raw carries diagnostic text for malformed-argument errors: the raw
	// JSON text that failed to decode.
	Raw string

	// Attempts is the number of attempts made before this error was final.
	Attempts int
}

func (e *CoreError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.ToolName != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Kind, e.ToolName, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Kind, msg)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// NewError constructs a CoreError for the given component and kind.
func NewError(component string, kind Kind, cause error) *CoreError {
	e := &CoreError{
		Component: component,
		Kind:      kind,
		Cause:     cause,
		Attempts:  1,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithMessage overrides the human-readable message.
func (e *CoreError) WithMessage(msg string) *CoreError {
	e.Message = msg
	return e
}

// WithTool attaches tool context to the error.
func (e *CoreError) WithTool(name, invocationID string) *CoreError {
	e.ToolName = name
	e.InvocationID = invocationID
	return e
}

// WithRaw attaches raw diagnostic text (e.g. unparsable argument JSON).
func (e *CoreError) WithRaw(raw string) *CoreError {
	e.Raw = raw
	return e
}

// WithAttempts records how many attempts preceded this terminal error.
func (e *CoreError) WithAttempts(n int) *CoreError {
	e.Attempts = n
	return e
}

// AsCoreError extracts a *CoreError from an error chain.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err is (or wraps) a CoreError of the given kind.
func IsKind(err error, kind Kind) bool {
	ce, ok := AsCoreError(err)
	return ok && ce.Kind == kind
}
