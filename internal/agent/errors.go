package agent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Common sentinel errors for pipeline operations
var (
	// ErrValidation indicates malformed or missing turn input
	ErrValidation = errors.New("validation failed")

	// ErrAuth indicates a missing or rejected provider credential
	ErrAuth = errors.New("provider authentication failed")

	// ErrInvalidRequest indicates the provider rejected the request shape or model
	ErrInvalidRequest = errors.New("invalid provider request")

	// ErrProviderTransient indicates a rate limit or provider outage
	ErrProviderTransient = errors.New("provider temporarily unavailable")

	// ErrUnsupportedProvider indicates a provider without a registered adapter
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrMaxIterations indicates the tool loop reached its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")
)

// ErrorClass categorizes provider failures for the failover policy.
type ErrorClass string

const (
	ClassAuth           ErrorClass = "auth"
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassProviderDown   ErrorClass = "provider_down"
	ClassInvalidRequest ErrorClass = "invalid_request"
	ClassUnknown        ErrorClass = "unknown"
)

// Transient reports whether a retry against another provider may succeed.
func (c ErrorClass) Transient() bool {
	return c == ClassRateLimit || c == ClassProviderDown
}

// Sentinel returns the sentinel error matching the class, or nil.
func (c ErrorClass) Sentinel() error {
	switch c {
	case ClassAuth:
		return ErrAuth
	case ClassInvalidRequest:
		return ErrInvalidRequest
	case ClassRateLimit, ClassProviderDown:
		return ErrProviderTransient
	default:
		return nil
	}
}

// classifier is implemented by errors that know their own class, such as
// providers.ProviderError.
type classifier interface {
	ErrorClass() ErrorClass
}

// detailer is implemented by errors whose Error text carries metadata, such
// as model names, that must not be mistaken for the failure itself.
type detailer interface {
	ErrorDetail() string
}

// ClassifyError determines the error class of a model failure.
//
// Errors in the chain that report their own class win. Everything else is
// classified by message content, checking credentials first, then rate
// limits, then outages, then rejected requests.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var c classifier
	if errors.As(err, &c) {
		if class := c.ErrorClass(); class != ClassUnknown {
			return class
		}
	}
	switch {
	case errors.Is(err, ErrValidation):
		return ClassUnknown
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnsupportedProvider):
		return ClassInvalidRequest
	}

	var d detailer
	if errors.As(err, &d) {
		return ClassifyMessage(d.ErrorDetail())
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw provider error message.
func ClassifyMessage(msg string) ErrorClass {
	msg = strings.ToLower(msg)

	if containsAny(msg, "api key", "api_key", "unauthorized", "unauthenticated", "permission denied") || HasStatusCode(msg, 401, 403) {
		return ClassAuth
	}

	if containsAny(msg, "quota", "rate limit", "rate_limit", "ratelimit", "resource exhausted", "resource_exhausted", "too many requests") || HasStatusCode(msg, 429) {
		return ClassRateLimit
	}

	if containsAny(msg, "unavailable", "overloaded", "internal server error", "bad gateway") || HasStatusCode(msg, 500, 502, 503, 504) {
		return ClassProviderDown
	}

	if containsAny(msg, "invalid input", "not allowed", "invalid argument", "invalid_argument", "invalid_request") || HasStatusCode(msg, 400) {
		return ClassInvalidRequest
	}

	return ClassUnknown
}

// HasStatusCode reports whether msg mentions one of codes as a standalone
// number, so "status 403" matches but "20240307" does not.
func HasStatusCode(msg string, codes ...int) bool {
	for i := 0; i < len(msg); {
		if !isDigit(msg[i]) {
			i++
			continue
		}
		j := i
		for j < len(msg) && isDigit(msg[j]) {
			j++
		}
		if n, err := strconv.Atoi(msg[i:j]); err == nil && j-i == 3 {
			for _, code := range codes {
				if n == code {
					return true
				}
			}
		}
		i = j
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ValidationError reports malformed turn input. It is raised before any
// memory or model call.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ToolError describes a tool failure. It is contained inside a ToolResult
// confirmation and never fails the turn.
type ToolError struct {
	// ToolName is the name of the tool that failed
	ToolName string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[tool] %s failed", e.ToolName)
	}
	return fmt.Sprintf("[tool] %s: %v", e.ToolName, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// MemoryError describes a memory backend failure. It is logged, never
// surfaced to the caller.
type MemoryError struct {
	Op        string
	SessionID string
	Cause     error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory %s failed for session %s: %v", e.Op, e.SessionID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// LoopError represents an error that occurred during pipeline execution
// with context about which phase and iteration the error occurred in.
type LoopError struct {
	// Phase is the pipeline phase where the error occurred
	Phase LoopPhase

	// Iteration is the model invocation count when the error occurred
	Iteration int

	// Class is the failover class of the cause
	Class ErrorClass

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// Is maps the error class onto the pipeline sentinels.
func (e *LoopError) Is(target error) bool {
	sentinel := e.Class.Sentinel()
	return sentinel != nil && target == sentinel
}

// ErrorClass implements the classifier interface.
func (e *LoopError) ErrorClass() ErrorClass {
	return e.Class
}

// LoopPhase represents a distinct stage of the pipeline state machine.
type LoopPhase string

const (
	PhaseValidate    LoopPhase = "validate"
	PhaseLoadMemory  LoopPhase = "load_memory"
	PhaseInvokeModel LoopPhase = "invoke_model"
	PhaseExecuteTool LoopPhase = "execute_tool"
	PhaseSaveMemory  LoopPhase = "save_memory"
	PhaseComplete    LoopPhase = "complete"
)

func newModelError(iteration int, err error) *LoopError {
	var loopErr *LoopError
	if errors.As(err, &loopErr) {
		return loopErr
	}
	return &LoopError{
		Phase:     PhaseInvokeModel,
		Iteration: iteration,
		Class:     ClassifyError(err),
		Cause:     err,
	}
}
