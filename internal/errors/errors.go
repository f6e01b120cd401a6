package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType is the broad category of a failure
type ErrorType int

const (
	ErrorTypeConfig     ErrorType = iota // missing or invalid configuration
	ErrorTypeValidation                  // malformed input records
	ErrorTypeGraph                       // evidence graph construction
	ErrorTypeScoring                     // one unit could not be categorized
	ErrorTypeSink                        // materialization writes
	ErrorTypeNetwork                     // provider or backend connectivity
	ErrorTypeFileSystem
	ErrorTypeInternal
)

var typeNames = [...]string{"CONFIG", "VALIDATION", "GRAPH", "SCORING", "SINK", "NETWORK", "FILESYSTEM", "INTERNAL"}

func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// Severity decides what a failure does to the run
type Severity int

const (
	SeverityLow      Severity = iota // degraded, carry on
	SeverityMedium                   // recorded on the affected unit
	SeverityHigh                     // the run may end incomplete
	SeverityCritical                 // stops the run
)

var severityNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

// Code identifies a specific failure within a type
type Code string

const (
	CodeDuplicateNode Code = "DuplicateNodeError"
	CodeDanglingEdge  Code = "DanglingEdgeError"
	CodeScoring       Code = "ScoringError"
	CodeSinkWrite     Code = "SinkWriteError"
)

// Error is a classified failure with optional cause and context
type Error struct {
	Type     ErrorType
	Severity Severity
	Code     Code
	Message  string
	Cause    error
	Context  map[string]any
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Code != "" {
		sb.WriteString(string(e.Code))
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns e
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is matches on type, and on code when the target carries one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// Retryable reports whether repeating the operation may succeed
func (e *Error) Retryable() bool {
	return e.Code == CodeSinkWrite || e.Type == ErrorTypeNetwork
}

// Fields flattens the error for structured logging
func (e *Error) Fields() map[string]any {
	fields := make(map[string]any, len(e.Context)+3)
	for k, v := range e.Context {
		fields[k] = v
	}
	fields["error_type"] = e.Type.String()
	fields["severity"] = e.Severity.String()
	if e.Code != "" {
		fields["error_code"] = string(e.Code)
	}
	return fields
}

// DetailedString renders the error over several lines for terminal output
func (e *Error) DetailedString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s\n", e.Severity, e.Type, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, "Caused by: %v\n", e.Cause)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, e.Context[k])
		}
	}
	return sb.String()
}

// New creates an error without a cause
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{Type: errType, Severity: severity, Message: message}
}

// Wrap classifies err; a nil err stays nil
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Severity: severity, Message: message, Cause: err}
}

func coded(code Code, errType ErrorType, severity Severity, message string) *Error {
	e := New(errType, severity, message)
	e.Code = code
	return e
}

func ConfigErrorf(format string, args ...any) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

func ValidationErrorf(format string, args ...any) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// DuplicateNode reports a node ID inserted twice into one graph
func DuplicateNode(id string) *Error {
	return coded(CodeDuplicateNode, ErrorTypeGraph, SeverityCritical,
		fmt.Sprintf("node %q already exists", id)).WithContext("node_id", id)
}

// DanglingEdge reports an edge whose endpoint is not in the graph
func DanglingEdge(edgeID, missing string) *Error {
	return coded(CodeDanglingEdge, ErrorTypeGraph, SeverityCritical,
		fmt.Sprintf("edge %q references missing node %q", edgeID, missing)).
		WithContext("edge_id", edgeID).
		WithContext("node_id", missing)
}

// ScoringErrorf reports a unit that could not be categorized
func ScoringErrorf(unitID string, format string, args ...any) *Error {
	return coded(CodeScoring, ErrorTypeScoring, SeverityMedium,
		fmt.Sprintf(format, args...)).WithContext("work_unit_id", unitID)
}

// SinkWriteError wraps a failed write of one unit's rows
func SinkWriteError(err error, unitID string) *Error {
	if err == nil {
		return nil
	}
	e := coded(CodeSinkWrite, ErrorTypeSink, SeverityHigh, "write work unit "+unitID)
	e.Cause = err
	return e.WithContext("work_unit_id", unitID)
}

// SinkWritesFailed reports a run that finished with units missing from the sink
func SinkWritesFailed(runID string, failed int) *Error {
	return coded(CodeSinkWrite, ErrorTypeSink, SeverityHigh,
		fmt.Sprintf("%d work units failed to write", failed)).
		WithContext("run_id", runID).
		WithContext("write_failed", failed)
}

func NetworkErrorf(err error, format string, args ...any) *Error {
	return Wrap(err, ErrorTypeNetwork, SeverityHigh, fmt.Sprintf(format, args...))
}

func FileSystemErrorf(err error, format string, args ...any) *Error {
	return Wrap(err, ErrorTypeFileSystem, SeverityHigh, fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...any) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

func as(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

func hasCode(err error, code Code) bool {
	e, ok := as(err)
	return ok && e.Code == code
}

func IsDuplicateNode(err error) bool { return hasCode(err, CodeDuplicateNode) }
func IsDanglingEdge(err error) bool  { return hasCode(err, CodeDanglingEdge) }
func IsScoring(err error) bool       { return hasCode(err, CodeScoring) }
func IsSinkWrite(err error) bool     { return hasCode(err, CodeSinkWrite) }

// IsRetryable reports whether repeating the failed operation may succeed.
// Unclassified errors, such as raw driver errors, are assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	e, ok := as(err)
	return !ok || e.Retryable()
}

// IsFatal reports whether err should stop the run
func IsFatal(err error) bool {
	e, ok := as(err)
	return ok && e.IsFatal()
}

// GetSeverity treats unclassified errors as medium
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}
	if e, ok := as(err); ok {
		return e.Severity
	}
	return SeverityMedium
}

// GetType treats unclassified errors as internal
func GetType(err error) ErrorType {
	if e, ok := as(err); ok {
		return e.Type
	}
	return ErrorTypeInternal
}
