package fedsparql

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfiguration         ErrorType = "configuration"
	ErrorTypeUnsupportedQueryShape ErrorType = "unsupported_query_shape"
	ErrorTypeSourceUnreachable     ErrorType = "source_unreachable"
	ErrorTypeMalformedSubquery     ErrorType = "malformed_subquery"
	ErrorTypeEmptySourceSet        ErrorType = "empty_source_set"
	ErrorTypeInternal              ErrorType = "internal"
)

// FedError is the error type surfaced by source selection, optimization and
// evaluation.
type FedError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Source  string         `json:"source,omitempty"`
	Query   string         `json:"query,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FedError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Source != "" {
		return fmt.Sprintf("[%s:%s] source %s: %s", e.Type, e.Code, e.Source, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *FedError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to a FedError
func (e *FedError) WithDetail(key string, value any) *FedError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to a FedError
func (e *FedError) WithCause(cause error) *FedError {
	e.Cause = cause
	return e
}

// WithSource records the endpoint an error originated from
func (e *FedError) WithSource(src Source) *FedError {
	e.Source = src.Endpoint
	return e
}

// WithQuery records the sub-query text involved in the error
func (e *FedError) WithQuery(query string) *FedError {
	e.Query = query
	return e
}

// Error codes
const (
	// Query shape errors
	ErrCodeCrossProduct        = "CROSS_PRODUCT"
	ErrCodeMultiVariableJoin   = "MULTI_VARIABLE_JOIN"
	ErrCodeBlankNodeJoin       = "BLANK_NODE_JOIN"
	ErrCodeFilterNotEvaluable  = "FILTER_NOT_EVALUABLE"
	ErrCodeUnoptimizedBGP      = "UNOPTIMIZED_BGP"
	ErrCodeBindJoinUnsupported = "BIND_JOIN_UNSUPPORTED"

	// Remote errors
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeConnectionLost   = "CONNECTION_LOST"
	ErrCodeEndpointError    = "ENDPOINT_ERROR"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeQueryRejected    = "QUERY_REJECTED"
	ErrCodeInvalidResults   = "INVALID_RESULTS"

	// Source selection errors
	ErrCodeNoSources = "NO_SOURCES"

	// Setup errors
	ErrCodeInvalidConfig         = "INVALID_CONFIG"
	ErrCodeStatisticsUnavailable = "STATISTICS_UNAVAILABLE"
	ErrCodeInvalidStatistics     = "INVALID_STATISTICS"

	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewFedError creates a new FedError
func NewFedError(errorType ErrorType, code, message string) *FedError {
	return &FedError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewConfigurationError reports an invalid setup; fatal at startup.
func NewConfigurationError(code, message string) *FedError {
	return NewFedError(ErrorTypeConfiguration, code, message)
}

// NewUnsupportedQueryShapeError reports cross products, multi-variable or
// blank-node joins and other shapes the federator refuses to approximate.
func NewUnsupportedQueryShapeError(code, message string) *FedError {
	return NewFedError(ErrorTypeUnsupportedQueryShape, code, message)
}

// NewSourceUnreachableError reports a connectivity failure to one endpoint.
func NewSourceUnreachableError(src Source, code string, cause error) *FedError {
	return NewFedError(ErrorTypeSourceUnreachable, code, "endpoint unreachable").
		WithSource(src).
		WithCause(cause)
}

// NewMalformedSubqueryError reports a generated sub-query rejected by an
// endpoint. This points at a bug in query generation.
func NewMalformedSubqueryError(src Source, query, message string) *FedError {
	return NewFedError(ErrorTypeMalformedSubquery, ErrCodeQueryRejected, message).
		WithSource(src).
		WithQuery(query)
}

// NewEmptySourceSetError reports a pattern no source can answer.
func NewEmptySourceSetError(pattern TriplePattern) *FedError {
	return NewFedError(ErrorTypeEmptySourceSet, ErrCodeNoSources, "no source can answer "+pattern.String()).
		WithDetail("pattern", pattern.String())
}

// NewInternalError reports a broken internal invariant.
func NewInternalError(code, message string) *FedError {
	return NewFedError(ErrorTypeInternal, code, message)
}

// ErrorTypeOf returns the type of the first FedError in err's chain.
func ErrorTypeOf(err error) (ErrorType, bool) {
	var fe *FedError
	if errors.As(err, &fe) {
		return fe.Type, true
	}
	return "", false
}

func isType(err error, t ErrorType) bool {
	got, ok := ErrorTypeOf(err)
	return ok && got == t
}

func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

func IsUnsupportedQueryShape(err error) bool {
	return isType(err, ErrorTypeUnsupportedQueryShape)
}

func IsSourceUnreachable(err error) bool {
	return isType(err, ErrorTypeSourceUnreachable)
}

func IsMalformedSubquery(err error) bool {
	return isType(err, ErrorTypeMalformedSubquery)
}

func IsEmptySourceSet(err error) bool {
	return isType(err, ErrorTypeEmptySourceSet)
}
