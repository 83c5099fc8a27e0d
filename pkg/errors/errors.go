// Package errors provides a structured error system for CampaignMaster with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for CampaignMaster operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Snapshot storage errors
	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"
	ErrCodeSnapshotRead     ErrorCode = "SNAPSHOT_READ"
	ErrCodeSnapshotWrite    ErrorCode = "SNAPSHOT_WRITE"
	ErrCodeSnapshotDelete   ErrorCode = "SNAPSHOT_DELETE"
	ErrCodeSnapshotEncode   ErrorCode = "SNAPSHOT_ENCODE"
	ErrCodeSnapshotDecode   ErrorCode = "SNAPSHOT_DECODE"
	ErrCodeInvalidKey       ErrorCode = "INVALID_KEY"

	// Upstream HTTP errors
	ErrCodeRequestTimeout  ErrorCode = "REQUEST_TIMEOUT"
	ErrCodeAuthRequired    ErrorCode = "AUTHENTICATION_REQUIRED"
	ErrCodeUpstreamStatus  ErrorCode = "UPSTREAM_STATUS"
	ErrCodeInvalidResponse ErrorCode = "RESPONSE_INVALID"
	ErrCodeNetworkError    ErrorCode = "NETWORK_ERROR"
	ErrCodeRequestBuild    ErrorCode = "REQUEST_BUILD"

	// State errors
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrCodeTooManyRequests    ErrorCode = "CIRCUIT_TOO_MANY_REQUESTS"
	ErrCodeComponentStopped   ErrorCode = "COMPONENT_STOPPED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryUpstream      ErrorCategory = "upstream"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CampaignMasterError represents a structured error with context and metadata.
type CampaignMasterError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *CampaignMasterError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CampaignMasterError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *CampaignMasterError) Is(target error) bool {
	if other, ok := target.(*CampaignMasterError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CampaignMasterError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.HTTPStatus != 0 {
		parts = append(parts, fmt.Sprintf("HTTPStatus=%d", e.HTTPStatus))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CampaignMasterError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CampaignMasterError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *CampaignMasterError {
	return &CampaignMasterError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Wrap creates a new error with the given cause attached.
func Wrap(cause error, code ErrorCode, message string) *CampaignMasterError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "SNAPSHOT_") || strings.HasPrefix(codeStr, "INVALID_KEY"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "REQUEST_") || strings.HasPrefix(codeStr, "AUTHENTICATION_") ||
		strings.HasPrefix(codeStr, "UPSTREAM_") || strings.HasPrefix(codeStr, "RESPONSE_") ||
		strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryUpstream
	case strings.HasPrefix(codeStr, "CIRCUIT_") || strings.HasPrefix(codeStr, "COMPONENT_") ||
		strings.HasPrefix(codeStr, "SERVICE_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_") ||
		strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeRequestTimeout, ErrCodeNetworkError, ErrCodeOperationTimeout,
		ErrCodeSnapshotRead, ErrCodeSnapshotWrite, ErrCodeSnapshotDelete,
		ErrCodeServiceUnavailable:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeValidationFailed, ErrCodeInvalidKey:
		return http.StatusBadRequest
	case ErrCodeAuthRequired:
		return http.StatusUnauthorized
	case ErrCodeSnapshotNotFound:
		return http.StatusNotFound
	case ErrCodeRequestTimeout:
		return http.StatusRequestTimeout
	case ErrCodeCircuitOpen, ErrCodeTooManyRequests, ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeOperationTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WithContext adds contextual information to an error
func (e *CampaignMasterError) WithContext(key, value string) *CampaignMasterError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *CampaignMasterError) WithDetail(key string, value interface{}) *CampaignMasterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CampaignMasterError) WithComponent(component string) *CampaignMasterError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CampaignMasterError) WithOperation(operation string) *CampaignMasterError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CampaignMasterError) WithCause(cause error) *CampaignMasterError {
	e.Cause = cause
	return e
}

// WithRequestID sets the request identifier
func (e *CampaignMasterError) WithRequestID(id string) *CampaignMasterError {
	e.RequestID = id
	return e
}

// WithHTTPStatus overrides the HTTP status derived from the code.
func (e *CampaignMasterError) WithHTTPStatus(status int) *CampaignMasterError {
	e.HTTPStatus = status
	return e
}

// WithRetryable overrides the retry hint derived from the code.
func (e *CampaignMasterError) WithRetryable(retryable bool) *CampaignMasterError {
	e.Retryable = retryable
	return e
}

// As returns the first CampaignMasterError in err's chain.
func As(err error) (*CampaignMasterError, bool) {
	var cmErr *CampaignMasterError
	if stderrors.As(err, &cmErr) {
		return cmErr, true
	}
	return nil, false
}

// HasCode reports whether err's chain contains an error with the given code.
func HasCode(err error, code ErrorCode) bool {
	cmErr, ok := As(err)
	if !ok {
		return false
	}
	if cmErr.Code == code {
		return true
	}
	return HasCode(cmErr.Cause, code)
}

// HTTPStatus returns the HTTP status carried by err, or 500 for foreign errors.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if cmErr, ok := As(err); ok && cmErr.HTTPStatus != 0 {
		return cmErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
