package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for user-visible connectivity errors. Codes are stable strings
// of the form "<context>:<condition>" so multi-hop responses can be matched
// programmatically regardless of message wording.
const (
	CodeConnectionFailed        = "connectivity:connection.failed"
	CodeConnectionNotAccessible = "connectivity:connection.not.accessible"
	CodeConnectionConflict      = "connectivity:connection.conflict"
	CodeConnectionUnavailable   = "connectivity:connection.unavailable"
	CodeConfigurationInvalid    = "connectivity:connection.configuration.invalid"
	CodeHostBlocked             = "connectivity:connection.host.blocked"
	CodeMessageMappingFailed    = "connectivity:message.mapping.failed"
	CodeEnforcementFailed       = "connectivity:connection.id.enforcement.failed"
	CodeAckRequestTimeout       = "acks:request.timeout"
)

// CodedError is a user-visible error carrying a stable error code, an
// HTTP-like status classification, a human-readable message and description,
// and an optional correlation id so multi-hop responses can be matched back
// to the original request.
type CodedError struct {
	Code          string     `json:"error"`
	Status        int        `json:"status"`
	Message       string     `json:"message"`
	Description   string     `json:"description,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	Class         ErrorClass `json:"-"`
	Cause         error      `json:"-"`
}

// Error implements the error interface
func (e *CodedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// WithCorrelationID returns a copy of the error tagged with the given
// correlation id.
func (e *CodedError) WithCorrelationID(correlationID string) *CodedError {
	clone := *e
	clone.CorrelationID = correlationID
	return &clone
}

// AsCoded extracts a CodedError from err's chain, or wraps err into a
// generic connection-failed error when it carries no code.
func AsCoded(err error) *CodedError {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded
	}
	return &CodedError{
		Code:    CodeConnectionFailed,
		Status:  http.StatusGatewayTimeout,
		Message: "The connection failed.",
		Description: fmt.Sprintf(
			"The requested operation could not be completed: %v", err),
		Class: Classify(err),
		Cause: err,
	}
}

// NewConnectionFailed reports a failed open/close/test operation against the
// broker. Transient: the desired status stays untouched so the operation can
// be retried.
func NewConnectionFailed(connectionID, description string) *CodedError {
	return &CodedError{
		Code:        CodeConnectionFailed,
		Status:      http.StatusGatewayTimeout,
		Message:     fmt.Sprintf("The connection '%s' failed.", connectionID),
		Description: description,
		Class:       ErrorTransient,
		Cause:       ErrConnectionLost,
	}
}

// NewConnectionNotAccessible reports an unknown or deleted connection id.
func NewConnectionNotAccessible(connectionID string) *CodedError {
	return &CodedError{
		Code:        CodeConnectionNotAccessible,
		Status:      http.StatusNotFound,
		Message:     fmt.Sprintf("The connection '%s' was not found or is deleted.", connectionID),
		Description: "Check if the id of your requested connection was correct.",
		Class:       ErrorInvalid,
		Cause:       ErrConnectionNotFound,
	}
}

// NewConnectionUnavailable reports a connection whose supervising instance
// is restarting. Transient: the command can be retried once the fresh
// instance picked up the persisted state.
func NewConnectionUnavailable(connectionID string) *CodedError {
	return &CodedError{
		Code:        CodeConnectionUnavailable,
		Status:      http.StatusServiceUnavailable,
		Message:     fmt.Sprintf("The connection '%s' is temporarily unavailable.", connectionID),
		Description: "The supervising instance is restarting; retry the command.",
		Class:       ErrorTransient,
	}
}

// NewConnectionConflict reports a create for an id that already exists.
func NewConnectionConflict(connectionID string) *CodedError {
	return &CodedError{
		Code:        CodeConnectionConflict,
		Status:      http.StatusConflict,
		Message:     fmt.Sprintf("The connection '%s' already exists.", connectionID),
		Description: "Choose another connection id or modify the existing connection.",
		Class:       ErrorInvalid,
	}
}

// NewConfigurationInvalid reports a malformed connection configuration.
// Fatal: never retried automatically.
func NewConfigurationInvalid(description string) *CodedError {
	return &CodedError{
		Code:        CodeConfigurationInvalid,
		Status:      http.StatusBadRequest,
		Message:     "The connection configuration is invalid.",
		Description: description,
		Class:       ErrorFatal,
		Cause:       ErrInvalidConfig,
	}
}

// NewHostBlocked reports a connection URI pointing at a blocked hostname.
func NewHostBlocked(host string) *CodedError {
	return &CodedError{
		Code:        CodeHostBlocked,
		Status:      http.StatusUnprocessableEntity,
		Message:     fmt.Sprintf("The host '%s' may not be used for a connection.", host),
		Description: "It is a blocked or otherwise forbidden hostname.",
		Class:       ErrorFatal,
		Cause:       ErrBlockedHost,
	}
}

// NewMessageMappingFailed reports a mapper failure scoped to one message.
func NewMessageMappingFailed(description string) *CodedError {
	return &CodedError{
		Code:        CodeMessageMappingFailed,
		Status:      http.StatusBadRequest,
		Message:     "The external message could not be mapped.",
		Description: description,
		Class:       ErrorInvalid,
		Cause:       ErrMappingFailed,
	}
}

// NewEnforcementFailed reports an inbound message whose derived identity does
// not match the source's enforcement rule.
func NewEnforcementFailed(input string) *CodedError {
	return &CodedError{
		Code:        CodeEnforcementFailed,
		Status:      http.StatusBadRequest,
		Message:     fmt.Sprintf("The configured filters could not be matched against the input '%s'.", input),
		Description: "The message identity does not match the source's enforcement rule.",
		Class:       ErrorInvalid,
		Cause:       ErrEnforcementFail,
	}
}

// NewAckRequestTimeout reports that not all requested acknowledgements
// arrived before the deadline.
func NewAckRequestTimeout(correlationID string) *CodedError {
	return &CodedError{
		Code:          CodeAckRequestTimeout,
		Status:        http.StatusRequestTimeout,
		Message:       "The request reached the specified timeout.",
		Description:   "Not all requested acknowledgements arrived in time.",
		CorrelationID: correlationID,
		Class:         ErrorTransient,
		Cause:         ErrAckTimeout,
	}
}
