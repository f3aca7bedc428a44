// Package errors defines the sentinel errors and the wire-level error
// taxonomy shared by every hub component. Components return sentinels; the
// API layer maps them onto codes via CodeFor.
package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidRegistration = sterrors.New("messagehub: invalid service registration")
	ErrServiceNotFound     = sterrors.New("messagehub: service not registered")
	ErrInvalidMessage      = sterrors.New("messagehub: invalid message")
	ErrMessageNotFound     = sterrors.New("messagehub: message not found")
	ErrInvalidEvent        = sterrors.New("messagehub: invalid event")
	ErrInvalidSubscription = sterrors.New("messagehub: invalid subscription")
	ErrSubscriptionGone    = sterrors.New("messagehub: subscription not found")
	ErrCircuitOpen         = sterrors.New("messagehub: circuit open for destination")
	ErrDeliveryFailed      = sterrors.New("messagehub: delivery attempts exhausted")
	ErrRateLimited         = sterrors.New("messagehub: delivery backlog full")
	ErrAuthFailed          = sterrors.New("messagehub: missing or invalid service key")
)

// Code is the stable machine-readable error code carried on the wire.
type Code string

const (
	CodeInvalidMessage      Code = "INVALID_MESSAGE"
	CodeInvalidSubscription Code = "INVALID_SUBSCRIPTION"
	CodeInvalidRegistration Code = "INVALID_REGISTRATION"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeDeliveryFailed      Code = "DELIVERY_FAILED"
	CodeAuthFailed          Code = "AUTH_FAILED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// CodeFor maps a component error onto its wire code. Unrecognised errors map
// to CodeInternal so callers never see raw internals.
func CodeFor(err error) Code {
	switch {
	case sterrors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case sterrors.Is(err, ErrInvalidEvent):
		return CodeInvalidMessage
	case sterrors.Is(err, ErrInvalidSubscription):
		return CodeInvalidSubscription
	case sterrors.Is(err, ErrInvalidRegistration):
		return CodeInvalidRegistration
	case sterrors.Is(err, ErrServiceNotFound):
		return CodeServiceUnavailable
	case sterrors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case sterrors.Is(err, ErrDeliveryFailed):
		return CodeDeliveryFailed
	case sterrors.Is(err, ErrAuthFailed):
		return CodeAuthFailed
	case sterrors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case sterrors.Is(err, ErrMessageNotFound), sterrors.Is(err, ErrSubscriptionGone):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// APIError is the structured body returned for every failed request.
type APIError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds the wire representation for err, stamped with the
// request id the middleware assigned.
func NewAPIError(err error, requestID string, now time.Time) *APIError {
	return &APIError{
		Code:      CodeFor(err),
		Message:   strings.TrimPrefix(err.Error(), "messagehub: "),
		RequestID: requestID,
		Timestamp: now.UTC(),
	}
}

// ConfigValidationError reports the set of config fields that failed
// validation so operators see every problem at once.
type ConfigValidationError struct {
	Fields []string
}

func (e *ConfigValidationError) Error() string {
	return "messagehub: invalid configuration: " + strings.Join(e.Fields, ", ")
}
