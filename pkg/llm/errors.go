package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for provider failures.
var (
	ErrRateLimit      = errors.New("rate limit exceeded")
	ErrAuthentication = errors.New("authentication failed")
	ErrServer         = errors.New("upstream server error")
	ErrNetwork        = errors.New("network error")
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorCode classifies a provider error.
type ErrorCode string

const (
	ErrorCodeRateLimit      ErrorCode = "rate_limit"
	ErrorCodeAuth           ErrorCode = "authentication_failed"
	ErrorCodeServer         ErrorCode = "server_error"
	ErrorCodeNetwork        ErrorCode = "network_error"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
)

var codeSentinels = map[ErrorCode]error{
	ErrorCodeRateLimit:      ErrRateLimit,
	ErrorCodeAuth:           ErrAuthentication,
	ErrorCodeServer:         ErrServer,
	ErrorCodeNetwork:        ErrNetwork,
	ErrorCodeInvalidRequest: ErrInvalidRequest,
}

// ProviderError wraps a service failure with a classification.
type ProviderError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Underlying error
	Retryable  bool
	RetryAfter *time.Duration
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// Is lets errors.Is match the sentinel for e's code.
func (e *ProviderError) Is(target error) bool {
	return codeSentinels[e.Code] == target
}

// NewStatusError classifies an HTTP status returned by a service.
func NewStatusError(status int, message string, underlying error) *ProviderError {
	e := &ProviderError{StatusCode: status, Message: message, Underlying: underlying}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = ErrorCodeAuth
	case status == http.StatusTooManyRequests:
		e.Code = ErrorCodeRateLimit
		e.Retryable = true
	case status >= 500:
		e.Code = ErrorCodeServer
		e.Retryable = true
	default:
		e.Code = ErrorCodeInvalidRequest
	}
	return e
}

// NewNetworkError wraps a transport failure. Network failures are retried.
func NewNetworkError(err error) *ProviderError {
	return &ProviderError{
		Code:       ErrorCodeNetwork,
		Message:    "request failed",
		Underlying: err,
		Retryable:  true,
	}
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}
	return false
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// GetRetryAfter returns the retry-after hint if present.
func GetRetryAfter(err error) *time.Duration {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.RetryAfter
	}
	return nil
}
