package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/entrhq/conduit/pkg/agent"
	"github.com/entrhq/conduit/pkg/agent/tools"
)

// ErrorCodeInternal is the error code of failures without a specific code.
const ErrorCodeInternal = "INTERNAL_SERVER_ERROR"

// ServiceError is a failure with the status and error code reported to the
// client in an error event.
type ServiceError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Err        error

	base *ServiceError
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches the sentinel e was wrapped from.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && (t == e || t == e.base)
}

// wrap returns a copy of e carrying err as its cause.
func (e *ServiceError) wrap(err error) *ServiceError {
	c := *e
	c.Err = err
	if c.base == nil {
		c.base = e
	}
	return &c
}

var (
	ErrSessionNotFound   = &ServiceError{StatusCode: http.StatusNotFound, ErrorCode: "1000", Message: "Session not found"}
	ErrUnknownTool       = &ServiceError{StatusCode: http.StatusInternalServerError, ErrorCode: "1001", Message: "Unknown tool"}
	ErrQueueNeverStopped = &ServiceError{StatusCode: http.StatusInternalServerError, ErrorCode: "1002", Message: "Message queue never stopped"}
	ErrToolCall          = &ServiceError{StatusCode: http.StatusInternalServerError, ErrorCode: "1003", Message: "Tool call failed"}
	ErrTaskFailed        = &ServiceError{StatusCode: http.StatusInternalServerError, ErrorCode: "1004", Message: "Task failed"}

	// ErrDocumentsNotFound is returned when a session is created with
	// documents but the user owns none.
	ErrDocumentsNotFound = &ServiceError{StatusCode: http.StatusNotFound, ErrorCode: "1000", Message: "No documents found"}

	// ErrEmptyContent rejects chat requests without text.
	ErrEmptyContent = &ServiceError{StatusCode: http.StatusUnprocessableEntity, ErrorCode: "VALIDATION_ERROR", Message: "Content must not be empty"}
)

// Classify maps err to the ServiceError reported for it.
func Classify(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return ErrUnknownTool.wrap(err)
	case errors.Is(err, agent.ErrToolCallsRequired):
		return ErrToolCall.wrap(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, agent.ErrInvalidState):
		return ErrTaskFailed.wrap(err)
	}
	return &ServiceError{
		StatusCode: http.StatusInternalServerError,
		ErrorCode:  ErrorCodeInternal,
		Message:    err.Error(),
		Err:        err,
	}
}
