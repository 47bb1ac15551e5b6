package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/conduit/pkg/agent"
	"github.com/entrhq/conduit/pkg/agent/tools"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"session not found", ErrSessionNotFound.wrap(ErrNotFound), 404, "1000"},
		{"unknown tool", fmt.Errorf("x: %w", tools.ErrUnknownTool), 500, "1001"},
		{"queue", ErrQueueNeverStopped, 500, "1002"},
		{"tool calls required", agent.ErrToolCallsRequired, 500, "1003"},
		{"deadline", context.DeadlineExceeded, 500, "1004"},
		{"busy agent", agent.ErrInvalidState, 500, "1004"},
		{"anything else", errors.New("boom"), 500, ErrorCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, se.StatusCode)
			assert.Equal(t, tt.wantCode, se.ErrorCode)
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestServiceError_Is(t *testing.T) {
	err := ErrSessionNotFound.wrap(errors.New("missing"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotErrorIs(t, err, ErrDocumentsNotFound)
	assert.Equal(t, "Session not found: missing", err.Error())
	assert.Equal(t, "Task failed", ErrTaskFailed.Error())
}
