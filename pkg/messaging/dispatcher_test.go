package messaging

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/entrhq/conduit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_GetQueue(t *testing.T) {
	d := NewDispatcher()

	_, err := d.GetQueue("s1")
	assert.ErrorIs(t, err, ErrQueueNotFound)
	assert.EqualError(t, err, "Message queue for session s1 not found: message queue not found")

	q := d.CreateQueue("s1")
	got, err := d.GetQueue("s1")
	require.NoError(t, err)
	assert.Same(t, q, got)

	q.Close()
	_, err = d.GetQueue("s1")
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Contains(t, err.Error(), "is deleted")
}

func TestDispatcher_CreateQueueReplaces(t *testing.T) {
	d := NewDispatcher()
	old := d.CreateQueue("s1")
	fresh := d.CreateQueue("s1")

	assert.NotSame(t, old, fresh)
	got, err := d.GetQueue("s1")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.False(t, old.IsClosed())
	assert.Equal(t, 1, d.Len())
}

func TestDispatcher_Release(t *testing.T) {
	d := NewDispatcher()
	old := d.CreateQueue("s1")
	fresh := d.CreateQueue("s1")

	// releasing a detached queue leaves the live registration alone
	d.Release("s1", old)
	assert.True(t, old.IsClosed())
	_, err := d.GetQueue("s1")
	require.NoError(t, err)

	d.Release("s1", fresh)
	_, err = d.GetQueue("s1")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestDispatcher_Dispatch(t *testing.T) {
	d := NewDispatcher()
	q := d.CreateQueue("s1")
	require.NoError(t, q.Put(types.NewStateMessage(types.RoleAssistantStreaming, "Hi")))
	require.NoError(t, q.Put(types.NewErrorMessage("boom", 500, "INTERNAL_SERVER_ERROR")))
	require.NoError(t, q.Put(types.NewStopMessage()))
	require.NoError(t, q.Put(types.NewAssistantMessage("never sent")))

	frames, err := d.Dispatch(context.Background(), "s1")
	require.NoError(t, err)

	var got []string
	for f := range frames {
		got = append(got, f)
	}

	require.Len(t, got, 3)
	assert.Equal(t, `data: {"role":"assistant","content":"Hi","metadata":{"state":"assistant_streaming"}}`+"\n\n", got[0])
	assert.Equal(t, `data: {"role":"stop","content":"","metadata":{}}`+"\n\n", got[2])

	errFrame, err := DecodeFrame(got[1])
	require.NoError(t, err)
	assert.Equal(t, types.RoleError, errFrame.Role)
	assert.EqualValues(t, 500, errFrame.Metadata["status_code"])
	assert.Equal(t, "INTERNAL_SERVER_ERROR", errFrame.Metadata["error_code"])

	assert.True(t, q.IsStopProcessed())
}

func TestDispatcher_DispatchUnknownSession(t *testing.T) {
	_, err := NewDispatcher().Dispatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestEncodeFrame_KeepsUnicodeAndMarkup(t *testing.T) {
	frame, err := EncodeFrame(types.NewAssistantMessage("<b>안녕</b> ✨"))
	require.NoError(t, err)
	assert.Contains(t, frame, `"content":"<b>안녕</b> ✨"`)
	assert.True(t, strings.HasPrefix(frame, "data: "))
	assert.True(t, strings.HasSuffix(frame, "}\n\n"))
}

func TestWriteSSE(t *testing.T) {
	d := NewDispatcher()
	q := d.CreateQueue("s1")
	require.NoError(t, q.Put(types.NewStateMessage(types.RoleAssistantFinished, "done")))
	require.NoError(t, q.Put(types.NewStopMessage()))

	rec := httptest.NewRecorder()
	require.NoError(t, d.WriteSSE(context.Background(), rec, "s1"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "data: "))
}
