package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/conduit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_OrderAndLedger(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put(types.NewStateMessage(types.RoleAssistantRunning, "one")))
	require.NoError(t, q.Put(types.NewStateMessage(types.RoleAssistantStreaming, "two")))
	require.NoError(t, q.Put(types.NewStopMessage()))
	require.NoError(t, q.Put(types.NewAssistantMessage("after stop")))

	var got []string
	for msg := range q.All(context.Background()) {
		got = append(got, msg.Content)
	}

	assert.Equal(t, []string{"one", "two", ""}, got)
	assert.True(t, q.IsStopProcessed())
	assert.Len(t, q.Messages(), 3)
	assert.Equal(t, 1, q.Pending())
}

func TestQueue_NextAfterStop(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put(types.NewStopMessage()))

	msg, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsStop())

	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_WaitForFinished(t *testing.T) {
	q := NewQueue()
	assert.False(t, q.IsStopProcessed())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range q.All(context.Background()) {
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Put(types.NewAssistantMessage("x")))
	}
	require.NoError(t, q.Put(types.NewStopMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.WaitForFinished(ctx))
	wg.Wait()

	assert.True(t, q.IsStopProcessed())
	assert.Len(t, q.Messages(), 51)
	// a second wait returns immediately
	require.NoError(t, q.WaitForFinished(ctx))
}

func TestQueue_WaitForFinishedWithoutReader(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put(types.NewStopMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.WaitForFinished(ctx), context.DeadlineExceeded)
	assert.False(t, q.IsStopProcessed())
}

func TestQueue_NextBlocksUntilPut(t *testing.T) {
	q := NewQueue()

	got := make(chan *types.Message, 1)
	go func() {
		msg, err := q.Next(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put(types.NewAssistantMessage("late")))

	select {
	case msg := <-got:
		assert.Equal(t, "late", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not woken")
	}
}

func TestQueue_NextHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put(types.NewAssistantMessage("queued")))
	q.Close()
	q.Close()

	assert.True(t, q.IsClosed())
	assert.ErrorIs(t, q.Put(types.NewAssistantMessage("rejected")), ErrQueueClosed)

	msg, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", msg.Content)

	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.WaitForFinished(context.Background()), ErrQueueClosed)
}
