package chat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/conduit/pkg/types"
)

func TestSessionStores(t *testing.T) {
	fileStore, err := NewFileSessionStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)

	stores := map[string]SessionStore{
		"memory": NewMemorySessionStore(),
		"file":   fileStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Find(ctx, "absent")
			require.ErrorIs(t, err, ErrNotFound)

			sess := NewSession("u1")
			sess.History = append(sess.History,
				types.NewUserMessage("hi"),
				types.NewStateMessage(types.RoleAssistantFinished, "hello").WithRole(types.RoleAssistantFinished),
			)
			require.NoError(t, store.Save(ctx, sess))

			got, err := store.Find(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.ID, got.ID)
			assert.Equal(t, "u1", got.UserID)
			require.Len(t, got.History, 2)
			assert.Equal(t, types.RoleAssistantFinished, got.History[1].EffectiveRole())

			got.History = nil
			again, err := store.Find(ctx, sess.ID)
			require.NoError(t, err)
			assert.Len(t, again.History, 2, "stored copy is isolated")
		})
	}
}

func TestFileSessionStore_RejectsPaths(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../x", "a/b"} {
		_, err := store.Find(context.Background(), id)
		assert.Error(t, err, id)
		assert.NotErrorIs(t, err, ErrNotFound, id)
	}
}

func TestFileSessionStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSessionStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0600))

	_, err = store.Find(context.Background(), "bad")
	assert.ErrorContains(t, err, "failed to decode session")
}

func TestAgentMemory(t *testing.T) {
	history := []*types.Message{
		types.NewUserMessage("q1"),
		types.NewStateMessage(types.RoleAssistantFinished, "a1"),
		types.NewStateMessage(types.RoleAssistantRunning, "progress"),
		types.NewUserMessage(""),
		types.NewErrorMessage("boom", 500, ErrorCodeInternal),
		types.NewUserMessage("q2"),
	}
	got := AgentMemory(history)
	require.Len(t, got, 3)
	assert.Equal(t, types.RoleUser, got[0].Role)
	assert.Equal(t, types.RoleAssistant, got[1].Role)
	assert.Equal(t, "a1", got[1].Content)
	assert.Nil(t, got[1].Metadata)
	assert.Equal(t, "q2", got[2].Content)
}
