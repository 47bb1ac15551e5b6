package adapter

import (
	"testing"

	"github.com/entrhq/conduit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMessages(t *testing.T) {
	img := types.Image{URL: "https://example.com/a.png"}
	user := types.NewUserMessage("look", img)
	running := types.NewStateMessage(types.RoleAssistantRunning, "working")
	stop := types.NewStopMessage()
	system := types.NewSystemMessage("sys")

	out := FormatMessages([]*types.Message{user, running, stop}, []*types.Message{system}, false)

	require.Len(t, out, 3)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Equal(t, types.RoleUser, out[1].Role)
	assert.Empty(t, out[1].Images)
	assert.Nil(t, out[2].Metadata)
	assert.Equal(t, "working", out[2].Content)

	// inputs untouched
	assert.Len(t, user.Images, 1)
	assert.NotNil(t, running.Metadata)
}

func TestFormatMessages_KeepsImagesForMultimodal(t *testing.T) {
	user := types.NewUserMessage("look", types.Image{URL: "https://example.com/a.png"})

	out := FormatMessages([]*types.Message{user}, nil, true)

	require.Len(t, out, 1)
	assert.Len(t, out[0].Images, 1)
}
