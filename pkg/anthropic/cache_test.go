package anthropic

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("system prompt text")
	require.Len(t, blocks, 1)
	assert.Equal(t, "system prompt text", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_EmptyText(t *testing.T) {
	blocks := BuildCachedSystemBlocks("")
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
}

func TestPrimerRequest_Success(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(&MessageResponse{
		ID: "msg_primer",
		Usage: TokenUsage{
			InputTokens:              10,
			CacheCreationInputTokens: 4000,
		},
	}, nil)

	resp, err := PrimerRequest(context.Background(), client, MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1,
		System:    BuildCachedSystemBlocks("long shared prompt"),
		Messages:  []Message{{Role: "user", Content: "warm"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_primer", resp.ID)
	assert.Equal(t, int64(4000), resp.Usage.CacheCreationInputTokens)
	client.AssertExpectations(t)
}

func TestPrimerRequest_Error(t *testing.T) {
	client := &MockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.New("boom"))

	_, err := PrimerRequest(context.Background(), client, MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1,
		Messages:  []Message{{Role: "user", Content: "warm"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: primer request")
}
