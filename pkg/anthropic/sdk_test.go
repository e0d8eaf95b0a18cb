package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	msg := &sdk.Message{
		ID:    "msg_1",
		Model: "claude-sonnet-4-5-20250929",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		},
		StopReason: "end_turn",
		Usage: sdk.Usage{
			InputTokens:              100,
			OutputTokens:             20,
			CacheCreationInputTokens: 5,
			CacheReadInputTokens:     3,
		},
	}

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "first", resp.Content[0].Text)
	assert.Equal(t, "second", resp.Content[1].Text)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(20), resp.Usage.OutputTokens)
	assert.Equal(t, int64(5), resp.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(3), resp.Usage.CacheReadInputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{ID: "msg_empty"})
	assert.Equal(t, "msg_empty", resp.ID)
	assert.Empty(t, resp.Content)
}

func TestToSDKMessages_UserRole(t *testing.T) {
	out := toSDKMessages([]Message{{Role: "user", Content: "hi"}})
	require.Len(t, out, 1)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
}

func TestToSDKMessages_AssistantRole(t *testing.T) {
	out := toSDKMessages([]Message{{Role: "assistant", Content: "hi"}})
	require.Len(t, out, 1)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[0].Role)
}

func TestToSDKMessages_UnknownRoleDefaultsToUser(t *testing.T) {
	out := toSDKMessages([]Message{{Role: "system", Content: "hi"}})
	require.Len(t, out, 1)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
}

func TestToSDKMessages_Empty(t *testing.T) {
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks_NoCacheControl(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{{Text: "plain"}})
	require.Len(t, out, 1)
	assert.Equal(t, "plain", out[0].Text)
}

func TestToSDKSystemBlocks_WithCacheControl(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), out[0].CacheControl.TTL)
}

func TestToSDKSystemBlocks_WithEmptyTTL(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{
		{Text: "cached", CacheControl: &CacheControl{}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "cached", out[0].Text)
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	client := NewClient("test-key")
	assert.NotNil(t, client)
}

func TestMessageRequest_Fields(t *testing.T) {
	temp := 0.3
	req := MessageRequest{
		Model:     "claude-opus-4-6",
		MaxTokens: 512,
		System: []SystemBlock{
			{Text: "sys", CacheControl: &CacheControl{TTL: "5m"}},
		},
		Messages:    []Message{{Role: "user", Content: "go"}},
		Temperature: &temp,
	}
	assert.Equal(t, "claude-opus-4-6", req.Model)
	assert.Equal(t, int64(512), req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.3, *req.Temperature)
}
