package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/taskcore"
)

func TestMessageToContent_Text(t *testing.T) {
	msg := taskcore.LLMMessage{Role: "user", Parts: []any{protocol.TextPart("hello")}}
	content := messageToContent(msg)
	require.NotNil(t, content)
	assert.Equal(t, "user", content.Role)
	require.Len(t, content.Parts, 1)
	assert.Equal(t, "hello", content.Parts[0].Text)
}

func TestMessageToContent_ToolRoleFoldsToUser(t *testing.T) {
	msg := taskcore.LLMMessage{Role: "tool", Parts: []any{protocol.Part{
		Kind: protocol.PartKindData,
		Data: map[string]any{"tool_call_id": "call-1", "payload": map[string]any{"result": "ok"}},
	}}}
	content := messageToContent(msg)
	require.NotNil(t, content)
	assert.Equal(t, "user", content.Role)
	require.Len(t, content.Parts, 1)
	require.NotNil(t, content.Parts[0].FunctionResponse)
	assert.Equal(t, "call-1", content.Parts[0].FunctionResponse.ID)
	assert.Equal(t, "ok", content.Parts[0].FunctionResponse.Response["result"])
}

func TestMessageToContent_EmptyYieldsNil(t *testing.T) {
	msg := taskcore.LLMMessage{Role: "user", Parts: nil}
	assert.Nil(t, messageToContent(msg))
}

func TestMessageToContent_FilePartInline(t *testing.T) {
	msg := taskcore.LLMMessage{Role: "user", Parts: []any{protocol.Part{
		Kind: protocol.PartKindFile,
		File: &protocol.FilePart{Name: "a.png", MimeType: "image/png", Bytes: []byte{1, 2, 3}},
	}}}
	content := messageToContent(msg)
	require.NotNil(t, content)
	require.Len(t, content.Parts, 1)
	require.NotNil(t, content.Parts[0].InlineData)
	assert.Equal(t, "image/png", content.Parts[0].InlineData.MIMEType)
}

func TestToGenaiSchema_ObjectWithProperties(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	}
	s := toGenaiSchema(schema)
	require.NotNil(t, s)
	assert.EqualValues(t, "object", s.Type)
	require.Contains(t, s.Properties, "query")
	assert.EqualValues(t, "string", s.Properties["query"].Type)
	assert.Equal(t, []string{"query"}, s.Required)
}

func TestToGenaiSchema_Nil(t *testing.T) {
	assert.Nil(t, toGenaiSchema(nil))
}

func TestGeminiClient_BuildConfig_NoTools(t *testing.T) {
	g := &GeminiClient{cfg: Config{Temperature: 0.5, MaxTokens: 100}}
	cfg := g.buildConfig(nil)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, *cfg.Temperature, 0.001)
	assert.EqualValues(t, 100, cfg.MaxOutputTokens)
	assert.Empty(t, cfg.Tools)
}

func TestGeminiClient_BuildConfig_WithTools(t *testing.T) {
	g := &GeminiClient{}
	cfg := g.buildConfig([]taskcore.ToolSpec{{Name: "echo", Description: "echoes input"}})
	require.Len(t, cfg.Tools, 1)
	require.Len(t, cfg.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "echo", cfg.Tools[0].FunctionDeclarations[0].Name)
}

func TestNewGeminiClient_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), Config{})
	assert.Error(t, err)
}
