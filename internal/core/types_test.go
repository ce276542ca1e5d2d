package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_RequestedModel(t *testing.T) {
	assert.Equal(t, AutoModel, (&ChatRequest{}).RequestedModel())
	assert.Equal(t, AutoModel, (&ChatRequest{Model: "  "}).RequestedModel())
	assert.Equal(t, "phi-3-mini", (&ChatRequest{Model: "phi-3-mini"}).RequestedModel())
}

func TestChatRequest_OptionalFieldsStayNil(t *testing.T) {
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{"messages":[{"role":"user","content":"hi"}]}`), &req))

	assert.Nil(t, req.Temperature)
	assert.Nil(t, req.TopP)
	assert.Nil(t, req.MaxTokens)
	assert.False(t, req.Stream)
}

func TestNewModelsResponse(t *testing.T) {
	resp := NewModelsResponse([]ModelDescriptor{
		{ID: "phi-3-mini", ContextLength: 4096, OwnedBy: "microsoft", BackendURL: "http://internal:8000"},
	})

	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "model", resp.Data[0].Object)
	assert.Equal(t, 4096, resp.Data[0].ContextLength)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "internal:8000")
}
