package core

import "strings"

// AutoModel is the sentinel model id that asks the router to pick a model.
const AutoModel = "auto"

// Message roles accepted on the chat endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest represents the incoming chat completion request.
// Optional sampling fields stay nil until defaults are applied.
type ChatRequest struct {
	Temperature *float64  `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64  `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   *int      `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages" validate:"required,min=1,dive"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message represents a single message in the chat
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// RequestedModel returns the model the client asked for, defaulting to auto.
func (r *ChatRequest) RequestedModel() string {
	if m := strings.TrimSpace(r.Model); m != "" {
		return m
	}
	return AutoModel
}

// InferenceRequest is the body forwarded to a model backend: the resolved
// model id plus every sampling parameter with defaults filled in.
type InferenceRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream,omitempty"`
}

// ChatResponse represents the chat completion response
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Created int64    `json:"created"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelDescriptor describes one catalog entry.
type ModelDescriptor struct {
	ID               string
	ContextLength    int
	PricePer1KTokens float64
	Priority         int
	OwnedBy          string
	Created          int64
	// BackendURL overrides the default backend endpoint for this model.
	BackendURL string
}

// Model represents a single model in the models list
type Model struct {
	ID               string  `json:"id"`
	Object           string  `json:"object"`
	OwnedBy          string  `json:"owned_by"`
	Created          int64   `json:"created"`
	ContextLength    int     `json:"context_length"`
	PricePer1KTokens float64 `json:"price_per_1k_tokens"`
	Priority         int     `json:"priority"`
}

// ModelsResponse represents the response from the /v1/models endpoint
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// NewModelsResponse renders catalog entries in the order given.
func NewModelsResponse(models []ModelDescriptor) *ModelsResponse {
	data := make([]Model, 0, len(models))
	for _, m := range models {
		data = append(data, Model{
			ID:               m.ID,
			Object:           "model",
			OwnedBy:          m.OwnedBy,
			Created:          m.Created,
			ContextLength:    m.ContextLength,
			PricePer1KTokens: m.PricePer1KTokens,
			Priority:         m.Priority,
		})
	}
	return &ModelsResponse{Object: "list", Data: data}
}
