package v20240201

import (
	"encoding/json"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// ChatResponse is the chat completions response body.
type ChatResponse struct {
	Choices           []Choice `json:"choices"`
	Created           int64    `json:"created"`
	ID                string   `json:"id"`
	Model             string   `json:"model"`
	Object            string   `json:"object"`
	SystemFingerprint *string  `json:"system_fingerprint"`
	Usage             Usage    `json:"usage"`
}

type Choice struct {
	FinishReason         string          `json:"finish_reason"`
	Index                int64           `json:"index"`
	Message              ChoiceMessage   `json:"message"`
	ContentFilterResults json.RawMessage `json:"content_filter_results,omitempty"`
}

type ChoiceMessage struct {
	Content   *string               `json:"content"`
	Role      string                `json:"role"`
	ToolCalls []openai.ToolCall     `json:"tool_calls,omitempty"`
	Context   *azure.MessageContext `json:"context,omitempty"`
}

type Usage struct {
	CompletionTokens int64 `json:"completion_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ToOpenAI converts to the canonical response. Content filter results and
// retrieval context have no canonical shape and are dropped.
func (r ChatResponse) ToOpenAI(ctx providers.ResponseContext) openai.ChatResponse {
	choices := make([]openai.Choice, 0, len(r.Choices))
	for _, c := range r.Choices {
		choices = append(choices, openai.Choice{
			FinishReason: c.FinishReason,
			Index:        c.Index,
			Message: openai.ChoiceMessage{
				Content:   c.Message.Content,
				Role:      c.Message.Role,
				ToolCalls: c.Message.ToolCalls,
			},
		})
	}
	return openai.ChatResponse{
		ID:                r.ID,
		Choices:           choices,
		Created:           r.Created,
		Model:             providers.RestoredModel(r.Model, ctx),
		SystemFingerprint: r.SystemFingerprint,
		Object:            r.Object,
		Usage: openai.Usage{
			CompletionTokens: r.Usage.CompletionTokens,
			PromptTokens:     r.Usage.PromptTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
}

// InputTokens implements providers.UsageReporter.
func (r ChatResponse) InputTokens() int64 { return r.Usage.PromptTokens }

// OutputTokens implements providers.UsageReporter.
func (r ChatResponse) OutputTokens() int64 { return r.Usage.CompletionTokens }
