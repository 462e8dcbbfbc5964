// Package v20241021 carries the wire schemas for Azure OpenAI api-version
// 2024-10-21: chat completions and embeddings. The chat schema tracks the
// canonical one closely, so tools, tool choices, stop sequences, and
// response formats are shared types.
package v20241021

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// ChatRequest is the chat completions request body. The target model lives in
// the deployment URL, not the payload.
type ChatRequest struct {
	Messages            []Message              `json:"messages"`
	Temperature         *float64               `json:"temperature,omitempty"`
	TopP                *float64               `json:"top_p,omitempty"`
	Stream              *bool                  `json:"stream,omitempty"`
	MaxTokens           *int64                 `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int64                 `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64               `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64               `json:"frequency_penalty,omitempty"`
	LogitBias           map[string]int32       `json:"logit_bias,omitempty"`
	User                *string                `json:"user,omitempty"`
	N                   *int64                 `json:"n,omitempty"`
	Seed                *int64                 `json:"seed,omitempty"`
	ResponseFormat      *openai.ResponseFormat `json:"response_format,omitempty"`
	Tools               []openai.Tool          `json:"tools,omitempty"`
	ToolChoice          *openai.ToolChoice     `json:"tool_choice,omitempty"`
	Stop                *openai.Stop           `json:"stop,omitempty"`
	DataSources         []azure.DataSource     `json:"data_sources,omitempty"`
	Logprobs            *bool                  `json:"logprobs,omitempty"`
	TopLogprobs         *int64                 `json:"top_logprobs,omitempty"`
	ParallelToolCalls   *bool                  `json:"parallel_tool_calls,omitempty"`
	StreamOptions       *openai.StreamOptions  `json:"stream_options,omitempty"`
}

// Context carries connection settings applied during conversion.
type Context struct {
	Model       *string
	DataSources []azure.DataSource
}

// FromChatRequest converts a canonical request. Developer messages become
// system messages and image parts lose their detail hint; fields with no
// 2024-10-21 shape are dropped.
func FromChatRequest(src openai.ChatRequest, ctx Context) (ChatRequest, providers.RequestLoss) {
	msgs := make([]Message, 0, len(src.Messages))
	for _, m := range src.Messages {
		switch {
		case m.System != nil:
			msgs = append(msgs, Message{System: &SystemMessage{Content: m.System.Content, Name: m.System.Name}})
		case m.Developer != nil:
			msgs = append(msgs, Message{System: &SystemMessage{Content: m.Developer.Content, Name: m.Developer.Name}})
		case m.User != nil:
			msgs = append(msgs, Message{User: &UserMessage{
				Content: azure.UserContentFromOpenAI(m.User.Content),
				Name:    m.User.Name,
			}})
		case m.Assistant != nil:
			msgs = append(msgs, Message{Assistant: &AssistantMessage{
				Content:   m.Assistant.Content,
				Refusal:   m.Assistant.Refusal,
				ToolCalls: m.Assistant.ToolCalls,
				Name:      m.Assistant.Name,
			}})
		case m.Tool != nil:
			msgs = append(msgs, Message{Tool: &ToolMessage{
				Content:    m.Tool.Content,
				ToolCallID: m.Tool.ToolCallID,
			}})
		case m.Function != nil:
			content := ""
			if m.Function.Content != nil {
				content = *m.Function.Content
			}
			msgs = append(msgs, Message{Function: &FunctionMessage{Content: content, Name: m.Function.Name}})
		}
	}

	model := src.Model
	if ctx.Model != nil {
		model = *ctx.Model
	}

	return ChatRequest{
		Messages:            msgs,
		Temperature:         src.Temperature,
		TopP:                src.TopP,
		Stream:              src.Stream,
		MaxTokens:           src.MaxTokens,
		MaxCompletionTokens: src.MaxCompletionTokens,
		PresencePenalty:     src.PresencePenalty,
		FrequencyPenalty:    src.FrequencyPenalty,
		LogitBias:           src.LogitBias,
		User:                src.User,
		N:                   src.N,
		Seed:                src.Seed,
		ResponseFormat:      src.ResponseFormat,
		Tools:               src.Tools,
		ToolChoice:          src.ToolChoice,
		Stop:                src.Stop,
		DataSources:         ctx.DataSources,
		Logprobs:            src.Logprobs,
		TopLogprobs:         src.TopLogprobs,
		ParallelToolCalls:   src.ParallelToolCalls,
		StreamOptions:       src.StreamOptions,
	}, providers.RequestLoss{Model: model}
}

// Message is a conversation turn, discriminated by role.
type Message struct {
	System    *SystemMessage
	User      *UserMessage
	Assistant *AssistantMessage
	Tool      *ToolMessage
	Function  *FunctionMessage
}

type SystemMessage struct {
	Content openai.TextContent `json:"content"`
	Name    *string            `json:"name"`
}

type UserMessage struct {
	Content azure.UserContent `json:"content"`
	Name    *string           `json:"name"`
}

type AssistantMessage struct {
	Content   *openai.AssistantContent `json:"content,omitempty"`
	Refusal   *string                  `json:"refusal,omitempty"`
	ToolCalls []openai.ToolCall        `json:"tool_calls,omitempty"`
	Name      *string                  `json:"name,omitempty"`
}

type ToolMessage struct {
	Content    openai.TextContent `json:"content"`
	ToolCallID string             `json:"tool_call_id"`
}

type FunctionMessage struct {
	Content string `json:"content"`
	Name    string `json:"name"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var probe struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*m = Message{}
	switch probe.Role {
	case "system":
		m.System = &SystemMessage{}
		return json.Unmarshal(data, m.System)
	case "user":
		m.User = &UserMessage{}
		return json.Unmarshal(data, m.User)
	case "assistant":
		m.Assistant = &AssistantMessage{}
		return json.Unmarshal(data, m.Assistant)
	case "tool":
		m.Tool = &ToolMessage{}
		return json.Unmarshal(data, m.Tool)
	case "function":
		m.Function = &FunctionMessage{}
		return json.Unmarshal(data, m.Function)
	}
	return fmt.Errorf("messages: unknown role %q", probe.Role)
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch {
	case m.System != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*SystemMessage
		}{"system", m.System})
	case m.User != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*UserMessage
		}{"user", m.User})
	case m.Assistant != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*AssistantMessage
		}{"assistant", m.Assistant})
	case m.Tool != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*ToolMessage
		}{"tool", m.Tool})
	case m.Function != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*FunctionMessage
		}{"function", m.Function})
	}
	return nil, fmt.Errorf("messages: empty message")
}
