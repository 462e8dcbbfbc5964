// Package v20240201 carries the wire schemas for Azure OpenAI api-version
// 2024-02-01. This version serves chat completions only; its response format
// is an opaque object and tools carry no strict flag.
package v20240201

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
	Messages         []Message          `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	Stream           *bool              `json:"stream,omitempty"`
	MaxTokens        *int64             `json:"max_tokens,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int32   `json:"logit_bias,omitempty"`
	User             *string            `json:"user,omitempty"`
	N                *int64             `json:"n,omitempty"`
	Seed             *int64             `json:"seed,omitempty"`
	ResponseFormat   json.RawMessage    `json:"response_format,omitempty"`
	Tools            []Tool             `json:"tools,omitempty"`
	ToolChoice       *openai.ToolChoice `json:"tool_choice,omitempty"`
	Stop             *openai.Stop       `json:"stop,omitempty"`
	DataSources      []azure.DataSource `json:"data_sources,omitempty"`
}

// Context carries connection settings applied during conversion.
type Context struct {
	Model       *string
	DataSources []azure.DataSource
}

// FromChatRequest converts a canonical request. Developer messages become
// system messages, multi-part text flattens to plain strings, and function
// messages are dropped along with every field this api version cannot carry.
func FromChatRequest(src openai.ChatRequest, ctx Context) (ChatRequest, providers.RequestLoss) {
	msgs := make([]Message, 0, len(src.Messages))
	for _, m := range src.Messages {
		switch {
		case m.System != nil:
			msgs = append(msgs, Message{System: &SystemMessage{Content: m.System.Content.Flatten()}})
		case m.Developer != nil:
			msgs = append(msgs, Message{System: &SystemMessage{Content: m.Developer.Content.Flatten()}})
		case m.User != nil:
			msgs = append(msgs, Message{User: &UserMessage{Content: azure.UserContentFromOpenAI(m.User.Content)}})
		case m.Assistant != nil:
			msgs = append(msgs, Message{Assistant: &AssistantMessage{
				Content:   azure.AssistantText(m.Assistant.Content),
				ToolCalls: m.Assistant.ToolCalls,
			}})
		case m.Tool != nil:
			msgs = append(msgs, Message{Tool: &ToolMessage{
				Content:    m.Tool.Content.Flatten(),
				ToolCallID: m.Tool.ToolCallID,
			}})
		}
	}

	tools := make([]Tool, 0, len(src.Tools))
	for _, t := range src.Tools {
		tools = append(tools, Tool{Function: ToolFunction{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		}})
	}
	if len(tools) == 0 {
		tools = nil
	}

	var format json.RawMessage
	if src.ResponseFormat != nil {
		format, _ = json.Marshal(src.ResponseFormat)
	}

	model := src.Model
	if ctx.Model != nil {
		model = *ctx.Model
	}

	return ChatRequest{
		Messages:         msgs,
		Temperature:      src.Temperature,
		TopP:             src.TopP,
		Stream:           src.Stream,
		MaxTokens:        src.MaxTokens,
		PresencePenalty:  src.PresencePenalty,
		FrequencyPenalty: src.FrequencyPenalty,
		LogitBias:        src.LogitBias,
		User:             src.User,
		N:                src.N,
		Seed:             src.Seed,
		ResponseFormat:   format,
		Tools:            tools,
		ToolChoice:       src.ToolChoice,
		Stop:             src.Stop,
		DataSources:      ctx.DataSources,
	}, providers.RequestLoss{Model: model}
}

// Message is a conversation turn, discriminated by role.
type Message struct {
	System    *SystemMessage
	User      *UserMessage
	Assistant *AssistantMessage
	Tool      *ToolMessage
}

type SystemMessage struct {
	Content string `json:"content"`
}

type UserMessage struct {
	Content azure.UserContent `json:"content"`
}

type AssistantMessage struct {
	Content   *string               `json:"content,omitempty"`
	ToolCalls []openai.ToolCall     `json:"tool_calls,omitempty"`
	Context   *azure.MessageContext `json:"context,omitempty"`
}

type ToolMessage struct {
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
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
	}
	return nil, fmt.Errorf("messages: empty message")
}

// Tool declares a callable function. This api version has no strict flag.
type Tool struct {
	Function ToolFunction
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (t *Tool) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string       `json:"type"`
		Function ToolFunction `json:"function"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "function" {
		return fmt.Errorf("tools: unknown type %q", raw.Type)
	}
	t.Function = raw.Function
	return nil
}

func (t Tool) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		Function ToolFunction `json:"function"`
	}{"function", t.Function})
}
