package v20240201

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

func canonicalRequest(t *testing.T, raw string) openai.ChatRequest {
	t.Helper()
	var req openai.ChatRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	return req
}

func TestFromChatRequest_Messages(t *testing.T) {
	src := canonicalRequest(t, `{
		"model": "gpt-4o",
		"messages": [
			{"role": "developer", "content": [{"type": "text", "text": "be "}, {"type": "text", "text": "brief"}]},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [{"type": "text", "text": "hello"}]},
			{"role": "tool", "content": "42", "tool_call_id": "call_1"},
			{"role": "function", "content": "42", "name": "add"}
		]
	}`)

	out, loss := FromChatRequest(src, Context{})
	if loss.Model != "gpt-4o" {
		t.Fatalf("expected loss model gpt-4o, got %q", loss.Model)
	}
	// Function messages have no shape in this api version.
	if len(out.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out.Messages))
	}
	if out.Messages[0].System == nil || out.Messages[0].System.Content != "be brief" {
		t.Errorf("developer message should flatten to system: %+v", out.Messages[0])
	}
	if out.Messages[2].Assistant == nil || out.Messages[2].Assistant.Content == nil || *out.Messages[2].Assistant.Content != "hello" {
		t.Errorf("assistant parts should flatten to string: %+v", out.Messages[2])
	}
	if out.Messages[3].Tool == nil || out.Messages[3].Tool.ToolCallID != "call_1" {
		t.Errorf("tool message not carried: %+v", out.Messages[3])
	}
}

func TestFromChatRequest_ToolsLoseStrict(t *testing.T) {
	src := canonicalRequest(t, `{
		"model": "gpt-4o",
		"messages": [],
		"tools": [{"type": "function", "function": {"name": "add", "parameters": {"type": "object"}, "strict": true}}]
	}`)

	out, _ := FromChatRequest(src, Context{})
	if len(out.Tools) != 1 || out.Tools[0].Function.Name != "add" {
		t.Fatalf("tool not carried: %+v", out.Tools)
	}

	body, _ := json.Marshal(out.Tools[0])
	if strings.Contains(string(body), "strict") {
		t.Errorf("strict flag should not serialize: %s", body)
	}
}

func TestFromChatRequest_ContextSettings(t *testing.T) {
	src := canonicalRequest(t, `{"model":"gpt-4o","messages":[]}`)

	deployment := "gpt4-prod"
	ds := []azure.DataSource{{Type: azure.DataSourceSearch, Parameters: json.RawMessage(`{}`)}}
	out, loss := FromChatRequest(src, Context{Model: &deployment, DataSources: ds})

	if loss.Model != "gpt4-prod" {
		t.Errorf("expected deployment in loss, got %q", loss.Model)
	}
	if len(out.DataSources) != 1 || out.DataSources[0].Type != azure.DataSourceSearch {
		t.Errorf("data sources not attached: %+v", out.DataSources)
	}
}

func TestChatResponse_ToOpenAI(t *testing.T) {
	raw := `{
		"id": "chatcmpl-az1",
		"object": "chat.completion",
		"created": 1728000000,
		"model": "gpt-4",
		"system_fingerprint": null,
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"message": {"role": "assistant", "content": "Hello!", "context": {"intent": "greet"}},
			"content_filter_results": {"hate": {"filtered": false}}
		}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
	}`
	var resp ChatResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	requested := "my-gpt4"
	out := resp.ToOpenAI(providers.ResponseContext{Model: &requested})
	if out.Model != "my-gpt4" {
		t.Errorf("expected requested model restored, got %q", out.Model)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content == nil || *out.Choices[0].Message.Content != "Hello!" {
		t.Fatalf("choice not converted: %+v", out.Choices)
	}

	body, _ := json.Marshal(out)
	if strings.Contains(string(body), "content_filter_results") || strings.Contains(string(body), "intent") {
		t.Errorf("azure-only fields should be dropped: %s", body)
	}

	if resp.InputTokens() != 9 || resp.OutputTokens() != 3 {
		t.Errorf("unexpected usage: %d / %d", resp.InputTokens(), resp.OutputTokens())
	}
}
