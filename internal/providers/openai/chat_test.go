package openai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
)

func decodeChat(t *testing.T, raw string) ChatRequest {
	t.Helper()
	var req ChatRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	return req
}

func TestRequestURL(t *testing.T) {
	got := RequestURL("https://api.openai.com", providers.OpChatCompletions)
	if got != "https://api.openai.com/v1/chat/completions" {
		t.Fatalf("unexpected url %q", got)
	}

	got = RequestURL("https://api.openai.com/", providers.OpEmbeddings)
	if got != "https://api.openai.com/v1/embeddings" {
		t.Fatalf("trailing slash not trimmed: %q", got)
	}
}

func TestChatRequest_MessageRoles(t *testing.T) {
	req := decodeChat(t, `{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "developer", "content": "prefer prose"},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "tool", "content": "42", "tool_call_id": "call_1"},
			{"role": "function", "content": "42", "name": "add"}
		]
	}`)

	if len(req.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].System == nil || req.Messages[0].System.Content.Flatten() != "be brief" {
		t.Errorf("system message not decoded: %+v", req.Messages[0])
	}
	if req.Messages[1].Developer == nil {
		t.Errorf("developer message not decoded: %+v", req.Messages[1])
	}
	if req.Messages[2].User == nil {
		t.Errorf("user message not decoded: %+v", req.Messages[2])
	}
	if req.Messages[3].Assistant == nil {
		t.Errorf("assistant message not decoded: %+v", req.Messages[3])
	}
	if req.Messages[4].Tool == nil || req.Messages[4].Tool.ToolCallID != "call_1" {
		t.Errorf("tool message not decoded: %+v", req.Messages[4])
	}
	if req.Messages[5].Function == nil || req.Messages[5].Function.Name != "add" {
		t.Errorf("function message not decoded: %+v", req.Messages[5])
	}
}

func TestMessage_UnknownRole(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"role":"moderator","content":"no"}`), &m)
	if err == nil || !strings.Contains(err.Error(), "moderator") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}

func TestMessage_MarshalRole(t *testing.T) {
	text := "ready"
	m := Message{Assistant: &AssistantMessage{Content: &AssistantContent{Text: &text}}}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"role":"assistant"`) {
		t.Errorf("role not injected: %s", out)
	}
	if !strings.Contains(string(out), `"content":"ready"`) {
		t.Errorf("string content not preserved: %s", out)
	}
}

func TestUserContent_Parts(t *testing.T) {
	req := decodeChat(t, `{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "describe this"},
			{"type": "image_url", "image_url": {"url": "https://example.com/cat.png", "detail": "high"}},
			{"type": "input_audio", "input_audio": {"data": "UklGRg==", "format": "wav"}},
			{"type": "file", "file": {"file_name": "notes.pdf", "file_id": "file-1"}}
		]}]
	}`)

	parts := req.Messages[0].User.Content.Parts
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	if parts[0].Text == nil || parts[0].Text.Text != "describe this" {
		t.Errorf("text part not decoded: %+v", parts[0])
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.Detail == nil || *parts[1].ImageURL.Detail != ImageDetailHigh {
		t.Errorf("image part not decoded: %+v", parts[1])
	}
	if parts[2].InputAudio == nil || parts[2].InputAudio.Format != InputAudioWav {
		t.Errorf("audio part not decoded: %+v", parts[2])
	}
	if parts[3].File == nil || parts[3].File.Filename == nil || *parts[3].File.Filename != "notes.pdf" {
		t.Errorf("legacy file_name not accepted: %+v", parts[3])
	}
}

func TestStop_Union(t *testing.T) {
	var s Stop
	if err := json.Unmarshal([]byte(`"\n"`), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Text == nil || *s.Text != "\n" {
		t.Fatalf("expected single stop string, got %+v", s)
	}

	if err := json.Unmarshal([]byte(`["a","b"]`), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Text != nil || len(s.Sequences) != 2 {
		t.Fatalf("expected stop sequence list, got %+v", s)
	}
	out, _ := json.Marshal(s)
	if string(out) != `["a","b"]` {
		t.Errorf("expected list form, got %s", out)
	}

	if err := json.Unmarshal([]byte(`42`), &s); err == nil {
		t.Fatal("expected error for numeric stop")
	}
}

func TestToolChoice_Union(t *testing.T) {
	var c ToolChoice
	if err := json.Unmarshal([]byte(`"required"`), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode == nil || *c.Mode != ToolChoiceRequired {
		t.Fatalf("expected required mode, got %+v", c)
	}

	if err := json.Unmarshal([]byte(`{"type":"function","function":{"name":"get_weather"}}`), &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Function == nil || c.Function.Name != "get_weather" {
		t.Fatalf("expected named function, got %+v", c)
	}

	if err := json.Unmarshal([]byte(`"sometimes"`), &c); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestResponseFormat_SchemaRequired(t *testing.T) {
	var f ResponseFormat
	if err := json.Unmarshal([]byte(`{"type":"json_schema"}`), &f); err == nil {
		t.Fatal("expected error for json_schema without schema body")
	}

	raw := `{"type":"json_schema","json_schema":{"name":"weather","schema":{"type":"object"}}}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.JSONSchema == nil || f.JSONSchema.Name != "weather" {
		t.Fatalf("schema not decoded: %+v", f)
	}

	out, _ := json.Marshal(ResponseFormat{Type: ResponseFormatText})
	if string(out) != `{"type":"text"}` {
		t.Errorf("expected bare type, got %s", out)
	}
}

func TestServiceTier_Unknown(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{"model":"gpt-4o","messages":[],"service_tier":"scale"}`), &req)
	if err == nil || !strings.Contains(err.Error(), "service_tier") {
		t.Fatalf("expected service_tier error, got %v", err)
	}
}

func TestChatRequest_IsStream(t *testing.T) {
	if !decodeChat(t, `{"model":"gpt-4o","messages":[],"stream":true}`).IsStream() {
		t.Fatal("expected stream request")
	}
	if decodeChat(t, `{"model":"gpt-4o","messages":[]}`).IsStream() {
		t.Fatal("expected non-stream request")
	}
}

func TestChatRequest_ToSelf(t *testing.T) {
	req := decodeChat(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	if req.DeploymentName() != "gpt-4o" {
		t.Fatalf("expected deployment gpt-4o, got %q", req.DeploymentName())
	}

	out, loss := req.ToSelf(providers.RequestContext{})
	if out.Model != "gpt-4o" || loss.Model != "gpt-4o" {
		t.Fatalf("expected passthrough model, got %q / %q", out.Model, loss.Model)
	}

	pinned := "gpt-4o-2024-08-06"
	out, loss = req.ToSelf(providers.RequestContext{Model: &pinned})
	if out.Model != pinned {
		t.Errorf("expected pinned model, got %q", out.Model)
	}
	if loss.Model != pinned {
		t.Errorf("expected loss to name the effective model, got %q", loss.Model)
	}
}
