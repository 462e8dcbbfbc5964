package gemini

import (
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
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

func TestFromChatRequest_Roles(t *testing.T) {
	src := canonicalRequest(t, `{
		"model": "gemini-2.0-flash",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "developer", "content": " and kind"},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "tool", "content": "{\"sum\":3}", "tool_call_id": "add"}
		]
	}`)

	out, loss := FromChatRequest(src, providers.RequestContext{})
	if loss.Model != "gemini-2.0-flash" {
		t.Fatalf("expected loss model gemini-2.0-flash, got %q", loss.Model)
	}

	// System and developer turns fold into one system instruction.
	if out.SystemInstruction == nil || len(out.SystemInstruction.Parts) != 2 {
		t.Fatalf("system instruction not built: %+v", out.SystemInstruction)
	}
	if *out.SystemInstruction.Parts[0].Text != "be brief" || *out.SystemInstruction.Parts[1].Text != " and kind" {
		t.Errorf("instruction parts wrong: %+v", out.SystemInstruction.Parts)
	}

	if len(out.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(out.Contents))
	}
	if *out.Contents[0].Role != "user" {
		t.Errorf("expected user role, got %q", *out.Contents[0].Role)
	}
	if *out.Contents[1].Role != "model" {
		t.Errorf("assistant should map to model role, got %q", *out.Contents[1].Role)
	}
	// Tool results come back on a user turn as a function response part.
	if *out.Contents[2].Role != "user" {
		t.Errorf("tool result should map to user role, got %q", *out.Contents[2].Role)
	}
	fr := out.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "add" || string(fr.Response) != `{"sum":3}` {
		t.Errorf("function response not built: %+v", fr)
	}
}

func TestFromChatRequest_ImageParts(t *testing.T) {
	src := canonicalRequest(t, `{
		"model": "gemini-2.0-flash",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this"},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,iVBORw0KGgo="}},
			{"type": "image_url", "image_url": {"url": "https://example.com/cat.jpg?size=large"}},
			{"type": "image_url", "image_url": {"url": "https://example.com/page"}}
		]}]
	}`)

	out, _ := FromChatRequest(src, providers.RequestContext{})
	parts := out.Contents[0].Parts
	// The extension-less URL has no shape and is dropped.
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %+v", len(parts), parts)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/png" || parts[1].InlineData.Data != "iVBORw0KGgo=" {
		t.Errorf("data url not inlined: %+v", parts[1])
	}
	if parts[2].FileData == nil || parts[2].FileData.MimeType != "image/jpeg" {
		t.Errorf("extension not mapped to mime type: %+v", parts[2])
	}
	if parts[2].FileData.FileURI != "https://example.com/cat.jpg?size=large" {
		t.Errorf("file uri should keep the query: %+v", parts[2].FileData)
	}
}

func TestFromChatRequest_ToolChoice(t *testing.T) {
	cases := []struct {
		choice  string
		mode    FunctionCallingMode
		allowed []string
	}{
		{`"none"`, ModeNone, nil},
		{`"auto"`, ModeAuto, nil},
		{`"required"`, ModeAny, nil},
		{`{"type":"function","function":{"name":"add"}}`, ModeAny, []string{"add"}},
	}
	for _, tc := range cases {
		src := canonicalRequest(t, `{
		"model": "gemini-2.0-flash",
		"messages": [],
		"tools": [{"type": "function", "function": {"name": "add"}}],
		"tool_choice": `+tc.choice+`}`)

		out, _ := FromChatRequest(src, providers.RequestContext{})
		fcc := out.ToolConfig.FunctionCallingConfig
		if fcc.Mode == nil || *fcc.Mode != tc.mode {
			t.Errorf("tool_choice %s: expected mode %q, got %+v", tc.choice, tc.mode, fcc.Mode)
		}
		if len(fcc.AllowedFunctionNames) != len(tc.allowed) {
			t.Errorf("tool_choice %s: expected allowed %v, got %v", tc.choice, tc.allowed, fcc.AllowedFunctionNames)
		}
	}

	src := canonicalRequest(t, `{"model":"gemini-2.0-flash","messages":[]}`)
	out, _ := FromChatRequest(src, providers.RequestContext{})
	if out.ToolConfig != nil {
		t.Errorf("absent tool_choice should leave config nil: %+v", out.ToolConfig)
	}
}

func TestFromChatRequest_GenerationConfig(t *testing.T) {
	src := canonicalRequest(t, `{
		"model": "gemini-2.0-flash",
		"messages": [],
		"temperature": 0.2,
		"max_completion_tokens": 256,
		"stop": "END",
		"response_format": {"type": "json_object"}
	}`)

	out, _ := FromChatRequest(src, providers.RequestContext{})
	cfg := out.GenerationConfig
	if cfg == nil {
		t.Fatal("expected generation config")
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.2 {
		t.Errorf("temperature not carried: %+v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens == nil || *cfg.MaxOutputTokens != 256 {
		t.Errorf("max tokens not carried: %+v", cfg.MaxOutputTokens)
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "END" {
		t.Errorf("stop sequence not carried: %+v", cfg.StopSequences)
	}
	if cfg.ResponseMimeType == nil || *cfg.ResponseMimeType != "application/json" {
		t.Errorf("json mode not mapped: %+v", cfg.ResponseMimeType)
	}

	// With no tunables set the config stays nil entirely.
	bare := canonicalRequest(t, `{"model":"gemini-2.0-flash","messages":[]}`)
	if out, _ := FromChatRequest(bare, providers.RequestContext{}); out.GenerationConfig != nil {
		t.Errorf("expected nil config, got %+v", out.GenerationConfig)
	}
}

func TestFromChatRequest_ModelOverride(t *testing.T) {
	src := canonicalRequest(t, `{"model":"my-gemini","messages":[]}`)
	pinned := "gemini-2.0-flash-001"
	_, loss := FromChatRequest(src, providers.RequestContext{Model: &pinned})
	if loss.Model != pinned {
		t.Fatalf("expected pinned model in loss, got %q", loss.Model)
	}
}
