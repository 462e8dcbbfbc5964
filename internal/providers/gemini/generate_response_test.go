package gemini

import (
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
)

func TestGenerateResponse_ToOpenAI(t *testing.T) {
	raw := `{
		"candidates": [{
			"content": {
				"role": "model",
				"parts": [
					{"text": "The sum is "},
					{"text": "3."},
					{"functionCall": {"name": "add", "args": {"a": 1, "b": 2}}}
				]
			},
			"finishReason": "STOP",
			"index": 0,
			"safetyRatings": [{"category": "HARM_CATEGORY_HATE_SPEECH", "probability": "NEGLIGIBLE"}]
		}],
		"usageMetadata": {
			"promptTokenCount": 10,
			"candidatesTokenCount": 6,
			"totalTokenCount": 16,
			"thoughtsTokenCount": 2
		},
		"modelVersion": "gemini-2.0-flash-001",
		"responseId": "abc123"
	}`
	var resp GenerateResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	requested := "my-gemini"
	out := resp.ToOpenAI(providers.ResponseContext{Model: &requested})
	if out.ID != "abc123" || out.Model != "my-gemini" || out.Object != "chat.completion" {
		t.Fatalf("envelope wrong: %+v", out)
	}
	if len(out.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(out.Choices))
	}

	choice := out.Choices[0]
	if choice.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", choice.FinishReason)
	}
	if choice.Message.Content == nil || *choice.Message.Content != "The sum is 3." {
		t.Errorf("text parts should concatenate: %+v", choice.Message.Content)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(choice.Message.ToolCalls))
	}
	call := choice.Message.ToolCalls[0]
	if call.ID != "gemini-call-0-2" {
		t.Errorf("synthetic id wrong: %q", call.ID)
	}
	if call.Function.Name != "add" || call.Function.Arguments != `{"a": 1, "b": 2}` {
		t.Errorf("function call not carried: %+v", call.Function)
	}

	if resp.InputTokens() != 10 || resp.OutputTokens() != 6 {
		t.Errorf("unexpected usage: %d / %d", resp.InputTokens(), resp.OutputTokens())
	}
	details := out.Usage.CompletionTokensDetails
	if details == nil || details.ReasoningTokens == nil || *details.ReasoningTokens != 2 {
		t.Errorf("thoughts tokens not mapped: %+v", details)
	}
}

func TestGenerateResponse_FinishReasons(t *testing.T) {
	cases := []struct {
		gemini string
		want   string
	}{
		{"STOP", "stop"},
		{"MAX_TOKENS", "length"},
		{"SAFETY", "content_filter"},
		{"RECITATION", "content_filter"},
		{"OTHER", "other"},
	}
	for _, tc := range cases {
		reason := tc.gemini
		resp := GenerateResponse{Candidates: []Candidate{{FinishReason: &reason}}}
		out := resp.ToOpenAI(providers.ResponseContext{})
		if out.Choices[0].FinishReason != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.gemini, tc.want, out.Choices[0].FinishReason)
		}
	}
}

func TestGenerateResponse_UsageFallbacks(t *testing.T) {
	// Missing total falls back to the sum of the parts.
	prompt, cands := int64(7), int64(5)
	resp := GenerateResponse{UsageMetadata: &UsageMetadata{
		PromptTokenCount:     &prompt,
		CandidatesTokenCount: &cands,
	}}
	out := resp.ToOpenAI(providers.ResponseContext{})
	if out.Usage.TotalTokens != 12 {
		t.Errorf("expected total 12, got %d", out.Usage.TotalTokens)
	}

	// No usage block at all reports zeros.
	empty := GenerateResponse{}
	if empty.InputTokens() != 0 || empty.OutputTokens() != 0 {
		t.Errorf("expected zero usage, got %d / %d", empty.InputTokens(), empty.OutputTokens())
	}
}
