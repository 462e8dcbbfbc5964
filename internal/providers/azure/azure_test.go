package azure

import (
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

func TestParseAPIVersion(t *testing.T) {
	v, err := ParseAPIVersion("2024-10-21")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != APIVersion20241021 {
		t.Fatalf("unexpected version %q", v)
	}

	if _, err := ParseAPIVersion("2023-05-15"); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestAPIVersion_Supports(t *testing.T) {
	if !APIVersion20240201.Supports(providers.OpChatCompletions) {
		t.Error("2024-02-01 should support chat completions")
	}
	if APIVersion20240201.Supports(providers.OpEmbeddings) {
		t.Error("2024-02-01 should not support embeddings")
	}
	if !APIVersion20241021.Supports(providers.OpEmbeddings) {
		t.Error("2024-10-21 should support embeddings")
	}
	if APIVersion20241021.Supports(providers.OpResponses) {
		t.Error("no azure version supports the responses api")
	}
}

func TestRequestURL(t *testing.T) {
	got := RequestURL("https://acme.openai.azure.com/", "gpt4-prod", providers.OpChatCompletions, APIVersion20241021)
	want := "https://acme.openai.azure.com/openai/deployments/gpt4-prod/chat/completions?api-version=2024-10-21"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDataSource_KnownTypes(t *testing.T) {
	var d DataSource
	raw := `{"type":"azure_search","parameters":{"endpoint":"https://search.example"}}`
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != DataSourceSearch {
		t.Fatalf("unexpected type %q", d.Type)
	}

	out, _ := json.Marshal(d)
	if string(out) != raw {
		t.Errorf("parameters should pass through untouched: %s", out)
	}

	if err := json.Unmarshal([]byte(`{"type":"pinecone","parameters":{}}`), &d); err == nil {
		t.Fatal("expected error for unknown data source type")
	}
}

func TestUserContentFromOpenAI(t *testing.T) {
	text := "look at this"
	detail := openai.ImageDetailHigh
	src := openai.UserContent{Parts: []openai.UserPart{
		{Text: &openai.TextPart{Text: text}},
		{ImageURL: &openai.ImageURL{URL: "https://example.com/cat.png", Detail: &detail}},
		{InputAudio: &openai.InputAudio{Data: "UklGRg==", Format: openai.InputAudioWav}},
	}}

	got := UserContentFromOpenAI(src)
	if len(got.Parts) != 2 {
		t.Fatalf("expected audio part dropped, got %d parts", len(got.Parts))
	}
	if got.Parts[0].Text == nil || *got.Parts[0].Text != "look at this" {
		t.Errorf("text part not carried: %+v", got.Parts[0])
	}
	// The detail hint has no shape here; only the URL survives.
	if got.Parts[1].ImageURL == nil || *got.Parts[1].ImageURL != "https://example.com/cat.png" {
		t.Errorf("image url not carried: %+v", got.Parts[1])
	}

	plain := "just text"
	if got := UserContentFromOpenAI(openai.UserContent{Text: &plain}); got.Text == nil || *got.Text != "just text" {
		t.Errorf("string content not carried: %+v", got)
	}
}

func TestAssistantText(t *testing.T) {
	if AssistantText(nil) != nil {
		t.Error("nil content should stay nil")
	}

	str := "done"
	if got := AssistantText(&openai.AssistantContent{Text: &str}); got == nil || *got != "done" {
		t.Errorf("string content not carried: %v", got)
	}

	parts := &openai.AssistantContent{Parts: []openai.AssistantPart{
		{Text: &openai.TextPart{Text: "a"}},
		{Refusal: &openai.RefusalPart{Text: "nope"}},
		{Text: &openai.TextPart{Text: "b"}},
	}}
	if got := AssistantText(parts); got == nil || *got != "ab" {
		t.Errorf("expected refusals dropped and text joined, got %v", got)
	}
}
