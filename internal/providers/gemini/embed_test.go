package gemini

import (
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

func TestFromEmbeddingsRequest(t *testing.T) {
	var src openai.EmbeddingsRequest
	if err := json.Unmarshal([]byte(`{"model":"text-embedding-004","input":["a","b"],"dimensions":128}`), &src); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	out, loss := FromEmbeddingsRequest(src, providers.RequestContext{})
	if loss.Model != "text-embedding-004" {
		t.Fatalf("expected loss model text-embedding-004, got %q", loss.Model)
	}
	if len(out.Content.Parts) != 2 || *out.Content.Parts[0].Text != "a" || *out.Content.Parts[1].Text != "b" {
		t.Fatalf("text list not converted: %+v", out.Content.Parts)
	}
	if out.OutputDimensionality == nil || *out.OutputDimensionality != 128 {
		t.Errorf("dimensions not mapped: %+v", out.OutputDimensionality)
	}

	// The model stays in the URL, not the body.
	body, _ := json.Marshal(out)
	var keys map[string]json.RawMessage
	_ = json.Unmarshal(body, &keys)
	if _, ok := keys["model"]; ok {
		t.Errorf("model should not serialize: %s", body)
	}

	single := `{"model":"text-embedding-004","input":"hello"}`
	if err := json.Unmarshal([]byte(single), &src); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	out, _ = FromEmbeddingsRequest(src, providers.RequestContext{})
	if len(out.Content.Parts) != 1 || *out.Content.Parts[0].Text != "hello" {
		t.Fatalf("single text not converted: %+v", out.Content.Parts)
	}
}

func TestEmbedResponse_ToOpenAI(t *testing.T) {
	raw := `{
		"embedding": {"values": [0.1, 0.2]},
		"usageMetadata": {"promptTokenCount": 4}
	}`
	var resp EmbedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	requested := "my-embedder"
	out := resp.ToOpenAI(providers.ResponseContext{Model: &requested})
	if out.Object != "list" || out.Model != "my-embedder" {
		t.Fatalf("envelope wrong: %+v", out)
	}
	if len(out.Data) != 1 || out.Data[0].Index != 0 || out.Data[0].Object != "embedding" {
		t.Fatalf("data not converted: %+v", out.Data)
	}
	if len(out.Data[0].Embedding) != 2 || out.Data[0].Embedding[1] != 0.2 {
		t.Errorf("values not carried: %+v", out.Data[0].Embedding)
	}
	// Missing total falls back to the prompt count.
	if out.Usage.PromptTokens != 4 || out.Usage.TotalTokens != 4 {
		t.Errorf("unexpected usage: %+v", out.Usage)
	}
	if resp.InputTokens() != 4 || resp.OutputTokens() != 0 {
		t.Errorf("unexpected reporter values: %d / %d", resp.InputTokens(), resp.OutputTokens())
	}
}

func TestEmbedResponse_BatchIndexes(t *testing.T) {
	raw := `{"embeddings": [{"values": [0.1]}, {"values": [0.2]}, {"values": [0.3]}]}`
	var resp EmbedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	out := resp.ToOpenAI(providers.ResponseContext{})
	if len(out.Data) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(out.Data))
	}
	for i, d := range out.Data {
		if d.Index != int64(i) {
			t.Errorf("expected index %d, got %d", i, d.Index)
		}
	}
	// No upstream model and no override leaves the field empty.
	if out.Model != "" {
		t.Errorf("expected empty model, got %q", out.Model)
	}
}
