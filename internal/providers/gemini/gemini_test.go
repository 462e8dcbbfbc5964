package gemini

import (
	"testing"

	"github.com/nulpointcorp/llmur/internal/providers"
)

func TestRequestURL(t *testing.T) {
	got := RequestURL("https://generativelanguage.googleapis.com", "gemini-2.0-flash", providers.OpChatCompletions)
	want := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	got = RequestURL("https://generativelanguage.googleapis.com/", "text-embedding-004", providers.OpEmbeddings)
	want = "https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSupports(t *testing.T) {
	if !Supports(providers.OpChatCompletions) {
		t.Error("chat completions should be supported")
	}
	if !Supports(providers.OpEmbeddings) {
		t.Error("embeddings should be supported")
	}
	if Supports(providers.OpResponses) {
		t.Error("responses api should not be supported")
	}
}
