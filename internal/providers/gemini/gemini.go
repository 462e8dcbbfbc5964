// Package gemini converts requests for Google's Generative Language API
// (v1beta). Gemini speaks camelCase JSON, addresses models through URL verbs
// like models/{model}:generateContent, and has no native chat completions
// shape, so conversions here do real structural work: roles remap, system
// prompts accumulate into a single instruction, and tool calls become
// function call parts.
package gemini

import (
	"strings"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// ProviderName is the friendly name connections use to select this provider.
const ProviderName = "gemini/v1beta"

// Supports reports whether the operation has a Gemini conversion.
func Supports(op providers.Operation) bool {
	return op == providers.OpChatCompletions || op == providers.OpEmbeddings
}

// RequestURL builds the model-method URL for an operation. The model comes
// from the request loss, so connection overrides land in the URL.
func RequestURL(endpoint, model string, op providers.Operation) string {
	verb := ""
	switch op {
	case providers.OpChatCompletions:
		verb = "generateContent"
	case providers.OpEmbeddings:
		verb = "embedContent"
	}
	return strings.TrimRight(endpoint, "/") + "/v1beta/models/" + model + ":" + verb
}
