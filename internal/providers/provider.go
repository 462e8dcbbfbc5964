// Package providers holds the transformation contract shared by the upstream
// schema packages (OpenAI, Azure OpenAI, Gemini).
//
// The canonical wire format is the OpenAI one; every provider package
// implements a pair of conversions per operation: request out of the
// canonical shape, response back into it. Each request conversion returns the
// converted payload together with a RequestLoss naming what the target schema
// could not carry. Response conversions drop nothing that the canonical shape
// models, so they return the payload alone.
package providers

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Operation is a proxied OpenAI-compatible operation.
type Operation string

const (
	OpChatCompletions Operation = "chat/completions"
	OpEmbeddings      Operation = "embeddings"
	OpResponses       Operation = "responses"
)

// RequestContext parameterizes an outbound request conversion. Model, when
// set, replaces the payload's model with the connection's provider-side name
// (an Azure deployment, a Gemini model id, or a pinned OpenAI model).
type RequestContext struct {
	Model *string
}

// ResponseContext parameterizes an inbound response conversion. Model, when
// set, restores the model name the client originally asked for.
type ResponseContext struct {
	Model *string
}

// RequestLoss enumerates what an outbound conversion dropped or replaced.
// Model always carries the provider-facing model after the override is
// applied; URL builders for path-addressed providers (Azure deployments,
// Gemini models) read it from here because the converted body may not have a
// model field at all.
type RequestLoss struct {
	Model string
}

// EffectiveModel applies the context override to the payload model.
func EffectiveModel(payload string, ctx RequestContext) string {
	if ctx.Model != nil {
		return *ctx.Model
	}
	return payload
}

// RestoredModel applies the response-side override to the upstream model.
func RestoredModel(upstream string, ctx ResponseContext) string {
	if ctx.Model != nil {
		return *ctx.Model
	}
	return upstream
}

// UsageReporter exposes token usage from a provider response in canonical
// terms. Embedding responses report zero output tokens.
type UsageReporter interface {
	InputTokens() int64
	OutputTokens() int64
}

// DeploymentNamer exposes the deployment reference a canonical request
// addresses, used to resolve the routing graph before any conversion runs.
type DeploymentNamer interface {
	DeploymentName() string
}

// DecodeEnum unmarshals a JSON string and checks it against the allowed
// values. Unknown values are a decode error so schema drift surfaces at the
// boundary instead of being forwarded upstream.
func DecodeEnum[T ~string](data []byte, field string, allowed ...T) (T, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	v := T(s)
	if !slices.Contains(allowed, v) {
		return "", fmt.Errorf("%s: unknown value %q", field, s)
	}
	return v, nil
}

// FirstJSONByte reports the first byte of the JSON value in data, skipping
// leading whitespace. Used to discriminate untagged unions (string vs array,
// object vs string) the way the wire format implies them.
func FirstJSONByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
