// Package openai defines the canonical OpenAI wire schemas for the chat
// completions, embeddings, and responses operations, plus the identity
// conversions that apply a connection's model override.
//
// These types are the pivot format of the proxy: client requests are decoded
// into them once, converted to a provider variant per attempt, and provider
// responses are converted back before they reach the client. Untagged unions
// (content string|array, stop string|array, the four embeddings input shapes)
// keep their variant through a round trip, and closed enums reject unknown
// values at decode time.
package openai

import (
	"strings"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// ProviderName identifies OpenAI connections in logs and metrics.
const ProviderName = "openai/v1"

// RequestURL composes the upstream URL for an operation against an OpenAI
// endpoint, e.g. https://api.openai.com + chat/completions.
func RequestURL(endpoint string, op providers.Operation) string {
	return strings.TrimRight(endpoint, "/") + "/v1/" + string(op)
}

// ServiceTier selects the processing tier for a request.
type ServiceTier string

const (
	ServiceTierAuto    ServiceTier = "auto"
	ServiceTierDefault ServiceTier = "default"
	ServiceTierFlex    ServiceTier = "flex"
)

func (v *ServiceTier) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "service_tier", ServiceTierAuto, ServiceTierDefault, ServiceTierFlex)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
