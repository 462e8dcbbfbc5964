package openai

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// EmbeddingsRequest is the canonical embeddings request body.
type EmbeddingsRequest struct {
	Model          string          `json:"model"`
	Input          EmbeddingsInput `json:"input"`
	Dimensions     *int64          `json:"dimensions,omitempty"`
	EncodingFormat *EncodingFormat `json:"encoding_format,omitempty"`
	User           *string         `json:"user,omitempty"`
}

// DeploymentName implements providers.DeploymentNamer.
func (r EmbeddingsRequest) DeploymentName() string { return r.Model }

// ToSelf applies the connection model override, leaving everything else
// untouched.
func (r EmbeddingsRequest) ToSelf(ctx providers.RequestContext) (EmbeddingsRequest, providers.RequestLoss) {
	out := r
	out.Model = providers.EffectiveModel(r.Model, ctx)
	return out, providers.RequestLoss{Model: out.Model}
}

// EmbeddingsInput is the embeddings input union: a string, a list of strings,
// a token array, or a batch of token arrays.
type EmbeddingsInput struct {
	Text         *string
	Texts        []string
	Tokens       []int64
	TokenBatches [][]int64
}

// HasTokens reports whether the input is pre-tokenized. Token inputs only
// make sense against the tokenizer of the exact target model, so they are
// rejected for connections that point anywhere but OpenAI.
func (i EmbeddingsInput) HasTokens() bool {
	return i.Tokens != nil || i.TokenBatches != nil
}

func (i *EmbeddingsInput) UnmarshalJSON(data []byte) error {
	*i = EmbeddingsInput{}
	switch providers.FirstJSONByte(data) {
	case '"':
		return json.Unmarshal(data, &i.Text)
	case '[':
		switch inner := providers.FirstJSONByte(data[1:]); {
		case inner == '"':
			return json.Unmarshal(data, &i.Texts)
		case inner == '[':
			return json.Unmarshal(data, &i.TokenBatches)
		case inner == ']':
			i.Texts = []string{}
			return nil
		case inner == '-' || ('0' <= inner && inner <= '9'):
			return json.Unmarshal(data, &i.Tokens)
		}
	}
	return fmt.Errorf("input: expected string, string array, or token array")
}

func (i EmbeddingsInput) MarshalJSON() ([]byte, error) {
	switch {
	case i.Text != nil:
		return json.Marshal(*i.Text)
	case i.Texts != nil:
		return json.Marshal(i.Texts)
	case i.Tokens != nil:
		return json.Marshal(i.Tokens)
	case i.TokenBatches != nil:
		return json.Marshal(i.TokenBatches)
	}
	return []byte("null"), nil
}

type EncodingFormat string

const (
	EncodingFloat  EncodingFormat = "float"
	EncodingBase64 EncodingFormat = "base64"
)

func (v *EncodingFormat) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "encoding_format", EncodingFloat, EncodingBase64)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// EmbeddingsResponse is the canonical embeddings response body.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []Embedding     `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingsUsage `json:"usage"`
}

type Embedding struct {
	Embedding []float64 `json:"embedding"`
	Index     int64     `json:"index"`
	Object    string    `json:"object"`
}

type EmbeddingsUsage struct {
	PromptTokens int64 `json:"prompt_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ToSelf restores the model the client asked for; nothing else changes.
func (r EmbeddingsResponse) ToSelf(ctx providers.ResponseContext) EmbeddingsResponse {
	out := r
	out.Model = providers.RestoredModel(r.Model, ctx)
	return out
}

// InputTokens implements providers.UsageReporter.
func (r EmbeddingsResponse) InputTokens() int64 { return r.Usage.PromptTokens }

// OutputTokens implements providers.UsageReporter. Embeddings produce no
// completion tokens.
func (r EmbeddingsResponse) OutputTokens() int64 { return 0 }
