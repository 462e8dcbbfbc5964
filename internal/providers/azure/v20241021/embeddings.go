package v20241021

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// EmbeddingsRequest is the embeddings request body.
type EmbeddingsRequest struct {
	Input          EmbeddingsInput        `json:"input"`
	User           *string                `json:"user,omitempty"`
	InputType      *string                `json:"input_type,omitempty"`
	EncodingFormat *openai.EncodingFormat `json:"encoding_format,omitempty"`
	Dimensions     *int64                 `json:"dimensions,omitempty"`
}

// EmbeddingsContext carries connection settings applied during conversion.
type EmbeddingsContext struct {
	Model     *string
	InputType *string
}

// FromEmbeddingsRequest converts a canonical request. Token inputs have no
// Azure shape; the gateway rejects them before conversion, so they map to a
// null input here.
func FromEmbeddingsRequest(src openai.EmbeddingsRequest, ctx EmbeddingsContext) (EmbeddingsRequest, providers.RequestLoss) {
	input := EmbeddingsInput{Null: true}
	switch {
	case src.Input.Text != nil:
		input = EmbeddingsInput{Text: src.Input.Text}
	case src.Input.Texts != nil:
		input = EmbeddingsInput{Texts: src.Input.Texts}
	}

	model := src.Model
	if ctx.Model != nil {
		model = *ctx.Model
	}

	return EmbeddingsRequest{
		Input:          input,
		User:           src.User,
		InputType:      ctx.InputType,
		EncodingFormat: src.EncodingFormat,
		Dimensions:     src.Dimensions,
	}, providers.RequestLoss{Model: model}
}

// EmbeddingsInput is the embeddings input union: a string, a list of
// strings, or null.
type EmbeddingsInput struct {
	Text  *string
	Texts []string
	Null  bool
}

func (i *EmbeddingsInput) UnmarshalJSON(data []byte) error {
	*i = EmbeddingsInput{}
	switch providers.FirstJSONByte(data) {
	case '"':
		return json.Unmarshal(data, &i.Text)
	case '[':
		return json.Unmarshal(data, &i.Texts)
	case 'n':
		i.Null = true
		return nil
	}
	return fmt.Errorf("input: expected string, string array, or null")
}

func (i EmbeddingsInput) MarshalJSON() ([]byte, error) {
	switch {
	case i.Text != nil:
		return json.Marshal(*i.Text)
	case i.Texts != nil:
		return json.Marshal(i.Texts)
	}
	return []byte("null"), nil
}

// EmbeddingsResponse is the embeddings response body.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []Embedding     `json:"data"`
	Usage  EmbeddingsUsage `json:"usage"`
}

type Embedding struct {
	Index     int64     `json:"index"`
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
}

type EmbeddingsUsage struct {
	PromptTokens int64 `json:"prompt_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ToOpenAI converts to the canonical response.
func (r EmbeddingsResponse) ToOpenAI(ctx providers.ResponseContext) openai.EmbeddingsResponse {
	data := make([]openai.Embedding, 0, len(r.Data))
	for _, d := range r.Data {
		data = append(data, openai.Embedding{
			Embedding: d.Embedding,
			Index:     d.Index,
			Object:    d.Object,
		})
	}
	return openai.EmbeddingsResponse{
		Object: r.Object,
		Data:   data,
		Model:  providers.RestoredModel(r.Model, ctx),
		Usage: openai.EmbeddingsUsage{
			PromptTokens: r.Usage.PromptTokens,
			TotalTokens:  r.Usage.TotalTokens,
		},
	}
}

// InputTokens implements providers.UsageReporter.
func (r EmbeddingsResponse) InputTokens() int64 { return r.Usage.PromptTokens }

// OutputTokens implements providers.UsageReporter. Embeddings produce no
// completion tokens.
func (r EmbeddingsResponse) OutputTokens() int64 { return 0 }
