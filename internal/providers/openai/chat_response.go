package openai

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// ChatResponse is the canonical chat completions response body.
type ChatResponse struct {
	ID                string       `json:"id"`
	Choices           []Choice     `json:"choices"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	SystemFingerprint *string      `json:"system_fingerprint,omitempty"`
	Object            string       `json:"object"`
	Usage             Usage        `json:"usage"`
	ServiceTier       *ServiceTier `json:"service_tier,omitempty"`
}

// ToSelf restores the model the client asked for; nothing else changes.
func (r ChatResponse) ToSelf(ctx providers.ResponseContext) ChatResponse {
	out := r
	out.Model = providers.RestoredModel(r.Model, ctx)
	return out
}

// InputTokens implements providers.UsageReporter.
func (r ChatResponse) InputTokens() int64 { return r.Usage.PromptTokens }

// OutputTokens implements providers.UsageReporter.
func (r ChatResponse) OutputTokens() int64 { return r.Usage.CompletionTokens }

// Choice is one generated completion.
type Choice struct {
	FinishReason string        `json:"finish_reason"`
	Index        int64         `json:"index"`
	Message      ChoiceMessage `json:"message"`
	Logprobs     *Logprobs     `json:"logprobs"`
}

// ChoiceMessage is the assistant message inside a choice.
type ChoiceMessage struct {
	Content      *string          `json:"content"`
	Refusal      *string          `json:"refusal,omitempty"`
	Role         string           `json:"role"`
	ToolCalls    []ToolCall       `json:"tool_calls,omitempty"`
	Annotations  []Annotation     `json:"annotations,omitempty"`
	Audio        *AudioOutput     `json:"audio,omitempty"`
	FunctionCall *FunctionCallRef `json:"function_call,omitempty"`
}

// AudioOutput is an audio completion payload.
type AudioOutput struct {
	ID         string `json:"id"`
	ExpiresAt  int64  `json:"expires_at"`
	Data       string `json:"data"`
	Transcript string `json:"transcript"`
}

// Annotation is a message annotation. Only URL citations exist today.
type Annotation struct {
	URLCitation URLCitation
}

type URLCitation struct {
	StartIndex int64  `json:"start_index"`
	EndIndex   int64  `json:"end_index"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

func (a *Annotation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string      `json:"type"`
		URLCitation URLCitation `json:"url_citation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "url_citation" {
		return fmt.Errorf("annotations: unknown type %q", raw.Type)
	}
	a.URLCitation = raw.URLCitation
	return nil
}

func (a Annotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string      `json:"type"`
		URLCitation URLCitation `json:"url_citation"`
	}{"url_citation", a.URLCitation})
}

// Logprobs carries per-token log probabilities for a choice.
type Logprobs struct {
	Content []TokenLogprob `json:"content"`
	Refusal []TokenLogprob `json:"refusal"`
}

type TokenLogprob struct {
	Token       string       `json:"token"`
	Logprob     float64      `json:"logprob"`
	Bytes       []int64      `json:"bytes"`
	TopLogprobs []TopLogprob `json:"top_logprobs"`
}

type TopLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
	Bytes   []int64 `json:"bytes"`
}

// Usage is the canonical token accounting block.
type Usage struct {
	CompletionTokens        int64                    `json:"completion_tokens"`
	PromptTokens            int64                    `json:"prompt_tokens"`
	TotalTokens             int64                    `json:"total_tokens"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
}

type CompletionTokensDetails struct {
	AcceptedPredictionTokens *int64 `json:"accepted_prediction_tokens,omitempty"`
	AudioTokens              *int64 `json:"audio_tokens,omitempty"`
	ReasoningTokens          *int64 `json:"reasoning_tokens,omitempty"`
	RejectedPredictionTokens *int64 `json:"rejected_prediction_tokens,omitempty"`
}

type PromptTokensDetails struct {
	AudioTokens  *int64 `json:"audio_tokens,omitempty"`
	CachedTokens *int64 `json:"cached_tokens,omitempty"`
}
