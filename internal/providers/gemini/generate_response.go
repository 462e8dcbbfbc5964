package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// GenerateResponse is the generateContent response body.
type GenerateResponse struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   *string         `json:"modelVersion,omitempty"`
	ResponseID     *string         `json:"responseId,omitempty"`
	ModelStatus    *ModelStatus    `json:"modelStatus,omitempty"`
}

type Candidate struct {
	Content               *Content            `json:"content,omitempty"`
	FinishReason          *string             `json:"finishReason,omitempty"`
	SafetyRatings         []SafetyRating      `json:"safetyRatings,omitempty"`
	CitationMetadata      *CitationMetadata   `json:"citationMetadata,omitempty"`
	TokenCount            *int64              `json:"tokenCount,omitempty"`
	GroundingAttributions json.RawMessage     `json:"groundingAttributions,omitempty"`
	GroundingMetadata     *GroundingMetadata  `json:"groundingMetadata,omitempty"`
	AvgLogprobs           *float64            `json:"avgLogprobs,omitempty"`
	LogprobsResult        *LogprobsResult     `json:"logprobsResult,omitempty"`
	URLContextMetadata    *URLContextMetadata `json:"urlContextMetadata,omitempty"`
	Index                 *int64              `json:"index,omitempty"`
	FinishMessage         *string             `json:"finishMessage,omitempty"`
}

type PromptFeedback struct {
	BlockReason   *string        `json:"blockReason,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     *bool  `json:"blocked,omitempty"`
}

type CitationMetadata struct {
	CitationSources []CitationSource `json:"citationSources,omitempty"`
}

type CitationSource struct {
	StartIndex *int64  `json:"startIndex,omitempty"`
	EndIndex   *int64  `json:"endIndex,omitempty"`
	URI        *string `json:"uri,omitempty"`
	License    *string `json:"license,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks              []GroundingChunk  `json:"groundingChunks,omitempty"`
	GroundingSupports            json.RawMessage   `json:"groundingSupports,omitempty"`
	WebSearchQueries             []string          `json:"webSearchQueries,omitempty"`
	SearchEntryPoint             *SearchEntryPoint `json:"searchEntryPoint,omitempty"`
	RetrievalMetadata            json.RawMessage   `json:"retrievalMetadata,omitempty"`
	GoogleMapsWidgetContextToken *string           `json:"googleMapsWidgetContextToken,omitempty"`
}

type GroundingChunk struct {
	Web              *WebSource      `json:"web,omitempty"`
	RetrievedContext json.RawMessage `json:"retrievedContext,omitempty"`
	Maps             json.RawMessage `json:"maps,omitempty"`
}

type WebSource struct {
	URI   *string `json:"uri,omitempty"`
	Title *string `json:"title,omitempty"`
}

type SearchEntryPoint struct {
	RenderedContent *string `json:"renderedContent,omitempty"`
	SDKBlob         *string `json:"sdkBlob,omitempty"`
}

type LogprobsResult struct {
	TopCandidates     json.RawMessage `json:"topCandidates,omitempty"`
	ChosenCandidates  json.RawMessage `json:"chosenCandidates,omitempty"`
	LogProbabilitySum *float64        `json:"logProbabilitySum,omitempty"`
}

type URLContextMetadata struct {
	URLMetadata []URLMetadata `json:"urlMetadata,omitempty"`
}

type URLMetadata struct {
	RetrievedURL       *string `json:"retrievedUrl,omitempty"`
	URLRetrievalStatus *string `json:"urlRetrievalStatus,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount           *int64          `json:"promptTokenCount,omitempty"`
	CachedContentTokenCount    *int64          `json:"cachedContentTokenCount,omitempty"`
	CandidatesTokenCount       *int64          `json:"candidatesTokenCount,omitempty"`
	ToolUsePromptTokenCount    *int64          `json:"toolUsePromptTokenCount,omitempty"`
	ThoughtsTokenCount         *int64          `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount            *int64          `json:"totalTokenCount,omitempty"`
	PromptTokensDetails        []ModalityCount `json:"promptTokensDetails,omitempty"`
	CacheTokensDetails         []ModalityCount `json:"cacheTokensDetails,omitempty"`
	CandidatesTokensDetails    []ModalityCount `json:"candidatesTokensDetails,omitempty"`
	ToolUsePromptTokensDetails []ModalityCount `json:"toolUsePromptTokensDetails,omitempty"`
}

type ModalityCount struct {
	Modality   *string `json:"modality,omitempty"`
	TokenCount *int64  `json:"tokenCount,omitempty"`
}

type ModelStatus struct {
	ModelStage     *string `json:"modelStage,omitempty"`
	RetirementTime *string `json:"retirementTime,omitempty"`
	Message        *string `json:"message,omitempty"`
}

// ToOpenAI converts to the canonical chat response. Text parts concatenate
// into the message content, function call parts become tool calls with
// synthetic ids, and safety ratings, citations, and grounding have no
// canonical shape and are dropped. Gemini reports no creation time, so
// created stays zero.
func (r GenerateResponse) ToOpenAI(ctx providers.ResponseContext) openai.ChatResponse {
	choices := make([]openai.Choice, 0, len(r.Candidates))
	for ci, cand := range r.Candidates {
		finish := "stop"
		if cand.FinishReason != nil {
			switch *cand.FinishReason {
			case "STOP":
				finish = "stop"
			case "MAX_TOKENS":
				finish = "length"
			case "SAFETY", "RECITATION":
				finish = "content_filter"
			default:
				finish = strings.ToLower(*cand.FinishReason)
			}
		}

		index := int64(ci)
		if cand.Index != nil {
			index = *cand.Index
		}

		text := ""
		var toolCalls []openai.ToolCall
		if cand.Content != nil {
			for pi, p := range cand.Content.Parts {
				if p.Text != nil {
					text += *p.Text
				}
				if p.FunctionCall != nil {
					args := "{}"
					if len(p.FunctionCall.Args) > 0 {
						args = string(p.FunctionCall.Args)
					}
					toolCalls = append(toolCalls, openai.ToolCall{
						ID: fmt.Sprintf("gemini-call-%d-%d", ci, pi),
						Function: openai.ToolCallFunction{
							Name:      p.FunctionCall.Name,
							Arguments: args,
						},
					})
				}
			}
		}
		var content *string
		if text != "" {
			content = &text
		}

		choices = append(choices, openai.Choice{
			FinishReason: finish,
			Index:        index,
			Message: openai.ChoiceMessage{
				Content:   content,
				Role:      "assistant",
				ToolCalls: toolCalls,
			},
		})
	}

	id := "gemini"
	if r.ResponseID != nil {
		id = *r.ResponseID
	}
	model := "gemini"
	if r.ModelVersion != nil {
		model = *r.ModelVersion
	}

	return openai.ChatResponse{
		ID:      id,
		Choices: choices,
		Created: 0,
		Model:   providers.RestoredModel(model, ctx),
		Object:  "chat.completion",
		Usage:   r.usage(),
	}
}

func (r GenerateResponse) usage() openai.Usage {
	um := r.UsageMetadata
	if um == nil {
		return openai.Usage{}
	}
	prompt := valueOr(um.PromptTokenCount)
	candidates := valueOr(um.CandidatesTokenCount)
	total := prompt + candidates
	if um.TotalTokenCount != nil {
		total = *um.TotalTokenCount
	}
	usage := openai.Usage{
		CompletionTokens: candidates,
		PromptTokens:     prompt,
		TotalTokens:      total,
	}
	if um.ThoughtsTokenCount != nil {
		usage.CompletionTokensDetails = &openai.CompletionTokensDetails{
			ReasoningTokens: um.ThoughtsTokenCount,
		}
	}
	if um.CachedContentTokenCount != nil {
		usage.PromptTokensDetails = &openai.PromptTokensDetails{
			CachedTokens: um.CachedContentTokenCount,
		}
	}
	return usage
}

// InputTokens implements providers.UsageReporter.
func (r GenerateResponse) InputTokens() int64 {
	if r.UsageMetadata == nil {
		return 0
	}
	return valueOr(r.UsageMetadata.PromptTokenCount)
}

// OutputTokens implements providers.UsageReporter.
func (r GenerateResponse) OutputTokens() int64 {
	if r.UsageMetadata == nil {
		return 0
	}
	return valueOr(r.UsageMetadata.CandidatesTokenCount)
}

func valueOr(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
