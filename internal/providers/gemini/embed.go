package gemini

import (
	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// EmbedRequest is the embedContent request body.
type EmbedRequest struct {
	Model                *string   `json:"model,omitempty"`
	Content              Content   `json:"content"`
	TaskType             *TaskType `json:"taskType,omitempty"`
	Title                *string   `json:"title,omitempty"`
	OutputDimensionality *int64    `json:"outputDimensionality,omitempty"`
}

type TaskType string

const (
	TaskTypeUnspecified    TaskType = "TASK_TYPE_UNSPECIFIED"
	TaskSemanticSimilarity TaskType = "SEMANTIC_SIMILARITY"
	TaskClassification     TaskType = "CLASSIFICATION"
	TaskClustering         TaskType = "CLUSTERING"
	TaskRetrievalDocument  TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery     TaskType = "RETRIEVAL_QUERY"
	TaskCodeRetrievalQuery TaskType = "CODE_RETRIEVAL_QUERY"
	TaskQuestionAnswering  TaskType = "QUESTION_ANSWERING"
	TaskFactVerification   TaskType = "FACT_VERIFICATION"
)

func (v *TaskType) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "taskType",
		TaskTypeUnspecified, TaskSemanticSimilarity, TaskClassification, TaskClustering,
		TaskRetrievalDocument, TaskRetrievalQuery, TaskCodeRetrievalQuery,
		TaskQuestionAnswering, TaskFactVerification)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromEmbeddingsRequest converts a canonical request. String inputs become
// text parts, dimensions map to outputDimensionality, and the encoding
// format and user fields are dropped. Token inputs have no Gemini shape; the
// gateway rejects them before conversion.
func FromEmbeddingsRequest(src openai.EmbeddingsRequest, ctx providers.RequestContext) (EmbedRequest, providers.RequestLoss) {
	var parts []Part
	switch {
	case src.Input.Text != nil:
		parts = []Part{{Text: src.Input.Text}}
	case src.Input.Texts != nil:
		parts = make([]Part, 0, len(src.Input.Texts))
		for _, t := range src.Input.Texts {
			text := t
			parts = append(parts, Part{Text: &text})
		}
	}

	return EmbedRequest{
		Content:              Content{Parts: parts},
		OutputDimensionality: src.Dimensions,
	}, providers.RequestLoss{Model: providers.EffectiveModel(src.Model, ctx)}
}

// EmbedResponse is the embedContent response body.
type EmbedResponse struct {
	Embedding     *ContentEmbedding  `json:"embedding,omitempty"`
	Embeddings    []ContentEmbedding `json:"embeddings,omitempty"`
	UsageMetadata *EmbedUsage        `json:"usageMetadata,omitempty"`
}

type ContentEmbedding struct {
	Values []float64 `json:"values"`
}

type EmbedUsage struct {
	PromptTokenCount *int64 `json:"promptTokenCount,omitempty"`
	TotalTokenCount  *int64 `json:"totalTokenCount,omitempty"`
}

// ToOpenAI converts to the canonical response. Gemini returns no model name
// here, so the restored model comes entirely from the response context.
func (r EmbedResponse) ToOpenAI(ctx providers.ResponseContext) openai.EmbeddingsResponse {
	data := make([]openai.Embedding, 0, len(r.Embeddings)+1)
	if r.Embedding != nil {
		data = append(data, openai.Embedding{
			Embedding: r.Embedding.Values,
			Index:     int64(len(data)),
			Object:    "embedding",
		})
	}
	for _, e := range r.Embeddings {
		data = append(data, openai.Embedding{
			Embedding: e.Values,
			Index:     int64(len(data)),
			Object:    "embedding",
		})
	}

	prompt := int64(0)
	if r.UsageMetadata != nil {
		prompt = valueOr(r.UsageMetadata.PromptTokenCount)
	}
	total := prompt
	if r.UsageMetadata != nil && r.UsageMetadata.TotalTokenCount != nil {
		total = *r.UsageMetadata.TotalTokenCount
	}

	return openai.EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  providers.RestoredModel("", ctx),
		Usage: openai.EmbeddingsUsage{
			PromptTokens: prompt,
			TotalTokens:  total,
		},
	}
}

// InputTokens implements providers.UsageReporter.
func (r EmbedResponse) InputTokens() int64 {
	if r.UsageMetadata == nil {
		return 0
	}
	return valueOr(r.UsageMetadata.PromptTokenCount)
}

// OutputTokens implements providers.UsageReporter. Embeddings produce no
// completion tokens.
func (r EmbedResponse) OutputTokens() int64 { return 0 }
