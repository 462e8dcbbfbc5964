package responses

import (
	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// Response is the Responses API response body. Optional fields serialize as
// null rather than disappearing, matching the upstream wire format.
type Response struct {
	ID                 string              `json:"id"`
	Object             ResponseObject      `json:"object"`
	CreatedAt          int64               `json:"created_at"`
	Status             Status              `json:"status"`
	Error              *ResponseError      `json:"error"`
	IncompleteDetails  *IncompleteDetails  `json:"incomplete_details"`
	Output             []OutputItem        `json:"output"`
	OutputText         *string             `json:"output_text,omitempty"`
	Usage              *Usage              `json:"usage,omitempty"`
	ParallelToolCalls  bool                `json:"parallel_tool_calls"`
	PreviousResponseID *string             `json:"previous_response_id"`
	Model              string              `json:"model"`
	Reasoning          *Reasoning          `json:"reasoning"`
	MaxOutputTokens    *int64              `json:"max_output_tokens"`
	Instructions       *string             `json:"instructions"`
	Text               *TextConfig         `json:"text"`
	Tools              []Tool              `json:"tools"`
	ToolChoice         ToolChoice          `json:"tool_choice"`
	Truncation         *Truncation         `json:"truncation"`
	Metadata           map[string]string   `json:"metadata"`
	Temperature        *float64            `json:"temperature"`
	TopP               *float64            `json:"top_p"`
	User               *string             `json:"user"`
	ServiceTier        *openai.ServiceTier `json:"service_tier,omitempty"`
}

// ToSelf restores the model the client asked for; nothing else changes.
func (r Response) ToSelf(ctx providers.ResponseContext) Response {
	out := r
	out.Model = providers.RestoredModel(r.Model, ctx)
	return out
}

// InputTokens implements providers.UsageReporter.
func (r Response) InputTokens() int64 {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.InputTokens
}

// OutputTokens implements providers.UsageReporter.
func (r Response) OutputTokens() int64 {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.OutputTokens
}

type ResponseObject string

const ObjectResponse ResponseObject = "response"

func (v *ResponseObject) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "object", ObjectResponse)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type Status string

const (
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusInProgress Status = "in_progress"
	StatusIncomplete Status = "incomplete"
)

func (v *Status) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "status",
		StatusCompleted, StatusFailed, StatusInProgress, StatusIncomplete)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type ResponseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type ErrorCode string

const (
	ErrServerError                 ErrorCode = "server_error"
	ErrRateLimitExceeded           ErrorCode = "rate_limit_exceeded"
	ErrInvalidPrompt               ErrorCode = "invalid_prompt"
	ErrVectorStoreTimeout          ErrorCode = "vector_store_timeout"
	ErrInvalidImage                ErrorCode = "invalid_image"
	ErrInvalidImageFormat          ErrorCode = "invalid_image_format"
	ErrInvalidBase64Image          ErrorCode = "invalid_base64_image"
	ErrInvalidImageURL             ErrorCode = "invalid_image_url"
	ErrImageTooLarge               ErrorCode = "image_too_large"
	ErrImageTooSmall               ErrorCode = "image_too_small"
	ErrImageParseError             ErrorCode = "image_parse_error"
	ErrImageContentPolicyViolation ErrorCode = "image_content_policy_violation"
	ErrInvalidImageMode            ErrorCode = "invalid_image_mode"
	ErrImageFileTooLarge           ErrorCode = "image_file_too_large"
	ErrUnsupportedImageMediaType   ErrorCode = "unsupported_image_media_type"
	ErrEmptyImageFile              ErrorCode = "empty_image_file"
	ErrFailedToDownloadImage       ErrorCode = "failed_to_download_image"
	ErrImageFileNotFound           ErrorCode = "image_file_not_found"
)

func (v *ErrorCode) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "error.code",
		ErrServerError, ErrRateLimitExceeded, ErrInvalidPrompt, ErrVectorStoreTimeout,
		ErrInvalidImage, ErrInvalidImageFormat, ErrInvalidBase64Image, ErrInvalidImageURL,
		ErrImageTooLarge, ErrImageTooSmall, ErrImageParseError, ErrImageContentPolicyViolation,
		ErrInvalidImageMode, ErrImageFileTooLarge, ErrUnsupportedImageMediaType,
		ErrEmptyImageFile, ErrFailedToDownloadImage, ErrImageFileNotFound)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// IncompleteDetails explains a truncated response. The legacy "max_tokens"
// reason is accepted on decode.
type IncompleteDetails struct {
	Reason IncompleteReason `json:"reason"`
}

type IncompleteReason string

const (
	IncompleteMaxOutputTokens IncompleteReason = "max_output_tokens"
	IncompleteContentFilter   IncompleteReason = "content_filter"
)

func (v *IncompleteReason) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "incomplete_details.reason",
		IncompleteMaxOutputTokens, IncompleteContentFilter, IncompleteReason("max_tokens"))
	if err != nil {
		return err
	}
	if val == "max_tokens" {
		val = IncompleteMaxOutputTokens
	}
	*v = val
	return nil
}

// Usage is the Responses API token accounting block.
type Usage struct {
	InputTokens         int64               `json:"input_tokens"`
	InputTokensDetails  InputTokensDetails  `json:"input_tokens_details"`
	OutputTokens        int64               `json:"output_tokens"`
	OutputTokensDetails OutputTokensDetails `json:"output_tokens_details"`
	TotalTokens         int64               `json:"total_tokens"`
}

type InputTokensDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
}

type OutputTokensDetails struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}
