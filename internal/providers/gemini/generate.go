package gemini

import (
	"encoding/json"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// GenerateRequest is the generateContent request body. The target model
// lives in the URL, not the payload.
type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	CachedContent     *string           `json:"cachedContent,omitempty"`
}

// Content is a conversation turn. Gemini knows only "user" and "model"
// roles.
type Content struct {
	Role  *string `json:"role,omitempty"`
	Parts []Part  `json:"parts"`
}

// Part is a content fragment. Exactly one field is set.
type Part struct {
	Text                *string           `json:"text,omitempty"`
	InlineData          *Blob             `json:"inlineData,omitempty"`
	FileData            *FileData         `json:"fileData,omitempty"`
	FunctionCall        *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse    *FunctionResponse `json:"functionResponse,omitempty"`
	ExecutableCode      json.RawMessage   `json:"executableCode,omitempty"`
	CodeExecutionResult json.RawMessage   `json:"codeExecutionResult,omitempty"`
}

type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type Tool struct {
	FunctionDeclarations  []FunctionDeclaration `json:"functionDeclarations,omitempty"`
	CodeExecution         json.RawMessage       `json:"codeExecution,omitempty"`
	GoogleSearch          json.RawMessage       `json:"googleSearch,omitempty"`
	GoogleSearchRetrieval json.RawMessage       `json:"googleSearchRetrieval,omitempty"`
}

type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
	CodeExecutionConfig   json.RawMessage        `json:"codeExecutionConfig,omitempty"`
}

type FunctionCallingConfig struct {
	Mode                 *FunctionCallingMode `json:"mode,omitempty"`
	AllowedFunctionNames []string             `json:"allowedFunctionNames,omitempty"`
}

type FunctionCallingMode string

const (
	ModeUnspecified FunctionCallingMode = "MODE_UNSPECIFIED"
	ModeAuto        FunctionCallingMode = "AUTO"
	ModeAny         FunctionCallingMode = "ANY"
	ModeNone        FunctionCallingMode = "NONE"
)

func (v *FunctionCallingMode) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "functionCallingConfig.mode",
		ModeUnspecified, ModeAuto, ModeAny, ModeNone)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type SafetySetting struct {
	Category  HarmCategory       `json:"category"`
	Threshold HarmBlockThreshold `json:"threshold"`
}

type HarmCategory string

const (
	HarmCategoryUnspecified      HarmCategory = "HARM_CATEGORY_UNSPECIFIED"
	HarmCategoryDerogatory       HarmCategory = "HARM_CATEGORY_DEROGATORY"
	HarmCategoryToxicity         HarmCategory = "HARM_CATEGORY_TOXICITY"
	HarmCategoryViolence         HarmCategory = "HARM_CATEGORY_VIOLENCE"
	HarmCategorySexual           HarmCategory = "HARM_CATEGORY_SEXUAL"
	HarmCategoryMedical          HarmCategory = "HARM_CATEGORY_MEDICAL"
	HarmCategoryDangerous        HarmCategory = "HARM_CATEGORY_DANGEROUS"
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
	HarmCategoryCivicIntegrity   HarmCategory = "HARM_CATEGORY_CIVIC_INTEGRITY"
)

func (v *HarmCategory) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "safetySettings.category",
		HarmCategoryUnspecified, HarmCategoryDerogatory, HarmCategoryToxicity,
		HarmCategoryViolence, HarmCategorySexual, HarmCategoryMedical,
		HarmCategoryDangerous, HarmCategoryHarassment, HarmCategoryHateSpeech,
		HarmCategorySexuallyExplicit, HarmCategoryDangerousContent, HarmCategoryCivicIntegrity)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type HarmBlockThreshold string

const (
	ThresholdUnspecified      HarmBlockThreshold = "HARM_BLOCK_THRESHOLD_UNSPECIFIED"
	ThresholdBlockLowAndAbove HarmBlockThreshold = "BLOCK_LOW_AND_ABOVE"
	ThresholdBlockMedAndAbove HarmBlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	ThresholdBlockOnlyHigh    HarmBlockThreshold = "BLOCK_ONLY_HIGH"
	ThresholdBlockNone        HarmBlockThreshold = "BLOCK_NONE"
	ThresholdOff              HarmBlockThreshold = "OFF"
)

func (v *HarmBlockThreshold) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "safetySettings.threshold",
		ThresholdUnspecified, ThresholdBlockLowAndAbove, ThresholdBlockMedAndAbove,
		ThresholdBlockOnlyHigh, ThresholdBlockNone, ThresholdOff)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type GenerationConfig struct {
	StopSequences              []string         `json:"stopSequences,omitempty"`
	ResponseMimeType           *string          `json:"responseMimeType,omitempty"`
	ResponseSchema             json.RawMessage  `json:"responseSchema,omitempty"`
	ResponseJSONSchemaProto    json.RawMessage  `json:"_responseJsonSchema,omitempty"`
	ResponseJSONSchema         json.RawMessage  `json:"responseJsonSchema,omitempty"`
	ResponseModalities         []Modality       `json:"responseModalities,omitempty"`
	CandidateCount             *int64           `json:"candidateCount,omitempty"`
	MaxOutputTokens            *int64           `json:"maxOutputTokens,omitempty"`
	Temperature                *float64         `json:"temperature,omitempty"`
	TopP                       *float64         `json:"topP,omitempty"`
	TopK                       *int64           `json:"topK,omitempty"`
	Seed                       *int64           `json:"seed,omitempty"`
	PresencePenalty            *float64         `json:"presencePenalty,omitempty"`
	FrequencyPenalty           *float64         `json:"frequencyPenalty,omitempty"`
	ResponseLogprobs           *bool            `json:"responseLogprobs,omitempty"`
	Logprobs                   *int64           `json:"logprobs,omitempty"`
	EnableEnhancedCivicAnswers *bool            `json:"enableEnhancedCivicAnswers,omitempty"`
	SpeechConfig               json.RawMessage  `json:"speechConfig,omitempty"`
	ThinkingConfig             *ThinkingConfig  `json:"thinkingConfig,omitempty"`
	ImageConfig                *ImageConfig     `json:"imageConfig,omitempty"`
	MediaResolution            *MediaResolution `json:"mediaResolution,omitempty"`
}

type Modality string

const (
	ModalityUnspecified Modality = "MODALITY_UNSPECIFIED"
	ModalityText        Modality = "TEXT"
	ModalityImage       Modality = "IMAGE"
	ModalityAudio       Modality = "AUDIO"
)

func (v *Modality) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "responseModalities",
		ModalityUnspecified, ModalityText, ModalityImage, ModalityAudio)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type ThinkingConfig struct {
	IncludeThoughts *bool          `json:"includeThoughts,omitempty"`
	ThinkingBudget  *int64         `json:"thinkingBudget,omitempty"`
	ThinkingLevel   *ThinkingLevel `json:"thinkingLevel,omitempty"`
}

type ThinkingLevel string

const (
	ThinkingUnspecified ThinkingLevel = "THINKING_LEVEL_UNSPECIFIED"
	ThinkingMinimal     ThinkingLevel = "MINIMAL"
	ThinkingLow         ThinkingLevel = "LOW"
	ThinkingMedium      ThinkingLevel = "MEDIUM"
	ThinkingHigh        ThinkingLevel = "HIGH"
)

func (v *ThinkingLevel) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "thinkingConfig.thinkingLevel",
		ThinkingUnspecified, ThinkingMinimal, ThinkingLow, ThinkingMedium, ThinkingHigh)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type ImageConfig struct {
	AspectRatio *string `json:"aspectRatio,omitempty"`
	ImageSize   *string `json:"imageSize,omitempty"`
}

type MediaResolution string

const (
	MediaResolutionUnspecified MediaResolution = "MEDIA_RESOLUTION_UNSPECIFIED"
	MediaResolutionLow         MediaResolution = "MEDIA_RESOLUTION_LOW"
	MediaResolutionMedium      MediaResolution = "MEDIA_RESOLUTION_MEDIUM"
	MediaResolutionHigh        MediaResolution = "MEDIA_RESOLUTION_HIGH"
)

func (v *MediaResolution) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "mediaResolution",
		MediaResolutionUnspecified, MediaResolutionLow, MediaResolutionMedium, MediaResolutionHigh)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
