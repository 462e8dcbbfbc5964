package openai

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// ChatRequest is the canonical chat completions request body.
type ChatRequest struct {
	Model               string               `json:"model"`
	Messages            []Message            `json:"messages"`
	Audio               *Audio               `json:"audio,omitempty"`
	N                   *int64               `json:"n,omitempty"`
	FrequencyPenalty    *float64             `json:"frequency_penalty,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	Logprobs            *bool                `json:"logprobs,omitempty"`
	TopLogprobs         *int64               `json:"top_logprobs,omitempty"`
	MaxCompletionTokens *int64               `json:"max_completion_tokens,omitempty"`
	MaxTokens           *int64               `json:"max_tokens,omitempty"`
	PresencePenalty     *float64             `json:"presence_penalty,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`
	Stream              *bool                `json:"stream,omitempty"`
	StreamOptions       *StreamOptions       `json:"stream_options,omitempty"`
	Stop                *Stop                `json:"stop,omitempty"`
	Seed                *int64               `json:"seed,omitempty"`
	ResponseFormat      *ResponseFormat      `json:"response_format,omitempty"`
	LogitBias           map[string]int32     `json:"logit_bias,omitempty"`
	Tools               []Tool               `json:"tools,omitempty"`
	ToolChoice          *ToolChoice          `json:"tool_choice,omitempty"`
	ServiceTier         *ServiceTier         `json:"service_tier,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
	Modalities          []Modality           `json:"modalities,omitempty"`
	ParallelToolCalls   *bool                `json:"parallel_tool_calls,omitempty"`
	Prediction          *Prediction          `json:"prediction,omitempty"`
	ReasoningEffort     *ReasoningEffort     `json:"reasoning_effort,omitempty"`
	Store               *bool                `json:"store,omitempty"`
	User                *string              `json:"user,omitempty"`
	WebSearchOptions    *WebSearchOptions    `json:"web_search_options,omitempty"`
	FunctionCall        *FunctionCall        `json:"function_call,omitempty"`
	Functions           []FunctionDefinition `json:"functions,omitempty"`
}

// DeploymentName implements providers.DeploymentNamer.
func (r ChatRequest) DeploymentName() string { return r.Model }

// IsStream reports whether the client asked for a streamed response.
func (r ChatRequest) IsStream() bool { return r.Stream != nil && *r.Stream }

// ToSelf applies the connection model override, leaving everything else
// untouched.
func (r ChatRequest) ToSelf(ctx providers.RequestContext) (ChatRequest, providers.RequestLoss) {
	out := r
	out.Model = providers.EffectiveModel(r.Model, ctx)
	return out, providers.RequestLoss{Model: out.Model}
}

// Audio configures audio output for models that support it.
type Audio struct {
	Format AudioFormat `json:"format"`
	Voice  AudioVoice  `json:"voice"`
}

type AudioFormat string

const (
	AudioFormatWav   AudioFormat = "wav"
	AudioFormatAac   AudioFormat = "aac"
	AudioFormatMp3   AudioFormat = "mp3"
	AudioFormatFlac  AudioFormat = "flac"
	AudioFormatOpus  AudioFormat = "opus"
	AudioFormatPcm16 AudioFormat = "pcm16"
)

func (v *AudioFormat) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "audio.format",
		AudioFormatWav, AudioFormatAac, AudioFormatMp3, AudioFormatFlac, AudioFormatOpus, AudioFormatPcm16)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type AudioVoice string

const (
	AudioVoiceAlloy   AudioVoice = "alloy"
	AudioVoiceAsh     AudioVoice = "ash"
	AudioVoiceBallad  AudioVoice = "ballad"
	AudioVoiceCoral   AudioVoice = "coral"
	AudioVoiceEcho    AudioVoice = "echo"
	AudioVoiceFable   AudioVoice = "fable"
	AudioVoiceNova    AudioVoice = "nova"
	AudioVoiceOnyx    AudioVoice = "onyx"
	AudioVoiceSage    AudioVoice = "sage"
	AudioVoiceShimmer AudioVoice = "shimmer"
)

func (v *AudioVoice) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "audio.voice",
		AudioVoiceAlloy, AudioVoiceAsh, AudioVoiceBallad, AudioVoiceCoral, AudioVoiceEcho,
		AudioVoiceFable, AudioVoiceNova, AudioVoiceOnyx, AudioVoiceSage, AudioVoiceShimmer)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

func (v *Modality) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "modalities", ModalityText, ModalityAudio)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

func (v *ReasoningEffort) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "reasoning_effort",
		ReasoningEffortLow, ReasoningEffortMedium, ReasoningEffortHigh)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// StreamOptions tunes streamed responses.
type StreamOptions struct {
	IncludeUsage *bool `json:"include_usage,omitempty"`
}

// Stop is a stop-sequence union: a single string or up to four strings.
type Stop struct {
	Text      *string
	Sequences []string
}

func (s *Stop) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		s.Sequences = nil
		return json.Unmarshal(data, &s.Text)
	case '[':
		s.Text = nil
		return json.Unmarshal(data, &s.Sequences)
	}
	return fmt.Errorf("stop: expected string or array")
}

func (s Stop) MarshalJSON() ([]byte, error) {
	if s.Text != nil {
		return json.Marshal(*s.Text)
	}
	return json.Marshal(s.Sequences)
}

// ResponseFormat selects the output format: plain text, loose JSON, or JSON
// constrained by a schema.
type ResponseFormat struct {
	Type       ResponseFormatType
	JSONSchema *ResponseJSONSchema
}

type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

type ResponseJSONSchema struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Strict      *bool           `json:"strict"`
}

func (f *ResponseFormat) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       ResponseFormatType  `json:"type"`
		JSONSchema *ResponseJSONSchema `json:"json_schema"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case ResponseFormatText, ResponseFormatJSONObject:
		f.Type = raw.Type
		f.JSONSchema = nil
		return nil
	case ResponseFormatJSONSchema:
		if raw.JSONSchema == nil {
			return fmt.Errorf("response_format: missing json_schema")
		}
		f.Type = raw.Type
		f.JSONSchema = raw.JSONSchema
		return nil
	}
	return fmt.Errorf("response_format: unknown type %q", raw.Type)
}

func (f ResponseFormat) MarshalJSON() ([]byte, error) {
	if f.Type == ResponseFormatJSONSchema {
		return json.Marshal(struct {
			Type       ResponseFormatType  `json:"type"`
			JSONSchema *ResponseJSONSchema `json:"json_schema"`
		}{f.Type, f.JSONSchema})
	}
	return json.Marshal(struct {
		Type ResponseFormatType `json:"type"`
	}{f.Type})
}

// Tool declares a callable tool. Only function tools exist in the canonical
// schema.
type Tool struct {
	Function ToolFunction
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
}

func (t *Tool) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string       `json:"type"`
		Function ToolFunction `json:"function"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "function" {
		return fmt.Errorf("tools: unknown type %q", raw.Type)
	}
	t.Function = raw.Function
	return nil
}

func (t Tool) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		Function ToolFunction `json:"function"`
	}{"function", t.Function})
}

// ToolChoice is the tool selection union: a mode keyword or a named function.
type ToolChoice struct {
	Mode     *ToolChoiceMode
	Function *ToolChoiceFunction
}

type ToolChoiceMode string

const (
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
)

type ToolChoiceFunction struct {
	Name string `json:"name"`
}

func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		mode, err := providers.DecodeEnum(data, "tool_choice", ToolChoiceNone, ToolChoiceAuto, ToolChoiceRequired)
		if err != nil {
			return err
		}
		c.Mode, c.Function = &mode, nil
		return nil
	case '{':
		var raw struct {
			Type     string              `json:"type"`
			Function *ToolChoiceFunction `json:"function"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw.Type != "function" || raw.Function == nil {
			return fmt.Errorf("tool_choice: unknown type %q", raw.Type)
		}
		c.Mode, c.Function = nil, raw.Function
		return nil
	}
	return fmt.Errorf("tool_choice: expected string or object")
}

func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.Mode != nil {
		return json.Marshal(*c.Mode)
	}
	return json.Marshal(struct {
		Type     string              `json:"type"`
		Function *ToolChoiceFunction `json:"function"`
	}{"function", c.Function})
}

// Prediction carries predicted output content for latency optimization.
type Prediction struct {
	Content PredictionContent
}

type PredictionContent struct {
	Text  *string
	Parts []TextPart
}

func (p *Prediction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    string            `json:"type"`
		Content PredictionContent `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "content" {
		return fmt.Errorf("prediction: unknown type %q", raw.Type)
	}
	p.Content = raw.Content
	return nil
}

func (p Prediction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string            `json:"type"`
		Content PredictionContent `json:"content"`
	}{"content", p.Content})
}

func (c *PredictionContent) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	case '[':
		c.Text = nil
		return json.Unmarshal(data, &c.Parts)
	}
	return fmt.Errorf("prediction.content: expected string or array")
}

func (c PredictionContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Parts)
}

// WebSearchOptions tunes built-in web search.
type WebSearchOptions struct {
	SearchContextSize *SearchContextSize `json:"search_context_size,omitempty"`
	UserLocation      *UserLocation      `json:"user_location,omitempty"`
}

type SearchContextSize string

const (
	SearchContextLow    SearchContextSize = "low"
	SearchContextMedium SearchContextSize = "medium"
	SearchContextHigh   SearchContextSize = "high"
)

func (v *SearchContextSize) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "search_context_size",
		SearchContextLow, SearchContextMedium, SearchContextHigh)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type UserLocation struct {
	Approximate ApproximateLocation
}

type ApproximateLocation struct {
	Country  *string `json:"country,omitempty"`
	Region   *string `json:"region,omitempty"`
	City     *string `json:"city,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

func (l *UserLocation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string              `json:"type"`
		Approximate ApproximateLocation `json:"approximate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "approximate" {
		return fmt.Errorf("user_location: unknown type %q", raw.Type)
	}
	l.Approximate = raw.Approximate
	return nil
}

func (l UserLocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string              `json:"type"`
		Approximate ApproximateLocation `json:"approximate"`
	}{"approximate", l.Approximate})
}

// FunctionCall is the deprecated pre-tools selection union.
type FunctionCall struct {
	Mode     *FunctionCallMode
	Function *FunctionCallOption
}

type FunctionCallMode string

const (
	FunctionCallNone FunctionCallMode = "none"
	FunctionCallAuto FunctionCallMode = "auto"
)

type FunctionCallOption struct {
	Name string `json:"name"`
}

func (c *FunctionCall) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		mode, err := providers.DecodeEnum(data, "function_call", FunctionCallNone, FunctionCallAuto)
		if err != nil {
			return err
		}
		c.Mode, c.Function = &mode, nil
		return nil
	case '{':
		c.Mode = nil
		c.Function = &FunctionCallOption{}
		return json.Unmarshal(data, c.Function)
	}
	return fmt.Errorf("function_call: expected string or object")
}

func (c FunctionCall) MarshalJSON() ([]byte, error) {
	if c.Mode != nil {
		return json.Marshal(*c.Mode)
	}
	return json.Marshal(c.Function)
}

// FunctionDefinition is a deprecated pre-tools function declaration.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Message is a conversation turn, discriminated by role.
type Message struct {
	System    *SystemMessage
	Developer *DeveloperMessage
	User      *UserMessage
	Assistant *AssistantMessage
	Tool      *ToolMessage
	Function  *FunctionMessage
}

type SystemMessage struct {
	Content TextContent `json:"content"`
	Name    *string     `json:"name,omitempty"`
}

type DeveloperMessage struct {
	Content TextContent `json:"content"`
	Name    *string     `json:"name,omitempty"`
}

type UserMessage struct {
	Content UserContent `json:"content"`
	Name    *string     `json:"name,omitempty"`
}

type AssistantMessage struct {
	Audio        *AssistantAudioRef `json:"audio,omitempty"`
	Content      *AssistantContent  `json:"content,omitempty"`
	Name         *string            `json:"name,omitempty"`
	Refusal      *string            `json:"refusal,omitempty"`
	ToolCalls    []ToolCall         `json:"tool_calls,omitempty"`
	FunctionCall *FunctionCallRef   `json:"function_call,omitempty"`
}

type ToolMessage struct {
	Content    TextContent `json:"content"`
	ToolCallID string      `json:"tool_call_id"`
}

type FunctionMessage struct {
	Content *string `json:"content"`
	Name    string  `json:"name"`
}

// AssistantAudioRef points at a previous audio output.
type AssistantAudioRef struct {
	ID string `json:"id"`
}

// FunctionCallRef is a deprecated assistant function call.
type FunctionCallRef struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var probe struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*m = Message{}
	switch probe.Role {
	case "system":
		m.System = &SystemMessage{}
		return json.Unmarshal(data, m.System)
	case "developer":
		m.Developer = &DeveloperMessage{}
		return json.Unmarshal(data, m.Developer)
	case "user":
		m.User = &UserMessage{}
		return json.Unmarshal(data, m.User)
	case "assistant":
		m.Assistant = &AssistantMessage{}
		return json.Unmarshal(data, m.Assistant)
	case "tool":
		m.Tool = &ToolMessage{}
		return json.Unmarshal(data, m.Tool)
	case "function":
		m.Function = &FunctionMessage{}
		return json.Unmarshal(data, m.Function)
	}
	return fmt.Errorf("messages: unknown role %q", probe.Role)
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch {
	case m.System != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*SystemMessage
		}{"system", m.System})
	case m.Developer != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*DeveloperMessage
		}{"developer", m.Developer})
	case m.User != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*UserMessage
		}{"user", m.User})
	case m.Assistant != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*AssistantMessage
		}{"assistant", m.Assistant})
	case m.Tool != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*ToolMessage
		}{"tool", m.Tool})
	case m.Function != nil:
		return json.Marshal(struct {
			Role string `json:"role"`
			*FunctionMessage
		}{"function", m.Function})
	}
	return nil, fmt.Errorf("messages: empty message")
}

// TextContent is a message body restricted to text: a bare string or a list
// of text parts.
type TextContent struct {
	Text  *string
	Parts []TextPart
}

func (c *TextContent) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	case '[':
		c.Text = nil
		return json.Unmarshal(data, &c.Parts)
	}
	return fmt.Errorf("content: expected string or array")
}

func (c TextContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Parts)
}

// Flatten joins the content into a single string.
func (c TextContent) Flatten() string {
	if c.Text != nil {
		return *c.Text
	}
	out := ""
	for _, p := range c.Parts {
		out += p.Text
	}
	return out
}

// TextPart is a {"type":"text"} content part.
type TextPart struct {
	Text string `json:"text"`
}

func (p *TextPart) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "text" {
		return fmt.Errorf("content: unknown part type %q", raw.Type)
	}
	p.Text = raw.Text
	return nil
}

func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", p.Text})
}

// UserContent is a user message body: a bare string or mixed media parts.
type UserContent struct {
	Text  *string
	Parts []UserPart
}

func (c *UserContent) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	case '[':
		c.Text = nil
		return json.Unmarshal(data, &c.Parts)
	}
	return fmt.Errorf("content: expected string or array")
}

func (c UserContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Parts)
}

// UserPart is one element of a mixed user content array.
type UserPart struct {
	Text       *TextPart
	ImageURL   *ImageURL
	InputAudio *InputAudio
	File       *FileRef
}

func (p *UserPart) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*p = UserPart{}
	switch probe.Type {
	case "text":
		p.Text = &TextPart{}
		return json.Unmarshal(data, p.Text)
	case "image_url":
		var raw struct {
			ImageURL ImageURL `json:"image_url"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		p.ImageURL = &raw.ImageURL
		return nil
	case "input_audio":
		var raw struct {
			InputAudio InputAudio `json:"input_audio"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		p.InputAudio = &raw.InputAudio
		return nil
	case "file":
		var raw struct {
			File FileRef `json:"file"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		p.File = &raw.File
		return nil
	}
	return fmt.Errorf("content: unknown part type %q", probe.Type)
}

func (p UserPart) MarshalJSON() ([]byte, error) {
	switch {
	case p.Text != nil:
		return p.Text.MarshalJSON()
	case p.ImageURL != nil:
		return json.Marshal(struct {
			Type     string    `json:"type"`
			ImageURL *ImageURL `json:"image_url"`
		}{"image_url", p.ImageURL})
	case p.InputAudio != nil:
		return json.Marshal(struct {
			Type       string      `json:"type"`
			InputAudio *InputAudio `json:"input_audio"`
		}{"input_audio", p.InputAudio})
	case p.File != nil:
		return json.Marshal(struct {
			Type string   `json:"type"`
			File *FileRef `json:"file"`
		}{"file", p.File})
	}
	return nil, fmt.Errorf("content: empty user part")
}

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL    string       `json:"url"`
	Detail *ImageDetail `json:"detail,omitempty"`
}

type ImageDetail string

const (
	ImageDetailAuto ImageDetail = "auto"
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
)

func (v *ImageDetail) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "image_url.detail", ImageDetailAuto, ImageDetailLow, ImageDetailHigh)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// InputAudio is inline base64 audio input.
type InputAudio struct {
	Data   string           `json:"data"`
	Format InputAudioFormat `json:"format"`
}

type InputAudioFormat string

const (
	InputAudioWav InputAudioFormat = "wav"
	InputAudioMp3 InputAudioFormat = "mp3"
)

func (v *InputAudioFormat) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "input_audio.format", InputAudioWav, InputAudioMp3)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FileRef attaches a file by id or inline data. The legacy "file_name" key is
// accepted on decode.
type FileRef struct {
	Filename *string `json:"filename,omitempty"`
	FileData *string `json:"file_data,omitempty"`
	FileID   *string `json:"file_id,omitempty"`
}

func (f *FileRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		Filename       *string `json:"filename"`
		LegacyFilename *string `json:"file_name"`
		FileData       *string `json:"file_data"`
		FileID         *string `json:"file_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Filename = raw.Filename
	if f.Filename == nil {
		f.Filename = raw.LegacyFilename
	}
	f.FileData = raw.FileData
	f.FileID = raw.FileID
	return nil
}

// AssistantContent is an assistant message body: a bare string or text and
// refusal parts.
type AssistantContent struct {
	Text  *string
	Parts []AssistantPart
}

func (c *AssistantContent) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	case '[':
		c.Text = nil
		return json.Unmarshal(data, &c.Parts)
	}
	return fmt.Errorf("content: expected string or array")
}

func (c AssistantContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Parts)
}

// AssistantPart is one element of an assistant content array.
type AssistantPart struct {
	Text    *TextPart
	Refusal *RefusalPart
}

// RefusalPart is a {"type":"refusal"} content part.
type RefusalPart struct {
	Text string `json:"text"`
}

func (p *AssistantPart) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*p = AssistantPart{}
	switch probe.Type {
	case "text":
		p.Text = &TextPart{Text: probe.Text}
		return nil
	case "refusal":
		p.Refusal = &RefusalPart{Text: probe.Text}
		return nil
	}
	return fmt.Errorf("content: unknown part type %q", probe.Type)
}

func (p AssistantPart) MarshalJSON() ([]byte, error) {
	switch {
	case p.Text != nil:
		return p.Text.MarshalJSON()
	case p.Refusal != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"refusal", p.Refusal.Text})
	}
	return nil, fmt.Errorf("content: empty assistant part")
}

// ToolCall is an assistant function tool call.
type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (t *ToolCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string           `json:"type"`
		ID       string           `json:"id"`
		Function ToolCallFunction `json:"function"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "function" {
		return fmt.Errorf("tool_calls: unknown type %q", raw.Type)
	}
	t.ID = raw.ID
	t.Function = raw.Function
	return nil
}

func (t ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string           `json:"type"`
		ID       string           `json:"id"`
		Function ToolCallFunction `json:"function"`
	}{"function", t.ID, t.Function})
}
