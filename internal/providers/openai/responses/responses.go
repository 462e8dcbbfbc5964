// Package responses carries the wire schemas for the Responses API. The
// surface shares its service tier and reasoning effort enums with the chat
// schemas but is otherwise self-contained: its own tool union, item union,
// and content parts, tagged the way the upstream API tags them.
package responses

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// Request is the Responses API request body.
type Request struct {
	Model              string              `json:"model"`
	Input              Input               `json:"input"`
	Include            []Include           `json:"include,omitempty"`
	ParallelToolCalls  *bool               `json:"parallel_tool_calls,omitempty"`
	Store              *bool               `json:"store,omitempty"`
	Stream             *bool               `json:"stream,omitempty"`
	PreviousResponseID *string             `json:"previous_response_id,omitempty"`
	Reasoning          *Reasoning          `json:"reasoning,omitempty"`
	MaxOutputTokens    *int64              `json:"max_output_tokens,omitempty"`
	Instructions       *string             `json:"instructions,omitempty"`
	Text               *TextConfig         `json:"text,omitempty"`
	Tools              []Tool              `json:"tools,omitempty"`
	ToolChoice         *ToolChoice         `json:"tool_choice,omitempty"`
	Truncation         *Truncation         `json:"truncation,omitempty"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
	Temperature        *float64            `json:"temperature,omitempty"`
	TopP               *float64            `json:"top_p,omitempty"`
	User               *string             `json:"user,omitempty"`
	ServiceTier        *openai.ServiceTier `json:"service_tier,omitempty"`
}

// DeploymentName implements providers.DeploymentNamer.
func (r Request) DeploymentName() string { return r.Model }

// IsStream reports whether the client asked for a streamed response.
func (r Request) IsStream() bool { return r.Stream != nil && *r.Stream }

// ToSelf applies the connection model override, leaving everything else
// untouched.
func (r Request) ToSelf(ctx providers.RequestContext) (Request, providers.RequestLoss) {
	out := r
	out.Model = providers.EffectiveModel(r.Model, ctx)
	return out, providers.RequestLoss{Model: out.Model}
}

// Input is the request input union: a bare prompt string or a list of items.
type Input struct {
	Text  *string
	Items []InputItem
}

func (i *Input) UnmarshalJSON(data []byte) error {
	switch providers.FirstJSONByte(data) {
	case '"':
		i.Items = nil
		return json.Unmarshal(data, &i.Text)
	case '[':
		i.Text = nil
		return json.Unmarshal(data, &i.Items)
	}
	return fmt.Errorf("input: expected string or array")
}

func (i Input) MarshalJSON() ([]byte, error) {
	if i.Text != nil {
		return json.Marshal(*i.Text)
	}
	return json.Marshal(i.Items)
}

// Include names extra payload sections to return.
type Include string

const (
	IncludeFileSearchResults Include = "file_search_call.results"
	IncludeInputImageURLs    Include = "message.input_image.image_url"
	IncludeComputerImageURLs Include = "computer_call_output.output.image_url"
)

func (v *Include) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "include",
		IncludeFileSearchResults, IncludeInputImageURLs, IncludeComputerImageURLs)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Reasoning configures reasoning models.
type Reasoning struct {
	Effort          *openai.ReasoningEffort `json:"effort,omitempty"`
	Summary         *SummaryMode            `json:"summary,omitempty"`
	GenerateSummary *SummaryMode            `json:"generate_summary,omitempty"`
}

type SummaryMode string

const (
	SummaryAuto     SummaryMode = "auto"
	SummaryConcise  SummaryMode = "concise"
	SummaryDetailed SummaryMode = "detailed"
)

func (v *SummaryMode) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "reasoning.summary", SummaryAuto, SummaryConcise, SummaryDetailed)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// TextConfig selects the text output format.
type TextConfig struct {
	Format *TextFormat `json:"format,omitempty"`
}

// TextFormat is the format union. Unlike the chat schema, the json_schema
// fields sit inline on the format object.
type TextFormat struct {
	Type       TextFormatType
	JSONSchema *TextJSONSchema
}

type TextFormatType string

const (
	TextFormatText       TextFormatType = "text"
	TextFormatJSONObject TextFormatType = "json_object"
	TextFormatJSONSchema TextFormatType = "json_schema"
)

type TextJSONSchema struct {
	Description *string         `json:"description,omitempty"`
	Name        string          `json:"name"`
	Schema      json.RawMessage `json:"schema"`
	Strict      *bool           `json:"strict,omitempty"`
}

func (f *TextFormat) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type TextFormatType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Type {
	case TextFormatText, TextFormatJSONObject:
		f.Type = probe.Type
		f.JSONSchema = nil
		return nil
	case TextFormatJSONSchema:
		f.Type = probe.Type
		f.JSONSchema = &TextJSONSchema{}
		return json.Unmarshal(data, f.JSONSchema)
	}
	return fmt.Errorf("text.format: unknown type %q", probe.Type)
}

func (f TextFormat) MarshalJSON() ([]byte, error) {
	if f.Type == TextFormatJSONSchema {
		return json.Marshal(struct {
			Type TextFormatType `json:"type"`
			*TextJSONSchema
		}{f.Type, f.JSONSchema})
	}
	return json.Marshal(struct {
		Type TextFormatType `json:"type"`
	}{f.Type})
}

type Truncation string

const (
	TruncationAuto     Truncation = "auto"
	TruncationDisabled Truncation = "disabled"
)

func (v *Truncation) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "truncation", TruncationAuto, TruncationDisabled)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ItemStatus is the lifecycle state shared by conversation items.
type ItemStatus string

const (
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemIncomplete ItemStatus = "incomplete"
)

func (v *ItemStatus) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "status", ItemInProgress, ItemCompleted, ItemIncomplete)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
