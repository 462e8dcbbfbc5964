package responses

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// Tool is the tool union, tagged by type. The two web search tags share one
// shape.
type Tool struct {
	FileSearch               *FileSearchTool
	Function                 *FunctionTool
	WebSearchPreview         *WebSearchPreviewTool
	WebSearchPreview20250311 *WebSearchPreviewTool
	ComputerUsePreview       *ComputerUsePreviewTool
}

func (t *Tool) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*t = Tool{}
	switch probe.Type {
	case "file_search":
		t.FileSearch = &FileSearchTool{}
		return json.Unmarshal(data, t.FileSearch)
	case "function":
		t.Function = &FunctionTool{}
		return json.Unmarshal(data, t.Function)
	case "web_search_preview":
		t.WebSearchPreview = &WebSearchPreviewTool{}
		return json.Unmarshal(data, t.WebSearchPreview)
	case "web_search_preview_2025_03_11":
		t.WebSearchPreview20250311 = &WebSearchPreviewTool{}
		return json.Unmarshal(data, t.WebSearchPreview20250311)
	case "computer_use_preview":
		t.ComputerUsePreview = &ComputerUsePreviewTool{}
		return json.Unmarshal(data, t.ComputerUsePreview)
	}
	return fmt.Errorf("tools: unknown type %q", probe.Type)
}

func (t Tool) MarshalJSON() ([]byte, error) {
	switch {
	case t.FileSearch != nil:
		return tagObject("file_search", t.FileSearch)
	case t.Function != nil:
		return tagObject("function", t.Function)
	case t.WebSearchPreview != nil:
		return tagObject("web_search_preview", t.WebSearchPreview)
	case t.WebSearchPreview20250311 != nil:
		return tagObject("web_search_preview_2025_03_11", t.WebSearchPreview20250311)
	case t.ComputerUsePreview != nil:
		return tagObject("computer_use_preview", t.ComputerUsePreview)
	}
	return nil, fmt.Errorf("tools: empty tool")
}

// tagObject marshals v and splices a "type" discriminator into the object.
func tagObject(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head := []byte(`{"type":` + `"` + tag + `"`)
	if len(body) > 2 {
		head = append(head, ',')
	}
	return append(head, body[1:]...), nil
}

type FileSearchTool struct {
	VectorStoreIDs []string        `json:"vector_store_ids"`
	MaxNumResults  *int64          `json:"max_num_results,omitempty"`
	RankingOptions *RankingOptions `json:"ranking_options,omitempty"`
	Filters        *Filter         `json:"filters,omitempty"`
}

type RankingOptions struct {
	Ranker         *Ranker  `json:"ranker,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
}

type Ranker string

const (
	RankerAuto     Ranker = "auto"
	RankerDefault1 Ranker = "default-2024-11-15"
)

func (v *Ranker) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "ranking_options.ranker", RankerAuto, RankerDefault1)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type FunctionTool struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
}

type WebSearchPreviewTool struct {
	UserLocation      *UserLocation      `json:"user_location,omitempty"`
	SearchContextSize *SearchContextSize `json:"search_context_size,omitempty"`
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

// UserLocation is an approximate location. Here the type tag sits inline on
// the location object rather than wrapping a nested struct.
type UserLocation struct {
	Country  *string `json:"country,omitempty"`
	Region   *string `json:"region,omitempty"`
	City     *string `json:"city,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

func (l *UserLocation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string  `json:"type"`
		Country  *string `json:"country"`
		Region   *string `json:"region"`
		City     *string `json:"city"`
		Timezone *string `json:"timezone"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "approximate" {
		return fmt.Errorf("user_location: unknown type %q", raw.Type)
	}
	l.Country = raw.Country
	l.Region = raw.Region
	l.City = raw.City
	l.Timezone = raw.Timezone
	return nil
}

func (l UserLocation) MarshalJSON() ([]byte, error) {
	type plain UserLocation
	return tagObject("approximate", plain(l))
}

type ComputerUsePreviewTool struct {
	Environment   Environment `json:"environment"`
	DisplayWidth  int64       `json:"display_width"`
	DisplayHeight int64       `json:"display_height"`
}

type Environment string

const (
	EnvironmentWindows Environment = "windows"
	EnvironmentMac     Environment = "mac"
	EnvironmentLinux   Environment = "linux"
	EnvironmentUbuntu  Environment = "ubuntu"
	EnvironmentBrowser Environment = "browser"
)

func (v *Environment) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "environment",
		EnvironmentWindows, EnvironmentMac, EnvironmentLinux, EnvironmentUbuntu, EnvironmentBrowser)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Filter is a file attribute filter: a single comparison or a boolean
// combination of nested filters.
type Filter struct {
	Comparison *Comparison
	Compound   *Compound
}

type Comparison struct {
	Type  ComparisonOp `json:"type"`
	Key   string       `json:"key"`
	Value FilterValue  `json:"value"`
}

type ComparisonOp string

const (
	CompareEq  ComparisonOp = "eq"
	CompareNe  ComparisonOp = "ne"
	CompareGt  ComparisonOp = "gt"
	CompareGte ComparisonOp = "gte"
	CompareLt  ComparisonOp = "lt"
	CompareLte ComparisonOp = "lte"
)

type Compound struct {
	Type    CompoundOp `json:"type"`
	Filters []Filter   `json:"filters"`
}

type CompoundOp string

const (
	CompoundAnd CompoundOp = "and"
	CompoundOr  CompoundOp = "or"
)

func (f *Filter) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*f = Filter{}
	switch ComparisonOp(probe.Type) {
	case CompareEq, CompareNe, CompareGt, CompareGte, CompareLt, CompareLte:
		f.Comparison = &Comparison{}
		return json.Unmarshal(data, f.Comparison)
	}
	switch CompoundOp(probe.Type) {
	case CompoundAnd, CompoundOr:
		f.Compound = &Compound{}
		return json.Unmarshal(data, f.Compound)
	}
	return fmt.Errorf("filters: unknown type %q", probe.Type)
}

func (f Filter) MarshalJSON() ([]byte, error) {
	switch {
	case f.Comparison != nil:
		return json.Marshal(f.Comparison)
	case f.Compound != nil:
		return json.Marshal(f.Compound)
	}
	return nil, fmt.Errorf("filters: empty filter")
}

// FilterValue is a comparison operand: string, number, or boolean.
type FilterValue struct {
	Text   *string
	Number *float64
	Bool   *bool
}

func (v *FilterValue) UnmarshalJSON(data []byte) error {
	*v = FilterValue{}
	switch b := providers.FirstJSONByte(data); {
	case b == '"':
		return json.Unmarshal(data, &v.Text)
	case b == 't' || b == 'f':
		return json.Unmarshal(data, &v.Bool)
	case b == '-' || ('0' <= b && b <= '9'):
		return json.Unmarshal(data, &v.Number)
	}
	return fmt.Errorf("filters: value must be string, number, or boolean")
}

func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Text != nil:
		return json.Marshal(*v.Text)
	case v.Number != nil:
		return json.Marshal(*v.Number)
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	}
	return nil, fmt.Errorf("filters: empty value")
}

// ToolChoice is the tool selection union: a mode keyword, a hosted tool
// type, or a named function.
type ToolChoice struct {
	Mode     *ToolChoiceMode
	Hosted   *HostedTool
	Function *FunctionChoice
}

type ToolChoiceMode string

const (
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
)

type HostedTool struct {
	Type HostedToolType `json:"type"`
}

type HostedToolType string

const (
	HostedFileSearch               HostedToolType = "file_search"
	HostedWebSearchPreview         HostedToolType = "web_search_preview"
	HostedWebSearchPreview20250311 HostedToolType = "web_search_preview_2025_03_11"
	HostedComputerUsePreview       HostedToolType = "computer_use_preview"
)

type FunctionChoice struct {
	Name string `json:"name"`
}

func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	*c = ToolChoice{}
	switch providers.FirstJSONByte(data) {
	case '"':
		mode, err := providers.DecodeEnum(data, "tool_choice", ToolChoiceNone, ToolChoiceAuto, ToolChoiceRequired)
		if err != nil {
			return err
		}
		c.Mode = &mode
		return nil
	case '{':
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if probe.Type == "function" {
			c.Function = &FunctionChoice{}
			return json.Unmarshal(data, c.Function)
		}
		switch HostedToolType(probe.Type) {
		case HostedFileSearch, HostedWebSearchPreview, HostedWebSearchPreview20250311, HostedComputerUsePreview:
			c.Hosted = &HostedTool{Type: HostedToolType(probe.Type)}
			return nil
		}
		return fmt.Errorf("tool_choice: unknown type %q", probe.Type)
	}
	return fmt.Errorf("tool_choice: expected string or object")
}

func (c ToolChoice) MarshalJSON() ([]byte, error) {
	switch {
	case c.Mode != nil:
		return json.Marshal(*c.Mode)
	case c.Hosted != nil:
		return json.Marshal(c.Hosted)
	case c.Function != nil:
		return tagObject("function", c.Function)
	}
	return nil, fmt.Errorf("tool_choice: empty choice")
}
