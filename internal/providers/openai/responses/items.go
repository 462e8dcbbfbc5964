package responses

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llmur/internal/providers"
)

// InputItem is one element of the request input array: a role/content
// shorthand, a full item, or a reference to a stored item.
type InputItem struct {
	Message   *EasyMessage
	Item      *Item
	Reference *ItemReference
}

func (it *InputItem) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*it = InputItem{}
	switch probe.Type {
	case "", "message":
		var easy EasyMessage
		if err := json.Unmarshal(data, &easy); err == nil && easy.Role != "" {
			it.Message = &easy
			return nil
		}
		if probe.Type == "message" {
			it.Item = &Item{}
			return json.Unmarshal(data, it.Item)
		}
		if probe.ID != "" {
			it.Reference = &ItemReference{ID: probe.ID}
			return nil
		}
		return fmt.Errorf("input: unrecognized item")
	case "item_reference":
		it.Reference = &ItemReference{}
		return json.Unmarshal(data, it.Reference)
	default:
		it.Item = &Item{}
		return json.Unmarshal(data, it.Item)
	}
}

func (it InputItem) MarshalJSON() ([]byte, error) {
	switch {
	case it.Message != nil:
		return json.Marshal(it.Message)
	case it.Item != nil:
		return json.Marshal(it.Item)
	case it.Reference != nil:
		return json.Marshal(it.Reference)
	}
	return nil, fmt.Errorf("input: empty item")
}

// EasyMessage is the role/content input shorthand.
type EasyMessage struct {
	Role    MessageRole `json:"role"`
	Content EasyContent `json:"content"`
	Type    *string     `json:"type,omitempty"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleDeveloper MessageRole = "developer"
)

func (v *MessageRole) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "role", RoleUser, RoleAssistant, RoleSystem, RoleDeveloper)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// EasyContent is a shorthand message body: a bare string or content parts.
type EasyContent struct {
	Text  *string
	Parts []InputContent
}

func (c *EasyContent) UnmarshalJSON(data []byte) error {
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

func (c EasyContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Parts)
}

// InputContent is an input content part, tagged by type.
type InputContent struct {
	Text  *InputText
	Image *InputImage
	File  *InputFile
}

type InputText struct {
	Text string `json:"text"`
}

type InputImage struct {
	ImageURL *string     `json:"image_url,omitempty"`
	FileID   *string     `json:"file_id,omitempty"`
	Detail   ImageDetail `json:"detail"`
}

type ImageDetail string

const (
	DetailLow  ImageDetail = "low"
	DetailHigh ImageDetail = "high"
	DetailAuto ImageDetail = "auto"
)

func (v *ImageDetail) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "detail", DetailLow, DetailHigh, DetailAuto)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type InputFile struct {
	FileID   *string `json:"file_id,omitempty"`
	Filename *string `json:"filename,omitempty"`
	FileData *string `json:"file_data,omitempty"`
}

func (c *InputContent) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*c = InputContent{}
	switch probe.Type {
	case "input_text":
		c.Text = &InputText{}
		return json.Unmarshal(data, c.Text)
	case "input_image":
		c.Image = &InputImage{}
		return json.Unmarshal(data, c.Image)
	case "input_file":
		c.File = &InputFile{}
		return json.Unmarshal(data, c.File)
	}
	return fmt.Errorf("content: unknown part type %q", probe.Type)
}

func (c InputContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Text != nil:
		return tagObject("input_text", c.Text)
	case c.Image != nil:
		return tagObject("input_image", c.Image)
	case c.File != nil:
		return tagObject("input_file", c.File)
	}
	return nil, fmt.Errorf("content: empty part")
}

// ItemReference points at a stored conversation item by id.
type ItemReference struct {
	Type *string `json:"type,omitempty"`
	ID   string  `json:"id"`
}

// Item is a full conversation item, tagged by type.
type Item struct {
	Message            *OutputMessage
	FileSearchCall     *FileSearchCall
	FunctionCall       *FunctionCall
	FunctionCallOutput *FunctionCallOutput
	WebSearchCall      *WebSearchCall
	ComputerCall       *ComputerCall
	ComputerCallOutput *ComputerCallOutput
	Reasoning          *ReasoningItem
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*it = Item{}
	switch probe.Type {
	case "message":
		it.Message = &OutputMessage{}
		return json.Unmarshal(data, it.Message)
	case "file_search_call":
		it.FileSearchCall = &FileSearchCall{}
		return json.Unmarshal(data, it.FileSearchCall)
	case "function_call":
		it.FunctionCall = &FunctionCall{}
		return json.Unmarshal(data, it.FunctionCall)
	case "function_call_output":
		it.FunctionCallOutput = &FunctionCallOutput{}
		return json.Unmarshal(data, it.FunctionCallOutput)
	case "web_search_call":
		it.WebSearchCall = &WebSearchCall{}
		return json.Unmarshal(data, it.WebSearchCall)
	case "computer_call":
		it.ComputerCall = &ComputerCall{}
		return json.Unmarshal(data, it.ComputerCall)
	case "computer_call_output":
		it.ComputerCallOutput = &ComputerCallOutput{}
		return json.Unmarshal(data, it.ComputerCallOutput)
	case "reasoning":
		it.Reasoning = &ReasoningItem{}
		return json.Unmarshal(data, it.Reasoning)
	}
	return fmt.Errorf("input: unknown item type %q", probe.Type)
}

func (it Item) MarshalJSON() ([]byte, error) {
	switch {
	case it.Message != nil:
		return tagObject("message", it.Message)
	case it.FileSearchCall != nil:
		return tagObject("file_search_call", it.FileSearchCall)
	case it.FunctionCall != nil:
		return tagObject("function_call", it.FunctionCall)
	case it.FunctionCallOutput != nil:
		return tagObject("function_call_output", it.FunctionCallOutput)
	case it.WebSearchCall != nil:
		return tagObject("web_search_call", it.WebSearchCall)
	case it.ComputerCall != nil:
		return tagObject("computer_call", it.ComputerCall)
	case it.ComputerCallOutput != nil:
		return tagObject("computer_call_output", it.ComputerCallOutput)
	case it.Reasoning != nil:
		return tagObject("reasoning", it.Reasoning)
	}
	return nil, fmt.Errorf("input: empty item")
}

// OutputItem is one element of the response output array. Call outputs never
// appear here, so the union is narrower than Item.
type OutputItem struct {
	Message        *OutputMessage
	FileSearchCall *FileSearchCall
	FunctionCall   *FunctionCall
	WebSearchCall  *WebSearchCall
	ComputerCall   *ComputerCall
	Reasoning      *ReasoningItem
}

func (it *OutputItem) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*it = OutputItem{}
	switch probe.Type {
	case "message":
		it.Message = &OutputMessage{}
		return json.Unmarshal(data, it.Message)
	case "file_search_call":
		it.FileSearchCall = &FileSearchCall{}
		return json.Unmarshal(data, it.FileSearchCall)
	case "function_call":
		it.FunctionCall = &FunctionCall{}
		return json.Unmarshal(data, it.FunctionCall)
	case "web_search_call":
		it.WebSearchCall = &WebSearchCall{}
		return json.Unmarshal(data, it.WebSearchCall)
	case "computer_call":
		it.ComputerCall = &ComputerCall{}
		return json.Unmarshal(data, it.ComputerCall)
	case "reasoning":
		it.Reasoning = &ReasoningItem{}
		return json.Unmarshal(data, it.Reasoning)
	}
	return fmt.Errorf("output: unknown item type %q", probe.Type)
}

func (it OutputItem) MarshalJSON() ([]byte, error) {
	switch {
	case it.Message != nil:
		return tagObject("message", it.Message)
	case it.FileSearchCall != nil:
		return tagObject("file_search_call", it.FileSearchCall)
	case it.FunctionCall != nil:
		return tagObject("function_call", it.FunctionCall)
	case it.WebSearchCall != nil:
		return tagObject("web_search_call", it.WebSearchCall)
	case it.ComputerCall != nil:
		return tagObject("computer_call", it.ComputerCall)
	case it.Reasoning != nil:
		return tagObject("reasoning", it.Reasoning)
	}
	return nil, fmt.Errorf("output: empty item")
}

// OutputMessage is a full assistant message item.
type OutputMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content []OutputContent `json:"content"`
	Status  ItemStatus      `json:"status"`
}

// OutputContent is an output content part: text or a refusal.
type OutputContent struct {
	Text    *OutputText
	Refusal *OutputRefusal
}

type OutputText struct {
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations"`
}

type OutputRefusal struct {
	Refusal string `json:"refusal"`
}

func (c *OutputContent) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*c = OutputContent{}
	switch probe.Type {
	case "output_text":
		c.Text = &OutputText{}
		return json.Unmarshal(data, c.Text)
	case "refusal":
		c.Refusal = &OutputRefusal{}
		return json.Unmarshal(data, c.Refusal)
	}
	return fmt.Errorf("output: unknown content type %q", probe.Type)
}

func (c OutputContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Text != nil:
		return tagObject("output_text", c.Text)
	case c.Refusal != nil:
		return tagObject("refusal", c.Refusal)
	}
	return nil, fmt.Errorf("output: empty content")
}

// Annotation is an output text annotation, tagged by type.
type Annotation struct {
	FileCitation *FileCitation
	URLCitation  *URLCitation
	FilePath     *FilePath
}

type FileCitation struct {
	FileID string `json:"file_id"`
	Index  int64  `json:"index"`
}

type URLCitation struct {
	URL        string `json:"url"`
	StartIndex int64  `json:"start_index"`
	EndIndex   int64  `json:"end_index"`
	Title      string `json:"title"`
}

type FilePath struct {
	FileID string `json:"file_id"`
	Index  int64  `json:"index"`
}

func (a *Annotation) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*a = Annotation{}
	switch probe.Type {
	case "file_citation":
		a.FileCitation = &FileCitation{}
		return json.Unmarshal(data, a.FileCitation)
	case "url_citation":
		a.URLCitation = &URLCitation{}
		return json.Unmarshal(data, a.URLCitation)
	case "file_path":
		a.FilePath = &FilePath{}
		return json.Unmarshal(data, a.FilePath)
	}
	return fmt.Errorf("annotations: unknown type %q", probe.Type)
}

func (a Annotation) MarshalJSON() ([]byte, error) {
	switch {
	case a.FileCitation != nil:
		return tagObject("file_citation", a.FileCitation)
	case a.URLCitation != nil:
		return tagObject("url_citation", a.URLCitation)
	case a.FilePath != nil:
		return tagObject("file_path", a.FilePath)
	}
	return nil, fmt.Errorf("annotations: empty annotation")
}

// FileSearchCall is a file search tool call item.
type FileSearchCall struct {
	ID      string             `json:"id"`
	Status  FileSearchStatus   `json:"status"`
	Queries []string           `json:"queries"`
	Results []FileSearchResult `json:"results,omitempty"`
}

type FileSearchStatus string

const (
	FileSearchInProgress FileSearchStatus = "in_progress"
	FileSearchSearching  FileSearchStatus = "searching"
	FileSearchCompleted  FileSearchStatus = "completed"
	FileSearchIncomplete FileSearchStatus = "incomplete"
	FileSearchFailed     FileSearchStatus = "failed"
)

func (v *FileSearchStatus) UnmarshalJSON(data []byte) error {
	val, err := providers.DecodeEnum(data, "status",
		FileSearchInProgress, FileSearchSearching, FileSearchCompleted, FileSearchIncomplete, FileSearchFailed)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

type FileSearchResult struct {
	FileID     string                 `json:"file_id"`
	Text       string                 `json:"text"`
	Filename   string                 `json:"filename"`
	Attributes map[string]FilterValue `json:"attributes"`
	Score      float64                `json:"score"`
}

// FunctionCall is a function tool call item.
type FunctionCall struct {
	ID        *string     `json:"id,omitempty"`
	CallID    string      `json:"call_id"`
	Name      string      `json:"name"`
	Arguments string      `json:"arguments"`
	Status    *ItemStatus `json:"status,omitempty"`
}

// FunctionCallOutput is the client-supplied result of a function call.
type FunctionCallOutput struct {
	ID     *string     `json:"id,omitempty"`
	CallID string      `json:"call_id"`
	Output string      `json:"output"`
	Status *ItemStatus `json:"status,omitempty"`
}

// WebSearchCall is a web search tool call item.
type WebSearchCall struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ComputerCall is a computer use tool call item.
type ComputerCall struct {
	ID                  string         `json:"id"`
	CallID              string         `json:"call_id"`
	Action              ComputerAction `json:"action"`
	PendingSafetyChecks []SafetyCheck  `json:"pending_safety_checks"`
	Status              ItemStatus     `json:"status"`
}

type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComputerCallOutput is the client-supplied result of a computer call.
type ComputerCallOutput struct {
	ID                       *string       `json:"id,omitempty"`
	CallID                   string        `json:"call_id"`
	Output                   Screenshot    `json:"output"`
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`
	Status                   *ItemStatus   `json:"status,omitempty"`
}

// Screenshot is a computer screenshot payload.
type Screenshot struct {
	ImageURL *string `json:"image_url,omitempty"`
	FileID   *string `json:"file_id,omitempty"`
}

func (s *Screenshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string  `json:"type"`
		ImageURL *string `json:"image_url"`
		FileID   *string `json:"file_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "computer_screenshot" {
		return fmt.Errorf("output: unknown screenshot type %q", raw.Type)
	}
	s.ImageURL = raw.ImageURL
	s.FileID = raw.FileID
	return nil
}

func (s Screenshot) MarshalJSON() ([]byte, error) {
	type plain Screenshot
	return tagObject("computer_screenshot", plain(s))
}

// ReasoningItem is a reasoning summary item.
type ReasoningItem struct {
	ID      string        `json:"id"`
	Summary []SummaryPart `json:"summary"`
	Status  *ItemStatus   `json:"status,omitempty"`
}

// SummaryPart is a {"type":"summary_text"} part.
type SummaryPart struct {
	Text string `json:"text"`
}

func (p *SummaryPart) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "summary_text" {
		return fmt.Errorf("summary: unknown part type %q", raw.Type)
	}
	p.Text = raw.Text
	return nil
}

func (p SummaryPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"summary_text", p.Text})
}
