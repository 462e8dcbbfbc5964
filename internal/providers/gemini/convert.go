package gemini

import (
	"encoding/json"
	"strings"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

var roleUser = "user"
var roleModel = "model"
var roleSystem = "system"

// FromChatRequest converts a canonical chat request. System and developer
// messages accumulate into a single system instruction, assistant turns
// become "model" turns with tool calls as function call parts, and tool
// results come back as function response parts on a "user" turn. Audio,
// file, and refusal parts have no Gemini shape and are dropped.
func FromChatRequest(src openai.ChatRequest, ctx providers.RequestContext) (GenerateRequest, providers.RequestLoss) {
	var system []Part
	contents := make([]Content, 0, len(src.Messages))
	for _, m := range src.Messages {
		switch {
		case m.System != nil:
			system = append(system, textContentParts(m.System.Content)...)
		case m.Developer != nil:
			system = append(system, textContentParts(m.Developer.Content)...)
		case m.User != nil:
			contents = append(contents, Content{Role: &roleUser, Parts: userParts(m.User.Content)})
		case m.Assistant != nil:
			contents = append(contents, Content{Role: &roleModel, Parts: assistantParts(m.Assistant)})
		case m.Tool != nil:
			contents = append(contents, Content{Role: &roleUser, Parts: []Part{
				functionResponsePart(m.Tool.ToolCallID, m.Tool.Content.Flatten()),
			}})
		case m.Function != nil:
			content := ""
			if m.Function.Content != nil {
				content = *m.Function.Content
			}
			contents = append(contents, Content{Role: &roleUser, Parts: []Part{
				functionResponsePart(m.Function.Name, content),
			}})
		}
	}

	var instruction *Content
	if len(system) > 0 {
		instruction = &Content{Role: &roleSystem, Parts: system}
	}

	return GenerateRequest{
		Contents:          contents,
		Tools:             toolsFromOpenAI(src),
		ToolConfig:        toolConfigFromOpenAI(src),
		SystemInstruction: instruction,
		GenerationConfig:  generationConfig(src),
	}, providers.RequestLoss{Model: providers.EffectiveModel(src.Model, ctx)}
}

func textContentParts(c openai.TextContent) []Part {
	if c.Text != nil {
		return []Part{{Text: c.Text}}
	}
	parts := make([]Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		text := p.Text
		parts = append(parts, Part{Text: &text})
	}
	return parts
}

func userParts(c openai.UserContent) []Part {
	if c.Text != nil {
		return []Part{{Text: c.Text}}
	}
	parts := make([]Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.Text != nil:
			text := p.Text.Text
			parts = append(parts, Part{Text: &text})
		case p.ImageURL != nil:
			if part, ok := imagePart(p.ImageURL.URL); ok {
				parts = append(parts, part)
			}
		}
	}
	return parts
}

func assistantParts(m *openai.AssistantMessage) []Part {
	var parts []Part
	if m.Content != nil {
		if m.Content.Text != nil {
			parts = append(parts, Part{Text: m.Content.Text})
		}
		for _, p := range m.Content.Parts {
			if p.Text != nil {
				text := p.Text.Text
				parts = append(parts, Part{Text: &text})
			}
		}
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, Part{FunctionCall: &FunctionCall{
			Name: tc.Function.Name,
			Args: parseJSONOrString(tc.Function.Arguments),
		}})
	}
	if m.FunctionCall != nil {
		parts = append(parts, Part{FunctionCall: &FunctionCall{
			Name: m.FunctionCall.Name,
			Args: parseJSONOrString(m.FunctionCall.Arguments),
		}})
	}
	return parts
}

func functionResponsePart(name, content string) Part {
	return Part{FunctionResponse: &FunctionResponse{
		Name:     name,
		Response: parseJSONOrString(content),
	}}
}

// parseJSONOrString keeps valid JSON as is and quotes everything else.
func parseJSONOrString(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

// imagePart turns an image URL into an inline blob for data URLs or a file
// reference for URLs with a recognizable image extension. Anything else has
// no Gemini shape and is dropped.
func imagePart(url string) (Part, bool) {
	if strings.HasPrefix(url, "data:") {
		if blob, ok := parseDataURL(url); ok {
			return Part{InlineData: blob}, true
		}
		return Part{}, false
	}
	if mime := guessMimeType(url); mime != "" {
		return Part{FileData: &FileData{MimeType: mime, FileURI: url}}, true
	}
	return Part{}, false
}

func parseDataURL(url string) (*Blob, bool) {
	rest := strings.TrimPrefix(url, "data:")
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return nil, false
	}
	segments := strings.Split(meta, ";")
	mime := segments[0]
	if mime == "" {
		mime = "application/octet-stream"
	}
	base64 := false
	for _, s := range segments[1:] {
		if s == "base64" {
			base64 = true
		}
	}
	if !base64 {
		return nil, false
	}
	return &Blob{MimeType: mime, Data: data}, true
}

func guessMimeType(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	i := strings.LastIndexByte(url, '.')
	if i < 0 {
		return ""
	}
	switch strings.ToLower(url[i+1:]) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "svg":
		return "image/svg+xml"
	}
	return ""
}

func toolsFromOpenAI(src openai.ChatRequest) []Tool {
	decls := make([]FunctionDeclaration, 0, len(src.Tools)+len(src.Functions))
	for _, t := range src.Tools {
		decls = append(decls, FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	for _, f := range src.Functions {
		decls = append(decls, FunctionDeclaration{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  f.Parameters,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []Tool{{FunctionDeclarations: decls}}
}

// toolConfigFromOpenAI maps tool choices onto function calling modes. The
// tool_choice field wins over the deprecated function_call.
func toolConfigFromOpenAI(src openai.ChatRequest) *ToolConfig {
	fcc := &FunctionCallingConfig{}
	switch {
	case src.ToolChoice != nil && src.ToolChoice.Mode != nil:
		switch *src.ToolChoice.Mode {
		case openai.ToolChoiceNone:
			mode := ModeNone
			fcc.Mode = &mode
		case openai.ToolChoiceAuto:
			mode := ModeAuto
			fcc.Mode = &mode
		case openai.ToolChoiceRequired:
			mode := ModeAny
			fcc.Mode = &mode
		}
	case src.ToolChoice != nil && src.ToolChoice.Function != nil:
		mode := ModeAny
		fcc.Mode = &mode
		fcc.AllowedFunctionNames = []string{src.ToolChoice.Function.Name}
	case src.FunctionCall != nil && src.FunctionCall.Mode != nil:
		switch *src.FunctionCall.Mode {
		case openai.FunctionCallNone:
			mode := ModeNone
			fcc.Mode = &mode
		case openai.FunctionCallAuto:
			mode := ModeAuto
			fcc.Mode = &mode
		}
	case src.FunctionCall != nil && src.FunctionCall.Function != nil:
		mode := ModeAny
		fcc.Mode = &mode
		fcc.AllowedFunctionNames = []string{src.FunctionCall.Function.Name}
	default:
		return nil
	}
	return &ToolConfig{FunctionCallingConfig: fcc}
}

func generationConfig(src openai.ChatRequest) *GenerationConfig {
	var cfg *GenerationConfig
	ensure := func() *GenerationConfig {
		if cfg == nil {
			cfg = &GenerationConfig{}
		}
		return cfg
	}

	if src.Stop != nil {
		if src.Stop.Text != nil {
			ensure().StopSequences = []string{*src.Stop.Text}
		} else {
			ensure().StopSequences = src.Stop.Sequences
		}
	}
	if src.ResponseFormat != nil {
		switch src.ResponseFormat.Type {
		case openai.ResponseFormatJSONObject:
			mime := "application/json"
			ensure().ResponseMimeType = &mime
		case openai.ResponseFormatJSONSchema:
			mime := "application/json"
			ensure().ResponseMimeType = &mime
			if src.ResponseFormat.JSONSchema != nil {
				ensure().ResponseSchema = src.ResponseFormat.JSONSchema.Schema
			}
		}
	}
	if src.MaxCompletionTokens != nil {
		ensure().MaxOutputTokens = src.MaxCompletionTokens
	} else if src.MaxTokens != nil {
		ensure().MaxOutputTokens = src.MaxTokens
	}
	if src.N != nil {
		ensure().CandidateCount = src.N
	}
	if src.Temperature != nil {
		ensure().Temperature = src.Temperature
	}
	if src.TopP != nil {
		ensure().TopP = src.TopP
	}
	if src.Seed != nil {
		ensure().Seed = src.Seed
	}
	if src.PresencePenalty != nil {
		ensure().PresencePenalty = src.PresencePenalty
	}
	if src.FrequencyPenalty != nil {
		ensure().FrequencyPenalty = src.FrequencyPenalty
	}
	if src.Logprobs != nil {
		ensure().ResponseLogprobs = src.Logprobs
	}
	if src.TopLogprobs != nil {
		ensure().Logprobs = src.TopLogprobs
	}
	for _, m := range src.Modalities {
		switch m {
		case openai.ModalityText:
			ensure().ResponseModalities = append(ensure().ResponseModalities, ModalityText)
		case openai.ModalityAudio:
			ensure().ResponseModalities = append(ensure().ResponseModalities, ModalityAudio)
		}
	}
	return cfg
}
