// Package azure routes requests to Azure OpenAI deployments. Azure uses
// deployment-based URLs and the "api-key" header instead of the standard
// "Authorization: Bearer" scheme, and pins every request to an explicit
// api-version query parameter. The wire schemas live in the version
// subpackages; this package holds what is stable across versions.
package azure

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nulpointcorp/llmur/internal/providers"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// ProviderName is the friendly name connections use to select this provider.
const ProviderName = "azure/openai"

// APIVersion is a supported Azure OpenAI api-version value.
type APIVersion string

const (
	APIVersion20240201 APIVersion = "2024-02-01"
	APIVersion20241021 APIVersion = "2024-10-21"
)

// ParseAPIVersion validates a connection's api_version setting.
func ParseAPIVersion(s string) (APIVersion, error) {
	switch v := APIVersion(s); v {
	case APIVersion20240201, APIVersion20241021:
		return v, nil
	}
	return "", fmt.Errorf("azure: unsupported api version %q", s)
}

// Supports reports whether this api version serves the operation. Neither
// pinned version exposes the Responses API.
func (v APIVersion) Supports(op providers.Operation) bool {
	switch op {
	case providers.OpChatCompletions:
		return true
	case providers.OpEmbeddings:
		return v == APIVersion20241021
	}
	return false
}

// RequestURL builds the deployment URL for an operation. The deployment name
// comes from the request loss, so model overrides land in the path.
func RequestURL(endpoint, deployment string, op providers.Operation, v APIVersion) string {
	return strings.TrimRight(endpoint, "/") + "/openai/deployments/" + deployment +
		"/" + string(op) + "?api-version=" + string(v)
}

// DataSource is an "On Your Data" extension attached to chat requests.
// Parameters stay opaque; Azure validates them server side.
type DataSource struct {
	Type       DataSourceType
	Parameters json.RawMessage
}

type DataSourceType string

const (
	DataSourceCosmosDB DataSourceType = "azure_cosmos_db"
	DataSourceSearch   DataSourceType = "azure_search"
)

func (d *DataSource) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       DataSourceType  `json:"type"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case DataSourceCosmosDB, DataSourceSearch:
	default:
		return fmt.Errorf("data_sources: unknown type %q", raw.Type)
	}
	d.Type = raw.Type
	d.Parameters = raw.Parameters
	return nil
}

func (d DataSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       DataSourceType  `json:"type"`
		Parameters json.RawMessage `json:"parameters"`
	}{d.Type, d.Parameters})
}

// UserContent is the user message body shared by both api versions: a bare
// string, or text and image parts. Image parts carry a plain URL string.
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
	Text     *string
	ImageURL *string
}

func (p *UserPart) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string  `json:"type"`
		Text     *string `json:"text"`
		ImageURL *string `json:"image_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = UserPart{}
	switch raw.Type {
	case "text":
		p.Text = raw.Text
		if p.Text == nil {
			p.Text = new(string)
		}
		return nil
	case "image_url":
		p.ImageURL = raw.ImageURL
		if p.ImageURL == nil {
			p.ImageURL = new(string)
		}
		return nil
	}
	return fmt.Errorf("content: unknown part type %q", raw.Type)
}

func (p UserPart) MarshalJSON() ([]byte, error) {
	switch {
	case p.Text != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", *p.Text})
	case p.ImageURL != nil:
		return json.Marshal(struct {
			Type     string `json:"type"`
			ImageURL string `json:"image_url"`
		}{"image_url", *p.ImageURL})
	}
	return nil, fmt.Errorf("content: empty user part")
}

// UserContentFromOpenAI converts a canonical user body. Image parts keep the
// URL and lose the detail hint; audio and file parts have no Azure shape and
// are dropped.
func UserContentFromOpenAI(c openai.UserContent) UserContent {
	if c.Text != nil {
		return UserContent{Text: c.Text}
	}
	parts := make([]UserPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.Text != nil:
			text := p.Text.Text
			parts = append(parts, UserPart{Text: &text})
		case p.ImageURL != nil:
			url := p.ImageURL.URL
			parts = append(parts, UserPart{ImageURL: &url})
		}
	}
	return UserContent{Parts: parts}
}

// AssistantText flattens a canonical assistant body to a plain string.
// Refusal parts are dropped.
func AssistantText(c *openai.AssistantContent) *string {
	if c == nil {
		return nil
	}
	if c.Text != nil {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		if p.Text != nil {
			out += p.Text.Text
		}
	}
	return &out
}

// MessageContext carries "On Your Data" retrieval results attached to an
// assistant message.
type MessageContext struct {
	Intent    *string    `json:"intent,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

type Citation struct {
	Content  string  `json:"content"`
	Title    *string `json:"title,omitempty"`
	URL      *string `json:"url,omitempty"`
	Filepath *string `json:"filepath,omitempty"`
	ChunkID  *string `json:"chunk_id,omitempty"`
}
