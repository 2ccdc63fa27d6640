package protocol

import (
	"encoding/json"
	"fmt"
)

// Content types carried in tool results and prompt messages.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeAudio    = "audio"
	ContentTypeResource = "resource"
)

// Content is a single content block. Exactly one of Text, Data, Resource is
// populated, consistent with Type.
type Content struct {
	Type        string           `json:"type"`
	Text        string           `json:"text,omitempty"`
	Data        string           `json:"data,omitempty"` // base64
	MimeType    string           `json:"mimeType,omitempty"`
	Resource    ResourceContents `json:"resource,omitempty"`
	Annotations *Annotations     `json:"annotations,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// UnmarshalJSON decodes a content block, routing the embedded resource
// through the ResourceContents union decoder.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string          `json:"type"`
		Text        string          `json:"text,omitempty"`
		Data        string          `json:"data,omitempty"`
		MimeType    string          `json:"mimeType,omitempty"`
		Resource    json.RawMessage `json:"resource,omitempty"`
		Annotations *Annotations    `json:"annotations,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Type = raw.Type
	c.Text = raw.Text
	c.Data = raw.Data
	c.MimeType = raw.MimeType
	c.Annotations = raw.Annotations
	if len(raw.Resource) > 0 {
		contents, err := UnmarshalResourceContents(raw.Resource)
		if err != nil {
			return err
		}
		c.Resource = contents
	}
	return nil
}

// ResourceContents is the tagged union of text and blob resource contents.
// The wire discriminator is field presence: blob wins over text.
type ResourceContents interface {
	resourceContents()
}

// TextResourceContents holds UTF-8 text resource contents.
type TextResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// BlobResourceContents holds base64-encoded binary resource contents.
type BlobResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Blob     string `json:"blob"`
}

func (*TextResourceContents) resourceContents() {}
func (*BlobResourceContents) resourceContents() {}

// UnmarshalResourceContents decodes one resource contents value. A present
// blob field selects the blob variant, otherwise a present text field
// selects the text variant; null decodes to nil.
func UnmarshalResourceContents(data []byte) (ResourceContents, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var probe struct {
		URI      string  `json:"uri"`
		MimeType string  `json:"mimeType,omitempty"`
		Text     *string `json:"text,omitempty"`
		Blob     *string `json:"blob,omitempty"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, NewError(ErrCodeParseError, fmt.Sprintf("parse resource contents: %v", err))
	}
	switch {
	case probe.Blob != nil:
		return &BlobResourceContents{URI: probe.URI, MimeType: probe.MimeType, Blob: *probe.Blob}, nil
	case probe.Text != nil:
		return &TextResourceContents{URI: probe.URI, MimeType: probe.MimeType, Text: *probe.Text}, nil
	default:
		return nil, nil
	}
}

// UnmarshalJSON decodes the contents array through the union decoder.
func (r *ReadResourceResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Contents []json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Contents = make([]ResourceContents, 0, len(raw.Contents))
	for _, item := range raw.Contents {
		contents, err := UnmarshalResourceContents(item)
		if err != nil {
			return err
		}
		if contents != nil {
			r.Contents = append(r.Contents, contents)
		}
	}
	return nil
}
