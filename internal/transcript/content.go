package transcript

import (
	"encoding/json"
	"strings"
)

// ItemKind discriminates the ContentItem variants.
type ItemKind string

const (
	KindText       ItemKind = "text"
	KindToolUse    ItemKind = "tool_use"
	KindToolResult ItemKind = "tool_result"
	KindThinking   ItemKind = "thinking"
	KindImage      ItemKind = "image"
	KindOpaque     ItemKind = "opaque"
)

// ContentItem is one block of a message's content array. The set of
// implementations is closed: Text, ToolUse, ToolResult, Thinking, Image and
// Opaque.
type ContentItem interface {
	Kind() ItemKind
	isContentItem()
}

type Text struct {
	Text string
}

// ToolUse is a tool invocation. Input is usually a map[string]any but is kept
// as decoded when the source sent something else.
type ToolUse struct {
	ID    string
	Name  string
	Input any
}

type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

type Thinking struct {
	Text string
}

type Image struct {
	MediaType string
	Data      string
}

// Opaque holds a block whose type is missing or unrecognized. Renderers show
// Raw verbatim.
type Opaque struct {
	Type string
	Raw  json.RawMessage
}

func (Text) Kind() ItemKind       { return KindText }
func (ToolUse) Kind() ItemKind    { return KindToolUse }
func (ToolResult) Kind() ItemKind { return KindToolResult }
func (Thinking) Kind() ItemKind   { return KindThinking }
func (Image) Kind() ItemKind      { return KindImage }
func (Opaque) Kind() ItemKind     { return KindOpaque }

func (Text) isContentItem()       {}
func (ToolUse) isContentItem()    {}
func (ToolResult) isContentItem() {}
func (Thinking) isContentItem()   {}
func (Image) isContentItem()      {}
func (Opaque) isContentItem()     {}

// InputString returns a string field of an object input, or "".
func (t ToolUse) InputString(key string) string {
	m, ok := t.Input.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// ClassifyContentItem turns one raw content block into its variant. It is
// total: anything it cannot place becomes Opaque.
func ClassifyContentItem(raw json.RawMessage) ContentItem {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Opaque{Raw: raw}
	}

	typ := stringField(fields, "type")
	switch typ {
	case "text":
		return Text{Text: stringField(fields, "text")}

	case "tool_use":
		tu := ToolUse{
			ID:   stringField(fields, "id"),
			Name: stringField(fields, "name"),
		}
		if in, ok := fields["input"]; ok {
			var v any
			if err := json.Unmarshal(in, &v); err == nil {
				tu.Input = v
			}
		}
		if tu.Input == nil {
			tu.Input = map[string]any{}
		}
		return tu

	case "tool_result":
		tr := ToolResult{
			ToolUseID: stringField(fields, "tool_use_id"),
			Content:   flattenToolResultContent(fields["content"]),
		}
		if v, ok := fields["is_error"]; ok {
			_ = json.Unmarshal(v, &tr.IsError)
		}
		return tr

	case "thinking":
		text := stringField(fields, "thinking")
		if text == "" {
			text = stringField(fields, "text")
		}
		return Thinking{Text: text}

	case "image":
		var src struct {
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		}
		if s, ok := fields["source"]; ok {
			_ = json.Unmarshal(s, &src)
		}
		return Image{MediaType: src.MediaType, Data: src.Data}
	}

	return Opaque{Type: typ, Raw: raw}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// flattenToolResultContent reduces tool_result content to a string. Content
// arrays contribute their text blocks joined by newlines; other shapes are
// kept as raw JSON.
func flattenToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type ItemKind `json:"type"`
		Text string   `json:"text"`
	}{KindText, t.Text})
}

func (t ToolUse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  ItemKind `json:"type"`
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Input any      `json:"input"`
	}{KindToolUse, t.ID, t.Name, t.Input})
}

func (t ToolResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      ItemKind `json:"type"`
		ToolUseID string   `json:"tool_use_id"`
		Content   string   `json:"content"`
		IsError   bool     `json:"is_error"`
	}{KindToolResult, t.ToolUseID, t.Content, t.IsError})
}

func (t Thinking) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     ItemKind `json:"type"`
		Thinking string   `json:"thinking"`
	}{KindThinking, t.Text})
}

func (i Image) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      ItemKind `json:"type"`
		MediaType string   `json:"media_type"`
		Data      string   `json:"data"`
	}{KindImage, i.MediaType, i.Data})
}

func (o Opaque) MarshalJSON() ([]byte, error) {
	raw := o.Raw
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type ItemKind        `json:"type"`
		Raw  json.RawMessage `json:"raw"`
	}{KindOpaque, raw})
}
