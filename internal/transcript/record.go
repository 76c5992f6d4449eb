// Package transcript classifies Claude Code JSONL transcript lines into
// categorized, subagent-tagged records.
package transcript

import (
	"encoding/json"
	"time"
)

// Role is the top-level discriminator of a transcript line.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleUnknown   Role = "unknown"
)

// TokenUsage contains token counts from the API response.
// Fields are nil when the source line omitted them.
type TokenUsage struct {
	InputTokens              *int64 `json:"input_tokens,omitempty"`
	OutputTokens             *int64 `json:"output_tokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
}

// ToolExecutionOutcome is the sibling toolUseResult object carried by user
// lines that return the output of a tool invocation.
type ToolExecutionOutcome struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Interrupted bool   `json:"interrupted"`
	IsImage     bool   `json:"isImage"`
}

// Payload is message.content: either a plain string or an ordered list of
// content items. IsList tells the two apart, so an empty list and an empty
// string stay distinguishable.
type Payload struct {
	Text   string
	Items  []ContentItem
	IsList bool
}

// MarshalJSON writes the payload back in the shape it was read in.
func (p Payload) MarshalJSON() ([]byte, error) {
	if !p.IsList {
		return json.Marshal(p.Text)
	}
	items := p.Items
	if items == nil {
		items = []ContentItem{}
	}
	return json.Marshal(items)
}

// Record is one classified transcript line. Records are built once by the
// processor and treated as read-only afterwards.
type Record struct {
	Sequence      int                   `json:"sequence"`
	Timestamp     string                `json:"timestamp,omitempty"`
	Role          Role                  `json:"role"`
	Payload       Payload               `json:"payload"`
	IsSidechain   bool                  `json:"is_sidechain"`
	SubagentLabel string                `json:"subagent_label,omitempty"`
	ToolExecution *ToolExecutionOutcome `json:"tool_execution,omitempty"`
	Category      Category              `json:"category"`

	UUID       string      `json:"uuid,omitempty"`
	ParentUUID string      `json:"parent_uuid,omitempty"`
	AgentID    string      `json:"agent_id,omitempty"`
	MessageID  string      `json:"message_id,omitempty"`
	Model      string      `json:"model,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`

	// SubagentName is the normalized subagent name set upstream by the
	// ingestion pipeline (subagentType on the raw line).
	SubagentName string `json:"-"`
	// SidechainFlag is the raw isSidechain field; nil when absent.
	SidechainFlag *bool `json:"-"`

	// Raw is the original line, kept so opaque records can be shown as-is.
	Raw string `json:"-"`
}

// ParseRecord builds an unclassified record from one line. It never fails:
// a line that is not a JSON object becomes a RoleUnknown record holding only
// the raw text. Fields are read one by one, so a field of an unexpected JSON
// type is treated as absent and never costs the line its role.
func ParseRecord(line string, sequence int) Record {
	rec := Record{Sequence: sequence, Role: RoleUnknown, Raw: line}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil || fields == nil {
		return rec
	}

	switch stringField(fields, "type") {
	case "user":
		rec.Role = RoleUser
	case "assistant":
		rec.Role = RoleAssistant
	}

	rec.Timestamp = stringField(fields, "timestamp")
	rec.UUID = stringField(fields, "uuid")
	rec.ParentUUID = stringField(fields, "parentUuid")
	rec.AgentID = stringField(fields, "agentId")
	rec.SubagentName = stringField(fields, "subagentType")
	rec.SidechainFlag = boolField(fields, "isSidechain")

	var msg map[string]json.RawMessage
	if raw, ok := fields["message"]; ok && json.Unmarshal(raw, &msg) == nil && msg != nil {
		rec.Payload = parsePayload(msg["content"])
		rec.MessageID = stringField(msg, "id")
		rec.Model = stringField(msg, "model")
		rec.Usage = parseUsage(msg["usage"])
	}

	if rec.Role == RoleUser {
		rec.ToolExecution = parseToolExecution(fields["toolUseResult"])
	}

	return rec
}

func boolField(fields map[string]json.RawMessage, key string) *bool {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

func int64Field(fields map[string]json.RawMessage, key string) *int64 {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	return &n
}

// parseUsage returns nil when usage is absent, not an object, or carries no
// readable count.
func parseUsage(raw json.RawMessage) *TokenUsage {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return nil
	}
	u := TokenUsage{
		InputTokens:              int64Field(fields, "input_tokens"),
		OutputTokens:             int64Field(fields, "output_tokens"),
		CacheCreationInputTokens: int64Field(fields, "cache_creation_input_tokens"),
		CacheReadInputTokens:     int64Field(fields, "cache_read_input_tokens"),
	}
	if u.InputTokens == nil && u.OutputTokens == nil && u.CacheCreationInputTokens == nil && u.CacheReadInputTokens == nil {
		return nil
	}
	return &u
}

func parsePayload(raw json.RawMessage) Payload {
	if len(raw) == 0 || string(raw) == "null" {
		return Payload{}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return Payload{Text: text}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err == nil {
		items := make([]ContentItem, 0, len(elems))
		for _, e := range elems {
			items = append(items, ClassifyContentItem(e))
		}
		return Payload{Items: items, IsList: true}
	}

	// Neither a string nor an array: keep it visible as a single opaque item.
	return Payload{Items: []ContentItem{Opaque{Raw: raw}}, IsList: true}
}

// parseToolExecution returns nil when toolUseResult is absent or is not an
// object (Claude Code sometimes writes a bare error string there).
func parseToolExecution(raw json.RawMessage) *ToolExecutionOutcome {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var out ToolExecutionOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

// ParseTimestamp parses the raw timestamp field.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrNoTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time returns the parsed record timestamp.
func (r *Record) Time() (time.Time, bool) {
	t, err := ParseTimestamp(r.Timestamp)
	return t, err == nil
}

// ToolUses returns the tool_use items of the payload in order.
func (r *Record) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, item := range r.Payload.Items {
		if tu, ok := item.(ToolUse); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// ToolNames returns the names of the tools invoked by this record.
func (r *Record) ToolNames() []string {
	uses := r.ToolUses()
	if len(uses) == 0 {
		return nil
	}
	names := make([]string, len(uses))
	for i, tu := range uses {
		names[i] = tu.Name
	}
	return names
}

func (r *Record) hasKind(kind ItemKind) bool {
	for _, item := range r.Payload.Items {
		if item.Kind() == kind {
			return true
		}
	}
	return false
}
