package transcript

import (
	"testing"

	"github.com/shopspring/decimal"
)

func int64p(v int64) *int64 { return &v }

func TestRecordCost(t *testing.T) {
	million := &TokenUsage{InputTokens: int64p(1_000_000)}

	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"dated sonnet name", Record{Role: RoleAssistant, Model: "claude-sonnet-4-20250514", Usage: million}, "3"},
		{"minor version", Record{Role: RoleAssistant, Model: "claude-opus-4-5-20251101", Usage: million}, "5"},
		{"no claude prefix", Record{Role: RoleAssistant, Model: "haiku-3-5", Usage: million}, "0.8"},
		{"all token kinds", Record{Role: RoleAssistant, Model: "claude-sonnet-4", Usage: &TokenUsage{
			InputTokens:              int64p(500_000),
			OutputTokens:             int64p(100_000),
			CacheCreationInputTokens: int64p(200_000),
			CacheReadInputTokens:     int64p(1_000_000),
		}}, "4.05"}, // 1.50 + 1.50 + 0.75 + 0.30
		{"absent fields count as zero", Record{Role: RoleAssistant, Model: "claude-sonnet-4", Usage: &TokenUsage{OutputTokens: int64p(1000)}}, "0.015"},
		{"user record", Record{Role: RoleUser, Model: "claude-sonnet-4", Usage: million}, "0"},
		{"no usage", Record{Role: RoleAssistant, Model: "claude-sonnet-4"}, "0"},
		{"no model", Record{Role: RoleAssistant, Usage: million}, "0"},
		{"unknown family", Record{Role: RoleAssistant, Model: "gpt-4o", Usage: million}, "0"},
		{"unknown major", Record{Role: RoleAssistant, Model: "claude-sonnet-9", Usage: million}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := decimal.RequireFromString(tt.want)
			if got := RecordCost(&tt.rec); !got.Equal(want) {
				t.Errorf("RecordCost = %s, want %s", got, want)
			}
		})
	}
}

func TestEstimateCost(t *testing.T) {
	usage := &TokenUsage{InputTokens: int64p(1_000_000)}
	assistant := func(id string) Record {
		return Record{Role: RoleAssistant, MessageID: id, Model: "claude-sonnet-4", Usage: usage}
	}

	tests := []struct {
		name    string
		records []Record
		want    string
	}{
		{"empty", nil, "0"},
		{"streamed blocks of one message charged once", []Record{assistant("msg_1"), assistant("msg_1"), assistant("msg_1")}, "3"},
		{"distinct messages", []Record{assistant("msg_1"), assistant("msg_2")}, "6"},
		{"user lines do not split a message", []Record{assistant("msg_1"), {Role: RoleUser}, assistant("msg_1")}, "3"},
		{"same id again after another message", []Record{assistant("msg_1"), assistant("msg_2"), assistant("msg_1")}, "9"},
		{"missing ids are never merged", []Record{assistant(""), assistant("")}, "6"},
		{"records without usage skipped", []Record{{Role: RoleAssistant, MessageID: "msg_1"}, assistant("msg_1")}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := decimal.RequireFromString(tt.want)
			if got := EstimateCost(tt.records); !got.Equal(want) {
				t.Errorf("EstimateCost = %s, want %s", got, want)
			}
		})
	}
}

func TestEstimateCost_FromProcessedLines(t *testing.T) {
	lines := []string{
		`{"type":"user","message":{"content":"go"}}`,
		`{"type":"assistant","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":2000,"output_tokens":100},"content":[{"type":"text","text":"Looking"}]}}`,
		`{"type":"assistant","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":2000,"output_tokens":100},"content":[{"type":"tool_use","name":"Read","input":{}}]}}`,
	}
	res := ProcessLines(lines, Checkpoint{})
	// 2000 * 3/1M + 100 * 15/1M
	want := decimal.RequireFromString("0.0075")
	if got := EstimateCost(res.Records); !got.Equal(want) {
		t.Errorf("EstimateCost = %s, want %s", got, want)
	}
}
