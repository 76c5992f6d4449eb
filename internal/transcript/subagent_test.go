package transcript

import "testing"

func boolp(b bool) *bool { return &b }

func taskUse(subagentType string) ToolUse {
	return ToolUse{ID: "toolu_task", Name: "Task", Input: map[string]any{"subagent_type": subagentType, "prompt": "go"}}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		rec   Record
		prior PriorContext
		want  SubagentResult
	}{
		{
			name: "explicit name wins",
			rec:  Record{Role: RoleAssistant, SubagentName: "Explore", SidechainFlag: boolp(false)},
			want: SubagentResult{IsSidechain: true, Label: "Explore"},
		},
		{
			name:  "explicit false flag ends search",
			rec:   Record{Role: RoleUser, SidechainFlag: boolp(false)},
			prior: PriorContext{ToolUses: []ToolUse{taskUse("code-reviewer")}},
			want:  SubagentResult{},
		},
		{
			name: "explicit true flag without context",
			rec:  Record{Role: RoleAssistant, SidechainFlag: boolp(true)},
			want: SubagentResult{IsSidechain: true, Label: UnknownSubagent},
		},
		{
			name:  "explicit true flag refined by task",
			rec:   Record{Role: RoleUser, SidechainFlag: boolp(true)},
			prior: PriorContext{ToolUses: []ToolUse{taskUse("general-purpose")}},
			want:  SubagentResult{IsSidechain: true, Label: "general-purpose"},
		},
		{
			name:  "task subagent type from prior context",
			rec:   Record{Role: RoleAssistant},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "Read"}, taskUse("code-reviewer")}},
			want:  SubagentResult{IsSidechain: true, Label: "code-reviewer"},
		},
		{
			name:  "task without subagent type falls through",
			rec:   Record{Role: RoleAssistant},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "Task", Input: map[string]any{"prompt": "x"}}}},
			want:  SubagentResult{},
		},
		{
			name:  "figma external tool",
			rec:   Record{Role: RoleAssistant},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "mcp__figma__get_file"}}},
			want:  SubagentResult{IsSidechain: true, Label: "design-analyst"},
		},
		{
			name:  "code external tool",
			rec:   Record{Role: RoleUser},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "mcp__claude_code__review"}}},
			want:  SubagentResult{IsSidechain: true, Label: "code-reviewer"},
		},
		{
			name:  "first matching rule wins",
			rec:   Record{Role: RoleUser},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "mcp__figma_code__export"}}},
			want:  SubagentResult{IsSidechain: true, Label: "design-analyst"},
		},
		{
			name:  "task beats external tool",
			rec:   Record{Role: RoleUser},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "mcp__figma__get_file"}, taskUse("Plan")}},
			want:  SubagentResult{IsSidechain: true, Label: "Plan"},
		},
		{
			name:  "unprefixed tool ignored",
			rec:   Record{Role: RoleAssistant},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "figma_export"}}},
			want:  SubagentResult{},
		},
		{
			name:  "unmatched external tool",
			rec:   Record{Role: RoleAssistant},
			prior: PriorContext{ToolUses: []ToolUse{{Name: "mcp__slack__post"}}},
			want:  SubagentResult{},
		},
		{
			name: "no signal",
			rec:  Record{Role: RoleUser},
			want: SubagentResult{},
		},
		{
			name:  "unknown role never labeled",
			rec:   Record{Role: RoleUnknown, SubagentName: "Explore", SidechainFlag: boolp(true)},
			prior: PriorContext{ToolUses: []ToolUse{taskUse("code-reviewer")}},
			want:  SubagentResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectSubagent(&tt.rec, tt.prior)
			if got != tt.want {
				t.Errorf("DetectSubagent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDetect_Idempotent(t *testing.T) {
	rec := Record{Role: RoleAssistant}
	prior := PriorContext{ToolUses: []ToolUse{taskUse("code-reviewer")}}
	first := DetectSubagent(&rec, prior)
	second := DetectSubagent(&rec, prior)
	if first != second {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestNewDetector_CustomRules(t *testing.T) {
	d := NewDetector([]ToolRule{
		{Contains: "Linear", Label: "issue-triager"},
		{Contains: "", Label: "ignored"},
	})
	rec := Record{Role: RoleAssistant}

	got := d.Detect(&rec, PriorContext{ToolUses: []ToolUse{{Name: "mcp__linear__create_issue"}}})
	if got.Label != "issue-triager" {
		t.Errorf("Label = %q, want issue-triager", got.Label)
	}

	got = d.Detect(&rec, PriorContext{ToolUses: []ToolUse{{Name: "mcp__figma__get_file"}}})
	if got.IsSidechain {
		t.Errorf("custom rules should replace the defaults, got %+v", got)
	}

	if n := len(d.Rules()); n != 1 {
		t.Errorf("len(Rules) = %d, want 1", n)
	}

	empty := NewDetector([]ToolRule{})
	if got := empty.Detect(&rec, PriorContext{ToolUses: []ToolUse{{Name: "mcp__figma__x"}}}); got.IsSidechain {
		t.Errorf("empty rule table should disable external tools, got %+v", got)
	}
}

func TestLookupSubagent(t *testing.T) {
	if m := LookupSubagent("code-reviewer"); m.DisplayName != "Code Reviewer" || m.Label != "code-reviewer" {
		t.Errorf("code-reviewer meta = %+v", m)
	}
	m := LookupSubagent("something-new")
	if m.DisplayName != "Sub Agent" {
		t.Errorf("fallback DisplayName = %q, want Sub Agent", m.DisplayName)
	}
	if m.Label != "something-new" {
		t.Errorf("fallback Label = %q", m.Label)
	}
}

func TestDetector_WithMeta(t *testing.T) {
	d := NewDetector([]ToolRule{{Contains: "linear", Label: "issue-triager"}}).
		WithMeta([]SubagentMeta{{Label: "issue-triager", DisplayName: "Issue Triager", Color: "#111111"}})

	m := d.Lookup("issue-triager")
	if m.DisplayName != "Issue Triager" || m.Color != "#111111" {
		t.Errorf("override not applied: %+v", m)
	}
	if m.Icon != genericSubagent.Icon {
		t.Errorf("empty override field should keep fallback icon, got %q", m.Icon)
	}

	var found bool
	for _, k := range d.KnownSubagents() {
		if k.Label == "issue-triager" {
			found = true
		}
	}
	if !found {
		t.Error("KnownSubagents missing rule label")
	}
}

func TestKnownSubagents_SortedAndComplete(t *testing.T) {
	known := KnownSubagents()
	for i := 1; i < len(known); i++ {
		if known[i-1].Label >= known[i].Label {
			t.Fatalf("not sorted at %d: %q >= %q", i, known[i-1].Label, known[i].Label)
		}
	}
	labels := map[string]bool{}
	for _, k := range known {
		labels[k.Label] = true
	}
	for _, want := range []string{"design-analyst", "code-reviewer", UnknownSubagent} {
		if !labels[want] {
			t.Errorf("KnownSubagents missing %q", want)
		}
	}
}
