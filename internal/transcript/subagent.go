package transcript

import (
	"sort"
	"strings"
)

// UnknownSubagent labels sidechain records whose subagent type could not be
// determined.
const UnknownSubagent = "unknown-subagent"

// ExternalToolPrefix marks MCP-style tool names (mcp__server__tool).
const ExternalToolPrefix = "mcp__"

// ToolRule maps an external tool name containing Contains to Label.
type ToolRule struct {
	Contains string `toml:"contains" json:"contains"`
	Label    string `toml:"label" json:"label"`
}

// DefaultToolRules is the built-in external tool table. Order matters: the
// first rule whose substring appears in the tool name wins.
var DefaultToolRules = []ToolRule{
	{Contains: "figma", Label: "design-analyst"},
	{Contains: "code", Label: "code-reviewer"},
}

// PriorContext is what the detector may look at besides the record itself:
// the tool uses of the main-chain assistant turn that preceded it.
type PriorContext struct {
	ToolUses []ToolUse
}

// SubagentResult is the outcome of subagent detection. Label is empty when
// the record is not a sidechain.
type SubagentResult struct {
	IsSidechain bool
	Label       string
}

// Detector resolves sidechain membership and subagent labels. A Detector is
// immutable after construction and safe for concurrent use.
type Detector struct {
	prefix string
	rules  []ToolRule
	meta   map[string]SubagentMeta
}

// NewDetector returns a detector using rules for external tool names. A nil
// rules slice selects DefaultToolRules; an empty non-nil slice disables the
// external tool heuristic.
func NewDetector(rules []ToolRule) *Detector {
	if rules == nil {
		rules = DefaultToolRules
	}
	cp := make([]ToolRule, 0, len(rules))
	for _, r := range rules {
		if r.Contains == "" || r.Label == "" {
			continue
		}
		cp = append(cp, ToolRule{Contains: strings.ToLower(r.Contains), Label: r.Label})
	}
	return &Detector{prefix: ExternalToolPrefix, rules: cp}
}

var defaultDetector = NewDetector(nil)

// DetectSubagent runs the default detector.
func DetectSubagent(r *Record, prior PriorContext) SubagentResult {
	return defaultDetector.Detect(r, prior)
}

// WithMeta returns a copy of d whose lookups prefer extra over the built-in
// presentation table.
func (d *Detector) WithMeta(extra []SubagentMeta) *Detector {
	nd := &Detector{prefix: d.prefix, rules: d.rules, meta: make(map[string]SubagentMeta, len(d.meta)+len(extra))}
	for k, v := range d.meta {
		nd.meta[k] = v
	}
	for _, m := range extra {
		if m.Label == "" {
			continue
		}
		nd.meta[m.Label] = m
	}
	return nd
}

// Rules returns a copy of the detector's external tool table.
func (d *Detector) Rules() []ToolRule {
	out := make([]ToolRule, len(d.rules))
	copy(out, d.rules)
	return out
}

// Detect resolves the subagent of r. Resolution order:
//  1. an explicit subagent name
//  2. an explicit isSidechain flag (false ends the search)
//  3. a Task tool use in prior with input.subagent_type
//  4. an external tool use in prior matching a rule
//
// A sidechain that none of these label gets UnknownSubagent. Without any
// signal the record is on the main chain.
func (d *Detector) Detect(r *Record, prior PriorContext) SubagentResult {
	if r.Role == RoleUnknown {
		return SubagentResult{}
	}

	if name := strings.TrimSpace(r.SubagentName); name != "" {
		return SubagentResult{IsSidechain: true, Label: name}
	}

	if r.SidechainFlag != nil {
		if !*r.SidechainFlag {
			return SubagentResult{}
		}
		label := d.infer(prior)
		if label == "" {
			label = UnknownSubagent
		}
		return SubagentResult{IsSidechain: true, Label: label}
	}

	if label := d.infer(prior); label != "" {
		return SubagentResult{IsSidechain: true, Label: label}
	}
	return SubagentResult{}
}

func (d *Detector) infer(prior PriorContext) string {
	for _, tu := range prior.ToolUses {
		if tu.Name != "Task" {
			continue
		}
		if st := strings.TrimSpace(tu.InputString("subagent_type")); st != "" {
			return st
		}
	}
	for _, tu := range prior.ToolUses {
		if label := d.matchExternalTool(tu.Name); label != "" {
			return label
		}
	}
	return ""
}

func (d *Detector) matchExternalTool(name string) string {
	if !strings.HasPrefix(name, d.prefix) {
		return ""
	}
	lower := strings.ToLower(name)
	for _, rule := range d.rules {
		if strings.Contains(lower, rule.Contains) {
			return rule.Label
		}
	}
	return ""
}

// SubagentMeta is the presentation entry for a subagent label.
type SubagentMeta struct {
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

var genericSubagent = SubagentMeta{Icon: "🤖", DisplayName: "Sub Agent", Color: "#6B7280"}

var subagentMeta = map[string]SubagentMeta{
	"general-purpose":    {Icon: "🧭", DisplayName: "General Purpose", Color: "#3B82F6"},
	"code-reviewer":      {Icon: "🔍", DisplayName: "Code Reviewer", Color: "#10B981"},
	"design-analyst":     {Icon: "🎨", DisplayName: "Design Analyst", Color: "#EC4899"},
	"Explore":            {Icon: "🗺", DisplayName: "Explorer", Color: "#F59E0B"},
	"Plan":               {Icon: "📋", DisplayName: "Planner", Color: "#8B5CF6"},
	"statusline-setup":   {Icon: "⚙", DisplayName: "Statusline Setup", Color: "#64748B"},
	"output-style-setup": {Icon: "✎", DisplayName: "Output Style Setup", Color: "#64748B"},
	UnknownSubagent:      {Icon: "❔", DisplayName: "Unknown Sub Agent", Color: "#9CA3AF"},
}

// LookupSubagent returns presentation metadata for label, falling back to
// the generic "Sub Agent" entry.
func LookupSubagent(label string) SubagentMeta {
	m, ok := subagentMeta[label]
	if !ok {
		m = genericSubagent
	}
	m.Label = label
	return m
}

// Lookup is LookupSubagent with d's presentation overrides applied. Empty
// override fields keep the built-in value.
func (d *Detector) Lookup(label string) SubagentMeta {
	m := LookupSubagent(label)
	o, ok := d.meta[label]
	if !ok {
		return m
	}
	if o.Icon != "" {
		m.Icon = o.Icon
	}
	if o.DisplayName != "" {
		m.DisplayName = o.DisplayName
	}
	if o.Color != "" {
		m.Color = o.Color
	}
	return m
}

// KnownSubagents returns the label vocabulary, sorted by label, including
// the labels of d's external tool rules and presentation overrides.
func (d *Detector) KnownSubagents() []SubagentMeta {
	seen := make(map[string]bool, len(subagentMeta)+len(d.rules)+len(d.meta))
	var out []SubagentMeta
	add := func(label string) {
		if seen[label] {
			return
		}
		seen[label] = true
		out = append(out, d.Lookup(label))
	}
	for label := range subagentMeta {
		add(label)
	}
	for _, r := range d.rules {
		add(r.Label)
	}
	for label := range d.meta {
		add(label)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// KnownSubagents returns the vocabulary of the default detector.
func KnownSubagents() []SubagentMeta {
	return defaultDetector.KnownSubagents()
}
