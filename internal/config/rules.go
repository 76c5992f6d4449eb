// Package config loads the subagent rules file used by the server and the
// CLI configuration file.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

// Rules is the content of a subagent rules file:
//
//	disable_default_rules = false
//
//	[[tool_rule]]
//	contains = "linear"
//	label = "issue-tracker"
//
//	[[subagent]]
//	label = "issue-tracker"
//	icon = "📌"
//	display_name = "Issue Tracker"
//	color = "#0EA5E9"
type Rules struct {
	// DisableDefaultRules drops the built-in external tool table even when
	// no tool_rule entries are given.
	DisableDefaultRules bool                  `toml:"disable_default_rules"`
	ToolRules           []transcript.ToolRule `toml:"tool_rule"`
	Subagents           []SubagentEntry       `toml:"subagent"`
}

// SubagentEntry overrides the presentation of one label.
type SubagentEntry struct {
	Label       string `toml:"label"`
	Icon        string `toml:"icon"`
	DisplayName string `toml:"display_name"`
	Color       string `toml:"color"`
}

// LoadRules reads a rules file. Unknown keys are an error so typos do not
// silently fall back to defaults.
func LoadRules(path string) (*Rules, error) {
	var r Rules
	md, err := toml.DecodeFile(path, &r)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return &r, nil
}

// ParseRules is LoadRules for in-memory content.
func ParseRules(data string) (*Rules, error) {
	var r Rules
	md, err := toml.Decode(data, &r)
	if err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

func (r *Rules) validate() error {
	for i, tr := range r.ToolRules {
		if strings.TrimSpace(tr.Contains) == "" || strings.TrimSpace(tr.Label) == "" {
			return fmt.Errorf("tool_rule %d: contains and label are required", i+1)
		}
	}
	for i, s := range r.Subagents {
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("subagent %d: label is required", i+1)
		}
	}
	return nil
}

// Detector builds a subagent detector from r. Configured tool rules replace
// the built-in table; with none configured the built-in table is kept
// unless DisableDefaultRules is set.
func (r *Rules) Detector() *transcript.Detector {
	var rules []transcript.ToolRule
	switch {
	case len(r.ToolRules) > 0:
		rules = r.ToolRules
	case r.DisableDefaultRules:
		rules = []transcript.ToolRule{}
	}

	meta := make([]transcript.SubagentMeta, 0, len(r.Subagents))
	for _, s := range r.Subagents {
		meta = append(meta, transcript.SubagentMeta{
			Label:       s.Label,
			Icon:        s.Icon,
			DisplayName: s.DisplayName,
			Color:       s.Color,
		})
	}
	return transcript.NewDetector(rules).WithMeta(meta)
}

// DetectorFromFile loads path and builds its detector. An empty path yields
// the default detector.
func DetectorFromFile(path string) (*transcript.Detector, error) {
	if path == "" {
		return transcript.NewDetector(nil), nil
	}
	r, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return r.Detector(), nil
}
