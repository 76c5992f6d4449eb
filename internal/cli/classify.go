package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

const previewRunes = 100

type classifyOptions struct {
	categories []string
	subagents  []string
	sidechain  bool
	mainChain  bool
	from       int
	jsonOut    bool
	tz         string
}

func newClassifyCmd(a *app) *cobra.Command {
	var opts classifyOptions
	cmd := &cobra.Command{
		Use:   "classify FILE",
		Short: "Classify a transcript locally",
		Long: `Classifies every line of a Claude Code JSONL transcript and prints the records
with their category and subagent, followed by a summary.

Examples:
  vibe-review classify session.jsonl
  vibe-review classify session.jsonl --category tool_use --category thinking
  vibe-review classify session.jsonl --subagent code-reviewer
  vibe-review classify session.jsonl --from 120 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			loc := time.Local
			if opts.tz != "" {
				if loc, err = time.LoadLocation(opts.tz); err != nil {
					return fmt.Errorf("unknown time zone %q", opts.tz)
				}
			}
			if opts.from < 0 {
				return fmt.Errorf("--from must not be negative")
			}

			lines, _, err := readLines(args[0])
			if err != nil {
				return err
			}
			p, err := a.processor()
			if err != nil {
				return err
			}
			res := p.ProcessLines(lines, transcript.Checkpoint{ExistingLineCount: opts.from})

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return writeClassifyJSON(out, res, filter)
			}
			renderRecords(out, filter.Apply(res.NewRecords()), p.Detector(), loc)
			renderSummary(out, res, p.Detector())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&opts.categories, "category", "c", nil, "only show these categories (repeatable)")
	f.StringSliceVarP(&opts.subagents, "subagent", "s", nil, "only show sidechain records of these subagents (repeatable)")
	f.BoolVar(&opts.sidechain, "sidechain", false, "only show sidechain records")
	f.BoolVar(&opts.mainChain, "main", false, "only show main-chain records")
	f.IntVar(&opts.from, "from", 0, "treat the first N lines as already processed")
	f.BoolVar(&opts.jsonOut, "json", false, "print records as JSON")
	f.StringVar(&opts.tz, "tz", "", "IANA time zone for timestamps (default local)")
	cmd.MarkFlagsMutuallyExclusive("sidechain", "main")
	return cmd
}

func (o classifyOptions) filter() (transcript.Filter, error) {
	var f transcript.Filter
	for _, s := range o.categories {
		c, ok := transcript.ParseCategory(strings.TrimSpace(s))
		if !ok {
			return f, fmt.Errorf("unknown category %q (want one of %s)", s, categoryList())
		}
		f.Categories = append(f.Categories, c)
	}
	for _, s := range o.subagents {
		if s = strings.TrimSpace(s); s != "" {
			f.SubagentLabels = append(f.SubagentLabels, s)
		}
	}
	switch {
	case o.sidechain:
		v := true
		f.Sidechain = &v
	case o.mainChain:
		v := false
		f.Sidechain = &v
	}
	return f, nil
}

func categoryList() string {
	var names []string
	for _, c := range transcript.AllCategories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

type classifyJSON struct {
	TotalProcessed int                         `json:"total_processed"`
	NewCount       int                         `json:"new_count"`
	Records        []transcript.Record         `json:"records"`
	Categories     map[transcript.Category]int `json:"categories"`
}

func writeClassifyJSON(w io.Writer, res transcript.Result, filter transcript.Filter) error {
	records := filter.Apply(res.NewRecords())
	if records == nil {
		records = []transcript.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(classifyJSON{
		TotalProcessed: res.TotalProcessed,
		NewCount:       res.NewCount,
		Records:        records,
		Categories:     transcript.CountByCategory(res.NewRecords()),
	})
}

// renderRecords prints one line per record:
// sequence, time, category, subagent badge, preview and token usage.
func renderRecords(w io.Writer, records []transcript.Record, d *transcript.Detector, loc *time.Location) {
	for i := range records {
		r := &records[i]
		var b strings.Builder
		b.WriteString(styleSeq.Render(fmt.Sprintf("#%d", r.Sequence)))
		b.WriteString("  ")
		b.WriteString(styleDim.Render(transcript.FormatTimestampIn(r.Timestamp, loc)))
		b.WriteString("  ")
		b.WriteString(categoryStyle(r.Category).Render(string(r.Category)))
		if r.IsSidechain && r.SubagentLabel != "" {
			meta := d.Lookup(r.SubagentLabel)
			b.WriteString(subagentStyle(meta).Render(fmt.Sprintf("[%s %s]", meta.Icon, meta.DisplayName)))
			b.WriteString(" ")
		}
		b.WriteString(preview(r))
		if tokens := transcript.FormatTokenUsage(r.Usage); tokens != "" {
			b.WriteString(" ")
			b.WriteString(styleDim.Render("(" + tokens + ")"))
		}
		fmt.Fprintln(w, b.String())
	}
}

// renderSummary prints per-category and per-subagent counts and the cost
// estimate of every processed record.
func renderSummary(w io.Writer, res transcript.Result, d *transcript.Detector) {
	fmt.Fprintln(w)
	printf(w, "%s %s lines, %s new\n", styleHeader.Render("Processed"),
		humanize.Comma(int64(res.TotalProcessed)), humanize.Comma(int64(res.NewCount)))

	counts := transcript.CountByCategory(res.Records)
	for _, c := range transcript.AllCategories() {
		if counts[c] == 0 {
			continue
		}
		printf(w, "  %s %s\n", categoryStyle(c).Render(string(c)), humanize.Comma(int64(counts[c])))
	}

	subagents := transcript.CountBySubagent(res.Records)
	if len(subagents) > 0 {
		labels := make([]string, 0, len(subagents))
		for l := range subagents {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		fmt.Fprintln(w, styleHeader.Render("Subagents"))
		for _, l := range labels {
			meta := d.Lookup(l)
			printf(w, "  %s %s\n", subagentStyle(meta).Render(meta.Icon+" "+meta.DisplayName), humanize.Comma(int64(subagents[l])))
		}
	}

	printf(w, "%s $%s\n", styleHeader.Render("Estimated cost"), transcript.EstimateCost(res.Records).StringFixed(4))
}

// preview is a one-line excerpt of the record's content.
func preview(r *transcript.Record) string {
	var text string
	if !r.Payload.IsList {
		text = r.Payload.Text
	} else {
		parts := make([]string, 0, len(r.Payload.Items))
		for _, item := range r.Payload.Items {
			switch it := item.(type) {
			case transcript.Text:
				parts = append(parts, it.Text)
			case transcript.ToolUse:
				parts = append(parts, "→ "+it.Name)
			case transcript.ToolResult:
				parts = append(parts, "← "+it.Content)
			case transcript.Thinking:
				parts = append(parts, "(thinking) "+it.Text)
			case transcript.Image:
				parts = append(parts, "[image]")
			case transcript.Opaque:
				parts = append(parts, "["+it.Type+"]")
			}
		}
		text = strings.Join(parts, " ")
	}
	if text == "" && r.Role == transcript.RoleUnknown {
		text = r.Raw
	}
	return truncate(strings.Join(strings.Fields(text), " "), previewRunes)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
