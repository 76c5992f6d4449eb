package transcript

import (
	"bufio"
	"io"
	"strings"
)

// Checkpoint is the number of lines of a file already processed in an
// earlier pass.
type Checkpoint struct {
	ExistingLineCount int `json:"existing_line_count"`
}

// Advance returns the checkpoint after res has been persisted. It never
// moves backwards.
func (c Checkpoint) Advance(res Result) Checkpoint {
	if res.TotalProcessed > c.ExistingLineCount {
		return Checkpoint{ExistingLineCount: res.TotalProcessed}
	}
	return c
}

// Result is the outcome of one processing pass.
type Result struct {
	TotalProcessed int
	NewCount       int
	Records        []Record
}

// NewRecords returns the records past the checkpoint the pass ran with.
func (r Result) NewRecords() []Record {
	if r.NewCount <= 0 {
		return nil
	}
	return r.Records[len(r.Records)-r.NewCount:]
}

// Processor classifies batches of transcript lines.
type Processor struct {
	detector *Detector
}

// NewProcessor returns a processor using d for subagent detection. A nil d
// selects the default detector.
func NewProcessor(d *Detector) *Processor {
	if d == nil {
		d = defaultDetector
	}
	return &Processor{detector: d}
}

// Detector returns the processor's subagent detector.
func (p *Processor) Detector() *Detector {
	return p.detector
}

// ProcessLines runs the default processor.
func ProcessLines(lines []string, cp Checkpoint) Result {
	return NewProcessor(nil).ProcessLines(lines, cp)
}

// ProcessLines parses and classifies every line. Sequence numbers are the
// 1-based position in lines regardless of cp; cp only decides NewCount.
// Malformed lines yield RoleUnknown records and never stop the batch.
func (p *Processor) ProcessLines(lines []string, cp Checkpoint) Result {
	records := make([]Record, 0, len(lines))
	var prior PriorContext

	for i, line := range lines {
		rec := ParseRecord(line, i+1)
		rec.Category = ResolveCategory(&rec)

		if rec.Role == RoleUser && answersPrior(&rec, prior) {
			// The tool results went back to the turn that issued them, so
			// this record is on the main chain again.
			prior = PriorContext{}
		}

		res := p.detector.Detect(&rec, prior)
		rec.IsSidechain = res.IsSidechain
		rec.SubagentLabel = res.Label

		if rec.Role == RoleAssistant && !rec.IsSidechain {
			prior = PriorContext{ToolUses: rec.ToolUses()}
		}

		records = append(records, rec)
	}

	existing := cp.ExistingLineCount
	if existing < 0 {
		existing = 0
	}
	newCount := len(records) - existing
	if newCount < 0 {
		newCount = 0
	}
	return Result{
		TotalProcessed: len(records),
		NewCount:       newCount,
		Records:        records,
	}
}

// answersPrior reports whether rec carries a tool result for one of the
// tool uses in prior.
func answersPrior(rec *Record, prior PriorContext) bool {
	if len(prior.ToolUses) == 0 {
		return false
	}
	for _, item := range rec.Payload.Items {
		tr, ok := item.(ToolResult)
		if !ok || tr.ToolUseID == "" {
			continue
		}
		for _, tu := range prior.ToolUses {
			if tu.ID == tr.ToolUseID {
				return true
			}
		}
	}
	return false
}

// MaxLineSize bounds a single transcript line read by SplitLines.
const MaxLineSize = 10 * 1024 * 1024

// SplitLines reads newline-delimited lines from r. Blank lines are dropped
// and a trailing carriage return is trimmed.
func SplitLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
