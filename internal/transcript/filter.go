package transcript

// Filter selects records by category and subagent. Empty fields match
// everything.
type Filter struct {
	Categories     []Category
	SubagentLabels []string
	Sidechain      *bool
}

// IsZero reports whether f matches every record.
func (f Filter) IsZero() bool {
	return len(f.Categories) == 0 && len(f.SubagentLabels) == 0 && f.Sidechain == nil
}

// Match reports whether r passes f.
func (f Filter) Match(r *Record) bool {
	if len(f.Categories) > 0 && !containsCategory(f.Categories, r.Category) {
		return false
	}
	if len(f.SubagentLabels) > 0 {
		if !r.IsSidechain || !containsString(f.SubagentLabels, r.SubagentLabel) {
			return false
		}
	}
	if f.Sidechain != nil && r.IsSidechain != *f.Sidechain {
		return false
	}
	return true
}

// Apply returns the records that pass f, in order.
func (f Filter) Apply(records []Record) []Record {
	if f.IsZero() {
		return records
	}
	out := make([]Record, 0, len(records))
	for i := range records {
		if f.Match(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

// CountByCategory counts records per category. Every category is present
// in the result, with zero when unused.
func CountByCategory(records []Record) map[Category]int {
	counts := make(map[Category]int, len(allCategories))
	for _, c := range allCategories {
		counts[c] = 0
	}
	for i := range records {
		counts[records[i].Category]++
	}
	return counts
}

// CountBySubagent counts sidechain records per subagent label.
func CountBySubagent(records []Record) map[string]int {
	counts := make(map[string]int)
	for i := range records {
		if records[i].IsSidechain {
			counts[records[i].SubagentLabel]++
		}
	}
	return counts
}

func containsCategory(list []Category, c Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
