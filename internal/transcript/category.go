package transcript

// Category is the single filter bucket a record falls into.
type Category string

const (
	CategoryUserText      Category = "user_text"
	CategoryToolResult    Category = "tool_result"
	CategoryAssistantText Category = "assistant_text"
	CategoryToolUse       Category = "tool_use"
	CategoryThinking      Category = "thinking"
	CategoryOther         Category = "other"
)

var allCategories = []Category{
	CategoryUserText,
	CategoryToolResult,
	CategoryAssistantText,
	CategoryToolUse,
	CategoryThinking,
	CategoryOther,
}

// AllCategories returns every category in display order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory reports whether s names a category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range allCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// ResolveCategory picks the category of a record. Rules are checked in order
// and the first match wins; a mixed assistant turn is bucketed by its most
// prominent block (thinking, then tool use, then text).
func ResolveCategory(r *Record) Category {
	switch r.Role {
	case RoleUser:
		if r.hasKind(KindToolResult) {
			return CategoryToolResult
		}
		return CategoryUserText

	case RoleAssistant:
		switch {
		case r.hasKind(KindThinking):
			return CategoryThinking
		case r.hasKind(KindToolUse):
			return CategoryToolUse
		case r.hasKind(KindText):
			return CategoryAssistantText
		case !r.Payload.IsList && r.Payload.Text != "":
			// Plain string content from the assistant is text.
			return CategoryAssistantText
		}
	}
	return CategoryOther
}
