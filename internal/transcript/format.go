package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// InvalidDate is what FormatTimestamp returns for unparseable input.
const InvalidDate = "Invalid Date"

// FormatTimestamp renders raw as a local time of day (HH:MM:SS).
func FormatTimestamp(raw string) string {
	return FormatTimestampIn(raw, time.Local)
}

// FormatTimestampIn renders raw as a time of day in loc.
func FormatTimestampIn(raw string, loc *time.Location) string {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return InvalidDate
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("15:04:05")
}

// FormatTokenUsage summarizes input, output and cache-read counts, skipping
// absent fields. A nil usage formats as "".
func FormatTokenUsage(usage *TokenUsage) string {
	if usage == nil {
		return ""
	}
	var parts []string
	if usage.InputTokens != nil {
		parts = append(parts, "in "+humanize.Comma(*usage.InputTokens))
	}
	if usage.OutputTokens != nil {
		parts = append(parts, "out "+humanize.Comma(*usage.OutputTokens))
	}
	if usage.CacheReadInputTokens != nil {
		parts = append(parts, "cache "+humanize.Comma(*usage.CacheReadInputTokens))
	}
	return strings.Join(parts, " · ")
}

// CalculateDuration returns the time between two raw timestamps in a short
// human form ("3.2s", "2m 10s", "1h 5m"). ok is false when either side is
// missing or unparseable, or when end precedes start.
func CalculateDuration(startRaw, endRaw string) (string, bool) {
	start, err := ParseTimestamp(startRaw)
	if err != nil {
		return "", false
	}
	end, err := ParseTimestamp(endRaw)
	if err != nil {
		return "", false
	}
	if end.Before(start) {
		return "", false
	}
	return FormatDuration(end.Sub(start)), true
}

// FormatDuration renders a non-negative duration the way CalculateDuration
// does.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		d = d.Round(100 * time.Millisecond)
		if d < time.Minute {
			return fmt.Sprintf("%.1fs", d.Seconds())
		}
	}
	if d < time.Hour {
		d = d.Round(time.Second)
		if d < time.Hour {
			return fmt.Sprintf("%dm %ds", int(d/time.Minute), int((d%time.Minute)/time.Second))
		}
	}
	d = d.Round(time.Minute)
	return fmt.Sprintf("%dh %dm", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}
