package research

import (
	"fmt"
	"strings"
)

// repetitionBypassBytes is the size above which the line-repetition
// heuristic is skipped entirely: large wiki scrapes legitimately repeat
// navigational and structural phrasing, and the heuristic is calibrated
// for LLM output collapse, not scraped source material.
const repetitionBypassBytes = 50 * 1024

// repetitionThreshold flags content whose most-frequent non-trivial line
// accounts for more than this share of all lines — the signature of a
// model stuck in a loop.
const repetitionThreshold = 0.30

// ValidateScrapedContent checks harvested content for the failure shapes
// that would poison downstream interpretation. Returns an empty string
// when the content is acceptable, otherwise a short issue description.
func ValidateScrapedContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) < 200 {
		return fmt.Sprintf("content too short (%d bytes)", len(trimmed))
	}
	if len(trimmed) > repetitionBypassBytes {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	counts := map[string]int{}
	total := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 20 {
			continue
		}
		counts[line]++
		total++
	}
	if total < 10 {
		return ""
	}
	for line, n := range counts {
		if float64(n)/float64(total) > repetitionThreshold {
			return fmt.Sprintf("repetition collapse: %q is %d of %d lines", truncateLine(line), n, total)
		}
	}
	return ""
}

func truncateLine(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
