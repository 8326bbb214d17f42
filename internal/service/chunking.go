package service

import (
	"strings"
	"unicode"
)

// SplitConfig controls how long source texts are cut into indexable spans.
type SplitConfig struct {
	MaxChars int
	// MinChars is the shortest span a whitespace cut may produce.
	MinChars int
	Overlap  int
	MaxSpans int
}

// DefaultSplitConfig keeps statutory sections mostly whole.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		MaxChars: 1500,
		MinChars: 500,
		Overlap:  200,
		MaxSpans: 200,
	}
}

// splitText cuts text into overlapping spans of at most MaxChars runes,
// preferring to end a span at whitespace.
func splitText(text string, cfg SplitConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultSplitConfig()
	}
	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}
	}

	spans := make([]string, 0, len(runes)/cfg.MaxChars+1)
	for start := 0; start < len(runes); {
		if cfg.MaxSpans > 0 && len(spans) >= cfg.MaxSpans {
			break
		}
		end := min(start+cfg.MaxChars, len(runes))
		if end < len(runes) {
			end = whitespaceCut(runes, start, end, cfg.MinChars)
		}
		if span := strings.TrimSpace(string(runes[start:end])); span != "" {
			spans = append(spans, span)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			next = end - cfg.Overlap
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// whitespaceCut moves end back to just after the last whitespace rune, but
// not below start+minChars.
func whitespaceCut(runes []rune, start, end, minChars int) int {
	floor := start + minChars
	if floor > end {
		floor = start
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
