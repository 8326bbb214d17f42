package service

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/lexrag/internal/domain"
)

const (
	// Disclaimer is appended to every final answer.
	Disclaimer = "\n\n---\n*This response is general legal information, not legal advice. " +
		"Laws change and depend on your facts and jurisdiction; consult a qualified lawyer before acting on it.*"

	// NoSourcesAnswer is returned when no source passed retrieval.
	NoSourcesAnswer = "I could not find verified legal sources in the knowledge base that address this question, " +
		"so I will not answer it from memory.\n\n" +
		"**What you can do:**\n" +
		"- Rephrase the question with the relevant statute, section or case name.\n" +
		"- Narrow it to a specific jurisdiction or area of law.\n" +
		"- Consult a qualified lawyer for advice on your situation."

	// UserStoppedMarker is appended to answers the caller cancelled.
	UserStoppedMarker = "\n\n*[Response stopped by user]*"

	citationWarningNote = "> **Note:** this answer does not cite the retrieved sources explicitly. " +
		"Check it against the sources listed below.\n\n"

	casualReplyMaxChars = 200
	minQuotedSpan       = 12
)

var (
	// "[Source 2]", "[2]" and "(Source 2)"; a bare "(2)" is a sub-section, not a marker.
	placeholderPattern = regexp.MustCompile(`(?i)\[\s*(?:(?:source|document|doc|ref)\s*)?#?\s*(\d{1,2})\s*\]|\(\s*(?:source|document|doc|ref)\s*#?\s*(\d{1,2})\s*\)`)
	quotedSpanPattern  = regexp.MustCompile(`"[^"\n]{` + strconv.Itoa(minQuotedSpan) + `,}"|“[^”\n]{` + strconv.Itoa(minQuotedSpan) + `,}”`)
	headingPattern     = regexp.MustCompile(`(?m)^\s*(?:#{1,6}\s+\S|\*\*[^*\n]{2,60}\*\*:?\s*$)`)
	casualPattern      = regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|thanks|thank you|you're welcome|you are welcome|good (?:morning|afternoon|evening)|glad|sure|okay|ok)\b`)
)

// ProcessedAnswer is the caller-facing result of one answer.
type ProcessedAnswer struct {
	Text            string
	Sources         []domain.Source
	Confidence      int
	CitationWarning bool
}

// PostProcessor turns generated text into a cited, disclaimed answer.
type PostProcessor struct {
	minSimilarity float64
	maxSources    int
}

func NewPostProcessor(minSimilarity float64, maxSources int) *PostProcessor {
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}
	return &PostProcessor{minSimilarity: minSimilarity, maxSources: maxSources}
}

// Process resolves citations, decides on the citation note, builds the source
// list and appends the disclaimer. contextSources are the candidates in the
// order they were numbered in the prompt.
func (p *PostProcessor) Process(raw string, contextSources []*domain.RankedCandidate) ProcessedAnswer {
	resolved := ResolveCitations(raw, SourceTitles(contextSources))
	sources := p.CreateSources(contextSources)

	warn := len(sources) > 0 && NeedsCitationWarning(resolved, sources)
	text := resolved
	if warn {
		text = citationWarningNote + text
	}

	return ProcessedAnswer{
		Text:            text + Disclaimer,
		Sources:         sources,
		Confidence:      Confidence(sources),
		CitationWarning: warn,
	}
}

// NoSources returns the fixed answer for a request without accepted sources.
func (p *PostProcessor) NoSources() ProcessedAnswer {
	return ProcessedAnswer{
		Text:       NoSourcesAnswer + Disclaimer,
		Sources:    []domain.Source{},
		Confidence: 0,
	}
}

// CreateSources filters candidates by threshold, caps them, and deduplicates
// the resulting sources by title keeping the first.
func (p *PostProcessor) CreateSources(candidates []*domain.RankedCandidate) []domain.Source {
	filtered := make([]*domain.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.Score >= p.minSimilarity {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > p.maxSources {
		filtered = filtered[:p.maxSources]
	}

	seen := make(map[string]struct{}, len(filtered))
	sources := make([]domain.Source, 0, len(filtered))
	for _, c := range filtered {
		title := sourceTitle(c)
		key := strings.ToLower(strings.TrimSpace(title))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, domain.Source{
			Title:    title,
			Citation: c.Chunk.Metadata.Citation,
			Category: c.Chunk.Metadata.Category,
			URL:      c.Chunk.Metadata.URL,
			Score:    c.Score,
		})
	}
	return sources
}

// Confidence is the mean source score scaled to 0-100.
func Confidence(sources []domain.Source) int {
	if len(sources) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range sources {
		sum += domain.Clamp01(s.Score)
	}
	return int(math.Round(sum / float64(len(sources)) * 100))
}

// SourceTitles returns the display title of each candidate in order.
func SourceTitles(candidates []*domain.RankedCandidate) []string {
	titles := make([]string, len(candidates))
	for i, c := range candidates {
		titles[i] = sourceTitle(c)
	}
	return titles
}

func sourceTitle(c *domain.RankedCandidate) string {
	if c == nil {
		return ""
	}
	if t := strings.TrimSpace(c.Chunk.Metadata.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.Chunk.Metadata.Citation); t != "" {
		return t
	}
	return "Untitled source"
}

// ResolveCitations rewrites "[Source N]"-style markers to the Nth title.
// Markers with no matching source are left as they are.
func ResolveCitations(text string, titles []string) string {
	if len(titles) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(marker string) string {
		m := placeholderPattern.FindStringSubmatch(marker)
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || n > len(titles) || titles[n-1] == "" {
			return marker
		}
		return "[" + titles[n-1] + "]"
	})
}

// NeedsCitationWarning reports whether a substantive answer neither names a
// source title nor quotes anything.
func NeedsCitationWarning(text string, sources []domain.Source) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < casualReplyMaxChars || casualPattern.MatchString(trimmed) {
		return false
	}
	if headingPattern.MatchString(trimmed) {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, s := range sources {
		if t := strings.ToLower(strings.TrimSpace(s.Title)); t != "" && strings.Contains(lower, t) {
			return false
		}
	}
	return !quotedSpanPattern.MatchString(trimmed)
}

// citationRewriter resolves citation markers in streamed text, holding back a
// possibly incomplete marker at the end of the buffer.
type citationRewriter struct {
	titles  []string
	pending string
}

const maxHeldMarker = 16

func newCitationRewriter(titles []string) *citationRewriter {
	return &citationRewriter{titles: titles}
}

// Write accepts a delta and returns the text that is safe to emit.
func (w *citationRewriter) Write(delta string) string {
	w.pending += delta
	hold := strings.LastIndexAny(w.pending, "[(")
	if hold < 0 || strings.ContainsAny(w.pending[hold:], "])") || len(w.pending)-hold > maxHeldMarker {
		out := ResolveCitations(w.pending, w.titles)
		w.pending = ""
		return out
	}
	out := ResolveCitations(w.pending[:hold], w.titles)
	w.pending = w.pending[hold:]
	return out
}

// Flush returns whatever is still held.
func (w *citationRewriter) Flush() string {
	out := ResolveCitations(w.pending, w.titles)
	w.pending = ""
	return out
}
