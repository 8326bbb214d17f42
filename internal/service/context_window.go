package service

import "unicode/utf8"

const (
	defaultContextCharLimit = 16000
	// DefaultCharsPerToken is the average used to turn a token allowance into
	// a character budget.
	DefaultCharsPerToken = 4

	// Percent of the total; memory gets the remainder.
	retrievalPercent = 50
	historyPercent   = 35

	// A boundary cut is only taken when it keeps at least this share of the
	// sub-budget; otherwise the text is hard-cut.
	boundaryMinShare = 0.8

	truncationMarker = "\n[... truncated]"
)

// ContextBudget is the character allowance for the assembled prompt context.
type ContextBudget struct {
	Total int
}

// AssembledContext is the budgeted output of Assemble.
type AssembledContext struct {
	History   string
	Retrieval string
	Memory    string
	Truncated bool
}

// Len returns the combined length in characters.
func (a AssembledContext) Len() int {
	return utf8.RuneCountInString(a.History) + utf8.RuneCountInString(a.Retrieval) + utf8.RuneCountInString(a.Memory)
}

// NewContextBudget returns a budget of total characters, or the default when
// total is not positive.
func NewContextBudget(total int) ContextBudget {
	if total <= 0 {
		total = defaultContextCharLimit
	}
	return ContextBudget{Total: total}
}

// BudgetFromTokens derives a character budget from a token allowance.
func BudgetFromTokens(tokens, charsPerToken int) ContextBudget {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return NewContextBudget(tokens * charsPerToken)
}

// SubBudgets splits the total between retrieval, history and memory. The three
// always sum to Total.
func (b ContextBudget) SubBudgets() (retrieval, history, memory int) {
	retrieval = b.Total * retrievalPercent / 100
	history = b.Total * historyPercent / 100
	memory = b.Total - retrieval - history
	return retrieval, history, memory
}

// Assemble fits the three context blobs into the budget.
func (b ContextBudget) Assemble(history, retrieval, memory string) AssembledContext {
	total := utf8.RuneCountInString(history) + utf8.RuneCountInString(retrieval) + utf8.RuneCountInString(memory)
	if total <= b.Total {
		return AssembledContext{History: history, Retrieval: retrieval, Memory: memory}
	}

	retrievalBudget, historyBudget, memoryBudget := b.SubBudgets()
	return AssembledContext{
		History:   truncateToBudget(history, historyBudget),
		Retrieval: truncateToBudget(retrieval, retrievalBudget),
		Memory:    truncateToBudget(memory, memoryBudget),
		Truncated: true,
	}
}

// truncateToBudget cuts text so that text plus the marker fits budget,
// preferring the last sentence or line boundary near the end.
func truncateToBudget(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	marker := []rune(truncationMarker)
	if budget <= len(marker) {
		if budget <= 0 {
			return ""
		}
		return string(runes[:budget])
	}

	limit := budget - len(marker)
	cut := limit
	if boundary := lastBoundary(runes[:limit]); boundary >= int(float64(limit)*boundaryMinShare) {
		cut = boundary
	}
	return string(runes[:cut]) + truncationMarker
}

// lastBoundary returns the index just past the last sentence end or newline
// in runes, or -1.
func lastBoundary(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '\n':
			return i + 1
		case '.', '!', '?':
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}
