package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/lexrag/internal/domain"
)

const systemInstruction = `You are a legal research assistant. Answer the user's question using only the numbered sources provided below.

Rules:
- Cite sources inline as [Source N], where N is the number of the source you rely on.
- Quote the exact statutory or judicial language when it settles the point.
- If the sources do not answer the question, say so plainly instead of guessing.
- You may structure longer answers with short headings such as **Answer**, **Legal Basis** and **Practical Steps**.
- Do not give definitive legal advice; describe what the law provides.`

// promptInput is everything that goes into one generation prompt.
type promptInput struct {
	Query   string
	Context AssembledContext
}

// buildPrompt renders the system and user messages for one answer.
func buildPrompt(in promptInput) []domain.ChatMessage {
	var sb strings.Builder
	sb.WriteString(systemInstruction)

	if in.Context.Retrieval != "" {
		sb.WriteString("\n\n## Sources\n\n")
		sb.WriteString(in.Context.Retrieval)
	}
	if in.Context.Memory != "" {
		sb.WriteString("\n\n## Earlier consultations\n\n")
		sb.WriteString(in.Context.Memory)
	}
	if in.Context.History != "" {
		sb.WriteString("\n\n## Conversation so far\n\n")
		sb.WriteString(in.Context.History)
	}

	return []domain.ChatMessage{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: in.Query},
	}
}

// formatSources renders candidates as the numbered source list the
// citation markers refer to.
func formatSources(candidates []*domain.RankedCandidate) string {
	var sb strings.Builder
	for i, c := range candidates {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Source %d] %s", i+1, sourceTitle(c))
		if cit := strings.TrimSpace(c.Chunk.Metadata.Citation); cit != "" && cit != sourceTitle(c) {
			fmt.Fprintf(&sb, " (%s)", cit)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(c.Chunk.Content))
	}
	return sb.String()
}

// formatHistory renders the caller's history, falling back to the recent
// turns from memory when the caller sent none.
func formatHistory(history []domain.HistoryMessage, recent []domain.ConversationTurn) string {
	var sb strings.Builder
	write := func(role, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", role, content)
	}

	if len(history) > 0 {
		for _, m := range history {
			write(roleLabel(domain.Role(m.Role)), m.Content)
		}
		return sb.String()
	}
	for _, t := range recent {
		write(roleLabel(t.Role), t.Content)
	}
	return sb.String()
}

// formatMemory renders the summary and related turns from other conversations.
func formatMemory(mc domain.MemoryContext) string {
	var sb strings.Builder
	if s := strings.TrimSpace(mc.Summary); s != "" {
		sb.WriteString("Summary of this conversation: ")
		sb.WriteString(s)
	}
	for _, st := range mc.RelevantHistory {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- (%s) %s", roleLabel(st.Turn.Role), truncateRunes(strings.TrimSpace(st.Turn.Content), 500))
	}
	return sb.String()
}
