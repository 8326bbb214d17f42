package domain

// ChatMessage is one message of a generation prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest carries a prompt and per-call options.
type GenerationRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
}
