package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a finalized entry in the conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Usage tracks token consumption for a completed response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatMessage is the render-agnostic projection of one timeline entry,
// produced by the derivation layer for consumption by any UI. Parts carry
// whatever rich rendering survived finalization.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	Streaming bool      `json:"streaming,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Text returns the concatenated raw content of the message's text parts.
func (m *ChatMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Content
		}
	}
	return out
}
