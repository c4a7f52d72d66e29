package domain

import "encoding/json"

// PartType discriminates message parts.
type PartType string

const (
	PartNone       PartType = ""
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// ToolCallState tracks a tool call part through its lifecycle.
type ToolCallState string

const (
	ToolCallPending  ToolCallState = "pending"
	ToolCallRunning  ToolCallState = "running"
	ToolCallComplete ToolCallState = "complete"
	ToolCallError    ToolCallState = "error"
)

// Part is a segment of an in-flight or finalized message. The Type field
// selects which fields are meaningful: text and reasoning parts carry
// Content/Rendered/Frame; tool-call parts carry the Call* fields plus any
// interactive steps collected during execution.
//
// Ordering within a message's parts slice is render order and is never
// changed once a part is created.
type Part struct {
	ID   string   `json:"id"`
	Type PartType `json:"type"`

	// Text / reasoning fields.
	Content  string `json:"content,omitempty"`
	Rendered string `json:"rendered,omitempty"`
	Frame    *Frame `json:"frame,omitempty"`

	// Tool call fields.
	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	State     ToolCallState   `json:"state,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Emissions []Step          `json:"emissions,omitempty"`
	Elicits   []Elicitation   `json:"elicits,omitempty"`
}

// IsText reports whether this is a text part.
func (p *Part) IsText() bool { return p.Type == PartText }

// IsReasoning reports whether this is a reasoning part.
func (p *Part) IsReasoning() bool { return p.Type == PartReasoning }

// IsToolCall reports whether this is a tool call part.
func (p *Part) IsToolCall() bool { return p.Type == PartToolCall }

// Display returns the best available display string for the part: the
// rendered form when a frame has been attached, the raw content otherwise.
func (p *Part) Display() string {
	if p.Rendered != "" {
		return p.Rendered
	}
	return p.Content
}
