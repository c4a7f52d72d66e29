package domain

import "encoding/json"

// StreamEventType tags wire events in the NDJSON patch stream. The taxonomy
// mirrors the reducer's patch kinds.
type StreamEventType string

const (
	EventSessionInfo     StreamEventType = "session_info"
	EventText            StreamEventType = "text"
	EventThinking        StreamEventType = "thinking"
	EventPartFrame       StreamEventType = "part_frame"
	EventPartEnd         StreamEventType = "part_end"
	EventToolCalls       StreamEventType = "tool_calls"
	EventToolResult      StreamEventType = "tool_result"
	EventToolError       StreamEventType = "tool_error"
	EventComplete        StreamEventType = "complete"
	EventError           StreamEventType = "error"
	EventAborted         StreamEventType = "aborted"
	EventPendingHandoff  StreamEventType = "pending_handoff"
	EventHandoffComplete StreamEventType = "handoff_complete"
	EventEmission        StreamEventType = "tool_emission"
	EventElicitRequest   StreamEventType = "elicit_request"
	EventElicitComplete  StreamEventType = "elicit_complete"
)

// WireToolCall is one tool invocation announced in a tool_calls event.
type WireToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// StreamEvent is a single server-to-client wire event.
//
// Text and thinking deltas use the Content field, never a "text" field; the
// field name is part of the wire contract and both variants share it.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	Content string `json:"content,omitempty"`

	// session_info
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	Persona      string        `json:"persona,omitempty"`

	// part_frame / part_end
	Part *PartPatch `json:"part,omitempty"`

	// tool_calls / tool_result / tool_error
	Calls []WireToolCall `json:"calls,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`

	// complete
	Text  string `json:"text,omitempty"`
	Usage *Usage `json:"usage,omitempty"`

	// error / tool_error
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`

	// handoff and elicitation variants
	Handoff *HandoffPatch   `json:"handoff,omitempty"`
	Step    *Step           `json:"step,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Record frames one event with its log sequence number. LSNs are strictly
// monotonically increasing per session; a client resumes by sending the last
// LSN it has seen.
type Record struct {
	LSN   uint64      `json:"lsn"`
	Event StreamEvent `json:"event"`
}
