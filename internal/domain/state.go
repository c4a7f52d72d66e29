package domain

import "encoding/json"

// StreamingState is the in-flight message state. Reset on streaming_start and
// reset patches, cleared on streaming_end.
type StreamingState struct {
	Parts          []Part   `json:"parts"`
	ActivePartID   string   `json:"active_part_id,omitempty"`
	ActivePartType PartType `json:"active_part_type,omitempty"`
}

// PendingHandoff is a tool call suspended between its server-side before
// phase and client execution. Created on pending_handoff, destroyed on
// handoff_complete.
type PendingHandoff struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Params    json.RawMessage `json:"params,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Authority Authority       `json:"authority"`
}

// ChatState is the single state root produced by the reducer. The reducer is
// the sole writer; every transition returns a new value and callers must
// treat the maps and slices as immutable snapshots.
type ChatState struct {
	Messages  []Message      `json:"messages"`
	Streaming StreamingState `json:"streaming"`

	// FinalizedParts preserves rendered parts per completed message so the
	// history keeps rich rendering. Keyed by message id.
	FinalizedParts map[string][]Part `json:"finalized_parts,omitempty"`

	PendingHandoffs map[string]PendingHandoff `json:"pending_handoffs,omitempty"`
	ToolEmissions   map[string]ExecutionTrail `json:"tool_emissions,omitempty"`
	Elicitations    map[string]Elicitation    `json:"elicitations,omitempty"`

	IsStreaming  bool         `json:"is_streaming"`
	Err          string       `json:"error,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	Persona      string       `json:"persona,omitempty"`
}

// NewChatState returns the initial state.
func NewChatState() ChatState {
	return ChatState{
		FinalizedParts:  map[string][]Part{},
		PendingHandoffs: map[string]PendingHandoff{},
		ToolEmissions:   map[string]ExecutionTrail{},
		Elicitations:    map[string]Elicitation{},
	}
}

// LastAssistantMessage returns the most recent assistant message, or nil.
func (s *ChatState) LastAssistantMessage() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return &s.Messages[i]
		}
	}
	return nil
}

// ActivePart returns the streaming part matching ActivePartID, or nil.
func (s *ChatState) ActivePart() *Part {
	if s.Streaming.ActivePartID == "" {
		return nil
	}
	for i := range s.Streaming.Parts {
		if s.Streaming.Parts[i].ID == s.Streaming.ActivePartID {
			return &s.Streaming.Parts[i]
		}
	}
	return nil
}
