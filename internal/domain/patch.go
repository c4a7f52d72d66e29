package domain

import "encoding/json"

// PatchKind identifies the kind of patch applied to ChatState.
//
// The set is closed: the reducer switches over every kind listed here, so an
// unhandled addition is visible at review time. Unknown kinds arriving off the
// wire still degrade to a no-op (availability over strictness).
type PatchKind string

const (
	// Session lifecycle.
	PatchSessionInfo PatchKind = "session_info"
	PatchReset       PatchKind = "reset"

	// Message lifecycle.
	PatchUserMessage      PatchKind = "user_message"
	PatchAssistantMessage PatchKind = "assistant_message"
	PatchStreamingStart   PatchKind = "streaming_start"
	PatchStreamingEnd     PatchKind = "streaming_end"
	PatchAbortComplete    PatchKind = "abort_complete"
	PatchError            PatchKind = "error"

	// Content streaming.
	PatchStreamingText      PatchKind = "streaming_text"
	PatchStreamingReasoning PatchKind = "streaming_reasoning"
	PatchPartFrame          PatchKind = "part_frame"
	PatchPartEnd            PatchKind = "part_end"

	// Tool lifecycle.
	PatchToolCallStart  PatchKind = "tool_call_start"
	PatchToolCallResult PatchKind = "tool_call_result"
	PatchToolCallError  PatchKind = "tool_call_error"

	// Interactive-tool lifecycle.
	PatchPendingHandoff  PatchKind = "pending_handoff"
	PatchHandoffComplete PatchKind = "handoff_complete"
	PatchEmissionStart   PatchKind = "tool_emission_start"
	PatchEmissionStep    PatchKind = "tool_emission_step"
	PatchEmissionRespond PatchKind = "tool_emission_response"
	PatchEmissionEnd     PatchKind = "tool_emission_complete"
	PatchElicitRequest   PatchKind = "elicit_request"
	PatchElicitRespond   PatchKind = "elicit_response"
	PatchElicitEnd       PatchKind = "elicit_complete"
)

// Patch is a single immutable event applied to ChatState. Exactly one payload
// field is populated, selected by Kind. Patches are totally ordered per
// session; replaying the same sequence always yields the same state.
type Patch struct {
	Kind PatchKind `json:"kind"`

	Session  *SessionInfo   `json:"session,omitempty"`
	Message  *Message       `json:"message,omitempty"`
	Content  string         `json:"content,omitempty"`
	Part     *PartPatch     `json:"part,omitempty"`
	Tool     *ToolPatch     `json:"tool,omitempty"`
	Handoff  *HandoffPatch  `json:"handoff,omitempty"`
	Emission *EmissionPatch `json:"emission,omitempty"`
	Elicit   *ElicitPatch   `json:"elicit,omitempty"`
	Err      *ErrorPatch    `json:"error,omitempty"`
}

// SessionInfo announces session-level negotiated state. It must be the first
// non-debug patch of a session.
type SessionInfo struct {
	SessionID    string       `json:"session_id"`
	Capabilities Capabilities `json:"capabilities"`
	Persona      string       `json:"persona,omitempty"`
}

// PartPatch carries frame attachment (part_frame) or finalization (part_end)
// for a streaming part. PartID and PartType identify the target part; the
// pipeline assigns its own ids, so the reducer matches by part type first and
// falls back to the id.
type PartPatch struct {
	PartID   string   `json:"part_id"`
	PartType PartType `json:"part_type"`
	Frame    *Frame   `json:"frame,omitempty"`
}

// ToolPatch carries tool call lifecycle data.
type ToolPatch struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// HandoffPatch suspends (pending_handoff) or resolves (handoff_complete) a
// three-phase tool call at the server/client trust boundary.
type HandoffPatch struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Authority Authority       `json:"authority,omitempty"`
}

// EmissionPatch carries interactive steps published by a tool's client phase.
type EmissionPatch struct {
	CallID   string          `json:"call_id"`
	Step     *Step           `json:"step,omitempty"`
	StepID   string          `json:"step_id,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ElicitPatch carries structured user-input requests issued by a tool.
type ElicitPatch struct {
	CallID   string          `json:"call_id"`
	Key      string          `json:"key,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Respond  ElicitResponder `json:"-"`
	Response *ElicitResult   `json:"response,omitempty"`
}

// ErrorPatch surfaces a session-level failure. Recoverable errors leave the
// session usable for further turns.
type ErrorPatch struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// ElicitResponder resolves a pending elicitation exactly once.
type ElicitResponder func(ElicitResult)

// ElicitAction is the client's disposition of an elicitation request.
type ElicitAction string

const (
	ElicitAccept  ElicitAction = "accept"
	ElicitDecline ElicitAction = "decline"
	ElicitCancel  ElicitAction = "cancel"
)

// ElicitResult is the answer to an elicitation request.
type ElicitResult struct {
	Action  ElicitAction    `json:"action"`
	Content json.RawMessage `json:"content,omitempty"`
}
