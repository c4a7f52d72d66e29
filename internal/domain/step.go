package domain

import "encoding/json"

// StepKind distinguishes fire-and-forget emissions from suspending prompts.
type StepKind string

const (
	StepEmit   StepKind = "emit"
	StepPrompt StepKind = "prompt"
)

// StepStatus tracks a step's resolution. Complete is terminal.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepComplete StepStatus = "complete"
)

// StepResponder resolves a pending prompt step exactly once. Calling it again
// after the step completed is a no-op.
type StepResponder func(json.RawMessage)

// Step records one interactive action taken by a tool's client phase. Emit
// steps are complete on creation; prompt steps stay pending until Respond is
// invoked, which is a one-shot transition.
type Step struct {
	ID       string          `json:"id"`
	Kind     StepKind        `json:"kind"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Status   StepStatus      `json:"status"`
	Respond  StepResponder   `json:"-"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ExecutionTrail is the ordered record of a single tool call's interactive
// steps, keyed by call id in ChatState.
type ExecutionTrail struct {
	CallID string `json:"call_id"`
	Steps  []Step `json:"steps"`
}

// Elicitation is a structured user-input request issued by a tool, tracked in
// ChatState until the tool call completes.
type Elicitation struct {
	CallID   string          `json:"call_id"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Status   StepStatus      `json:"status"`
	Respond  ElicitResponder `json:"-"`
	Response *ElicitResult   `json:"response,omitempty"`
}
