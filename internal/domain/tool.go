package domain

import (
	"context"
	"encoding/json"
	"sort"
)

// Authority selects which side's output is treated as final for a tool call.
type Authority string

const (
	// AuthorityServer runs before() on the trusted host, hands off to the
	// client, then validates with after(). The after() return value is always
	// the surfaced result; the client cannot forge the outcome.
	AuthorityServer Authority = "server"
	// AuthorityClient runs the client first; the server post-processes.
	AuthorityClient Authority = "client"
)

// ParamType is the wire type of a single tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ParamSpec describes one tool parameter. Enum, Optional and Default all map
// property-by-property onto JSON Schema fragments for MCP registration.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Optional    bool      `json:"optional,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// ParamSchema maps parameter names to their specs.
type ParamSchema map[string]ParamSpec

// JSONSchema renders the parameter schema as a JSON Schema object document,
// property by property. Non-optional parameters become required fields.
func (s ParamSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	var required []string
	for name, spec := range s {
		prop := map[string]any{"type": string(spec.Type)}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		if spec.Default != nil {
			prop["default"] = spec.Default
		}
		props[name] = prop
		if !spec.Optional {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// ClientStepContext is the interaction surface a tool's client phase sees.
type ClientStepContext interface {
	// Emit publishes a fire-and-forget step, immediately marked complete.
	Emit(stepType string, payload json.RawMessage)
	// Prompt publishes a pending step and suspends until the UI responds.
	Prompt(ctx context.Context, stepType string, payload json.RawMessage) (json.RawMessage, error)
}

// HandoffInput is what the client phase receives: the original params plus
// the before-phase output.
type HandoffInput struct {
	Params json.RawMessage
	Data   json.RawMessage
}

// AfterInput is what the server's after phase combines into the final result.
type AfterInput struct {
	Params       json.RawMessage
	HandoffData  json.RawMessage
	ClientResult json.RawMessage
}

// HandoffSpec is the three-phase configuration for an isomorphic tool.
type HandoffSpec struct {
	Before func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	Client func(ctx context.Context, in HandoffInput, steps ClientStepContext) (json.RawMessage, error)
	After  func(ctx context.Context, in AfterInput) (json.RawMessage, error)
}

// ToolSpec defines a tool consumed by the executor. Exactly one of Execute
// and Handoff is set: simple tools run a single client-context phase, handoff
// tools run the before/client/after dance across the trust boundary.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ParamSchema
	Authority   Authority
	Execute     func(ctx context.Context, params json.RawMessage, steps ClientStepContext) (json.RawMessage, error)
	Handoff     *HandoffSpec
}

// IsHandoff reports whether the tool uses the three-phase pattern.
func (t *ToolSpec) IsHandoff() bool { return t.Handoff != nil }

// SampleRequest asks the host to run an LLM call on behalf of a tool.
type SampleRequest struct {
	System    string    `json:"system,omitempty"`
	Prompt    string    `json:"prompt"`
	Messages  []Message `json:"messages,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// SampleResult is the host's sampling answer.
type SampleResult struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// BranchOptions controls how a nested branch relates to its parent
// conversation.
type BranchOptions struct {
	// InheritMessages seeds the branch with the parent's conversation.
	InheritMessages bool
	// MaxDepth bounds further nesting below this branch. Zero means the
	// branch may not nest again.
	MaxDepth int
}

// BranchBody is the client-phase logic of a branch, driven by the runtime.
type BranchBody func(ctx context.Context, bc BranchContext) (json.RawMessage, error)

// BranchContext is the action surface a branch tool's logic sees. Each method
// corresponds to one typed action the driving runtime interprets against the
// host: sampling, elicitation, logging, progress, or a nested sub-branch.
type BranchContext interface {
	Sample(ctx context.Context, req SampleRequest) (SampleResult, error)
	Elicit(ctx context.Context, key string, payload json.RawMessage) (ElicitResult, error)
	Log(level string, message string)
	Notify(progress float64, message string)
	Branch(ctx context.Context, body BranchBody, opts BranchOptions) (json.RawMessage, error)
}

// ElicitSpec declares the schema an elicitation key's response must satisfy.
type ElicitSpec struct {
	Response ParamSchema
}

// BranchToolSpec defines a tool whose logic runs under the branch protocol
// runtime, with declared elicitations and capability requirements checked
// before execution.
type BranchToolSpec struct {
	Name        string
	Description string
	Schema      ParamSchema
	Requires    CapabilityRequirements
	Elicits     map[string]ElicitSpec
	Run         func(ctx context.Context, bc BranchContext, params json.RawMessage) (json.RawMessage, error)
}

// SamplingHost performs real LLM sampling for branch tools.
type SamplingHost interface {
	CreateMessage(ctx context.Context, req SampleRequest) (SampleResult, error)
}

// ElicitationHost delivers elicitation requests to whatever surface can
// answer them (interactive client, MCP host).
type ElicitationHost interface {
	ElicitInput(ctx context.Context, callID, key string, payload json.RawMessage) (ElicitResult, error)
}

// ProgressHost receives best-effort progress notifications.
type ProgressHost interface {
	NotifyProgress(ctx context.Context, callID string, progress float64, message string) error
}
