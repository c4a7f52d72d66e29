// Package branch drives tools written against the branch protocol: logic that
// suspends on typed actions (sample, elicit, log, notify) which the runtime
// interprets against real hosts, with support for nested sub-conversations.
package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"cadence/internal/domain"
	"cadence/internal/infra/tracer"
)

// PatchSink receives the patches branch execution produces, in order.
type PatchSink func(domain.Patch)

// Config tunes the runtime.
type Config struct {
	// MaxDepth bounds branch nesting from the root invocation. Zero means
	// root-level tools may not branch at all.
	MaxDepth int
	// TokenBudget caps how many tokens of parent conversation an inheriting
	// branch receives. Zero disables trimming.
	TokenBudget int
}

// Runtime executes branch tools against the configured hosts. Capability
// checks happen before any host call; an absent capability is terminal for
// the invocation, while host transport failures degrade to safe defaults.
type Runtime struct {
	cfg         Config
	caps        domain.Capabilities
	sampling    domain.SamplingHost
	elicitation domain.ElicitationHost
	progress    domain.ProgressHost
	counter     TokenCounter
	logger      *slog.Logger

	mu    sync.RWMutex
	tools map[string]*domain.BranchToolSpec
}

// Hosts bundles the capability backends a runtime drives.
type Hosts struct {
	Sampling    domain.SamplingHost
	Elicitation domain.ElicitationHost
	Progress    domain.ProgressHost
}

// New creates a runtime. Capabilities are derived from which hosts are
// present, so negotiation reflects what the process can actually do.
func New(cfg Config, hosts Hosts, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg: cfg,
		caps: domain.Capabilities{
			Sampling:    hosts.Sampling != nil,
			Elicitation: hosts.Elicitation != nil,
		},
		sampling:    hosts.Sampling,
		elicitation: hosts.Elicitation,
		progress:    hosts.Progress,
		counter:     NewTokenCounter(logger),
		tools:       make(map[string]*domain.BranchToolSpec),
		logger:      logger,
	}
}

// Capabilities returns what this runtime advertises to tools and sessions.
func (r *Runtime) Capabilities() domain.Capabilities { return r.caps }

// Register adds a branch tool.
func (r *Runtime) Register(spec *domain.BranchToolSpec) error {
	if spec.Run == nil {
		return domain.NewDomainError("branch.Register", domain.ErrInvalidInput,
			fmt.Sprintf("tool %q has no run body", spec.Name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[spec.Name]; ok {
		return domain.NewDomainError("branch.Register", domain.ErrInvalidInput,
			fmt.Sprintf("tool %q already registered", spec.Name))
	}
	r.tools[spec.Name] = spec
	return nil
}

// Tools returns the registered branch tools in name order.
func (r *Runtime) Tools() []*domain.BranchToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*domain.BranchToolSpec, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Lookup returns the registered branch tool or ErrToolNotFound.
func (r *Runtime) Lookup(name string) (*domain.BranchToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("branch.Lookup", domain.ErrToolNotFound, name)
	}
	return spec, nil
}

// Run executes one branch tool invocation. Parent is the conversation an
// inheriting branch may see; pass nil for an isolated invocation.
func (r *Runtime) Run(ctx context.Context, callID, name string, params json.RawMessage, parent []domain.Message) (json.RawMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "branch.Run")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("tool.name", name),
		tracer.StringAttr("tool.call_id", callID),
	)

	spec, err := r.Lookup(name)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	// Capability negotiation happens before any work: a tool requiring an
	// interaction the host cannot provide fails fast rather than hanging on
	// its first action.
	if !r.caps.Satisfies(spec.Requires) {
		err := domain.NewDomainError("branch.Run", domain.ErrCapabilityMissing,
			fmt.Sprintf("tool %q requires %s", name, describeRequirements(spec.Requires)))
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := validateParams(spec.Schema, params); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	bc := &branchCtx{
		runtime:   r,
		spec:      spec,
		callID:    callID,
		remaining: r.cfg.MaxDepth,
		messages:  r.trimToBudget(parent),
	}

	result, err := spec.Run(ctx, bc, params)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("branch.Run", err)
	}
	tracer.SetOK(span)
	return result, nil
}

// validateParams checks the invocation arguments against the tool's declared
// parameter schema.
func validateParams(schema domain.ParamSchema, params json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	doc, err := json.Marshal(schema.JSONSchema())
	if err != nil {
		return domain.WrapOp("branch.validateParams", err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(doc)
	if err != nil {
		return domain.WrapOp("branch.validateParams", err)
	}

	var data any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &data); err != nil {
			return domain.NewDomainError("branch.validateParams", domain.ErrInvalidInput, err.Error())
		}
	} else {
		data = map[string]any{}
	}
	if result := compiled.Validate(data); !result.IsValid() {
		return domain.NewDomainError("branch.validateParams", domain.ErrInvalidInput, result.Error())
	}
	return nil
}

func describeRequirements(req domain.CapabilityRequirements) string {
	switch {
	case req.Sampling && req.Elicitation:
		return "sampling and elicitation"
	case req.Sampling:
		return "sampling"
	case req.Elicitation:
		return "elicitation"
	}
	return "no capabilities"
}
