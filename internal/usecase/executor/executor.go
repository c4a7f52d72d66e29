// Package executor orchestrates single tool calls across the server/client
// trust boundary: simple single-phase tools, and isomorphic handoff tools
// whose logic is split into before (server), client (interactive) and after
// (server) phases.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cadence/internal/domain"
	"cadence/internal/infra/tracer"
)

// PatchSink receives the patches a tool call produces (lifecycle, handoff,
// emission) in order. The session layer feeds them to the reducer.
type PatchSink func(domain.Patch)

// CallState is the lifecycle phase of one tool call.
type CallState string

const (
	StatePending         CallState = "pending"
	StateServerExecuting CallState = "server_executing"
	StateClientExecuting CallState = "client_executing"
	StateServerValidate  CallState = "server_validating"
	StateComplete        CallState = "complete"
	StateError           CallState = "error"
)

// Executor runs registered tools and emits their lifecycle as patches. Each
// call id is an independent state machine; the executor holds no cross-call
// state beyond the registry.
type Executor struct {
	mu     sync.RWMutex
	tools  map[string]*domain.ToolSpec
	sink   PatchSink
	logger *slog.Logger
}

// New creates an executor emitting patches into sink.
func New(sink PatchSink, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tools:  make(map[string]*domain.ToolSpec),
		sink:   sink,
		logger: logger,
	}
}

// Register adds a tool to the registry.
func (e *Executor) Register(spec *domain.ToolSpec) error {
	if spec.Execute == nil && spec.Handoff == nil {
		return domain.NewDomainError("Executor.Register", domain.ErrInvalidInput,
			fmt.Sprintf("tool %q has neither execute nor handoff", spec.Name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tools[spec.Name]; ok {
		return domain.NewDomainError("Executor.Register", domain.ErrInvalidInput,
			fmt.Sprintf("tool %q already registered", spec.Name))
	}
	e.tools[spec.Name] = spec
	return nil
}

// Lookup returns the registered tool or ErrToolNotFound.
func (e *Executor) Lookup(name string) (*domain.ToolSpec, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	spec, ok := e.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Executor.Lookup", domain.ErrToolNotFound, name)
	}
	return spec, nil
}

// Execute runs one tool call end to end and returns the authoritative result.
//
// A tool failure never propagates as an error to the session loop: it is
// surfaced as a tool_call_error patch and a nil result, and Execute returns
// the wrapped error only so direct callers (tests, the branch runtime) can
// inspect it. The blast radius of a failure is exactly this call id.
func (e *Executor) Execute(ctx context.Context, callID, name string, params json.RawMessage) (json.RawMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("tool.name", name),
		tracer.StringAttr("tool.call_id", callID),
	)

	spec, err := e.Lookup(name)
	if err != nil {
		tracer.RecordError(span, err)
		e.sink(domain.Patch{
			Kind: domain.PatchToolCallError,
			Tool: &domain.ToolPatch{CallID: callID, Name: name, Error: err.Error()},
		})
		return nil, err
	}

	e.sink(domain.Patch{
		Kind: domain.PatchToolCallStart,
		Tool: &domain.ToolPatch{CallID: callID, Name: name, Arguments: params},
	})

	e.transition(callID, StatePending)

	var result json.RawMessage
	if spec.IsHandoff() {
		result, err = e.runHandoff(ctx, spec, callID, params)
	} else {
		result, err = e.runSimple(ctx, spec, callID, params)
	}
	if err != nil {
		e.transition(callID, StateError)
		e.logger.Warn("tool call failed",
			"tool", name,
			"call_id", callID,
			"error", err,
		)
		tracer.RecordError(span, err)
		e.sink(domain.Patch{
			Kind: domain.PatchToolCallError,
			Tool: &domain.ToolPatch{CallID: callID, Name: name, Error: err.Error()},
		})
		return nil, domain.WrapOp("Executor.Execute", err)
	}

	e.transition(callID, StateComplete)
	e.sink(domain.Patch{
		Kind: domain.PatchToolCallResult,
		Tool: &domain.ToolPatch{CallID: callID, Name: name, Result: string(result)},
	})
	tracer.SetOK(span)
	return result, nil
}

func (e *Executor) transition(callID string, state CallState) {
	e.logger.Debug("tool call state", "call_id", callID, "state", string(state))
}

// runSimple drives a single-phase tool with an interactive step context.
func (e *Executor) runSimple(ctx context.Context, spec *domain.ToolSpec, callID string, params json.RawMessage) (result json.RawMessage, err error) {
	e.transition(callID, StateClientExecuting)
	steps := e.newStepContext(callID)
	defer steps.finish()
	defer recoverToolPanic(spec.Name, &err)
	return spec.Execute(ctx, params, steps)
}

// runHandoff drives the three-phase dance. Under server authority the after
// phase's return value is always the surfaced result; the client phase can
// inform it but never override it.
func (e *Executor) runHandoff(ctx context.Context, spec *domain.ToolSpec, callID string, params json.RawMessage) (result json.RawMessage, err error) {
	defer recoverToolPanic(spec.Name, &err)
	h := spec.Handoff

	var handoffData json.RawMessage
	if spec.Authority == domain.AuthorityServer && h.Before != nil {
		e.transition(callID, StateServerExecuting)
		handoffData, err = h.Before(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("before phase: %w", err)
		}
	}

	e.sink(domain.Patch{
		Kind: domain.PatchPendingHandoff,
		Handoff: &domain.HandoffPatch{
			CallID:    callID,
			ToolName:  spec.Name,
			Params:    params,
			Data:      handoffData,
			Authority: spec.Authority,
		},
	})

	var clientResult json.RawMessage
	if h.Client != nil {
		e.transition(callID, StateClientExecuting)
		steps := e.newStepContext(callID)
		clientResult, err = h.Client(ctx, domain.HandoffInput{Params: params, Data: handoffData}, steps)
		steps.finish()
		if err != nil {
			e.completeHandoff(callID)
			return nil, fmt.Errorf("client phase: %w", err)
		}
	}

	e.completeHandoff(callID)

	if h.After == nil {
		return clientResult, nil
	}
	e.transition(callID, StateServerValidate)
	result, err = h.After(ctx, domain.AfterInput{
		Params:       params,
		HandoffData:  handoffData,
		ClientResult: clientResult,
	})
	if err != nil {
		return nil, fmt.Errorf("after phase: %w", err)
	}
	return result, nil
}

func (e *Executor) completeHandoff(callID string) {
	e.sink(domain.Patch{
		Kind:    domain.PatchHandoffComplete,
		Handoff: &domain.HandoffPatch{CallID: callID},
	})
}

func recoverToolPanic(name string, err *error) {
	if r := recover(); r != nil {
		*err = domain.NewDomainError("tool "+name, domain.ErrToolFailure,
			fmt.Sprintf("panic: %v", r))
	}
}
