package executor

import (
	"context"
	"encoding/json"
	"sync"

	"cadence/internal/domain"
)

// stepContext implements domain.ClientStepContext for one tool call. Every
// step it publishes flows out as an emission patch; the reducer maintains the
// execution trail from those patches. The trail opens lazily on the first
// step and closes when the call's client phase returns.
type stepContext struct {
	callID string
	sink   PatchSink

	mu      sync.Mutex
	started bool
	done    bool
}

func (e *Executor) newStepContext(callID string) *stepContext {
	return &stepContext{callID: callID, sink: e.sink}
}

// ensureStart publishes the trail-opening patch before the first step.
func (s *stepContext) ensureStart() {
	s.mu.Lock()
	if s.started || s.done {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.sink(domain.Patch{
		Kind:     domain.PatchEmissionStart,
		Emission: &domain.EmissionPatch{CallID: s.callID},
	})
}

// Emit publishes a fire-and-forget step, complete on creation.
func (s *stepContext) Emit(stepType string, payload json.RawMessage) {
	s.ensureStart()
	s.sink(domain.Patch{
		Kind: domain.PatchEmissionStep,
		Emission: &domain.EmissionPatch{
			CallID: s.callID,
			Step: &domain.Step{
				ID:      domain.NewID(),
				Kind:    domain.StepEmit,
				Type:    stepType,
				Payload: payload,
				Status:  domain.StepComplete,
			},
		},
	})
}

// Prompt publishes a pending step and suspends until the UI responds.
//
// The one-shot signal (buffered channel plus sync.Once) is created before the
// step is published, so a respondent racing the publish cannot be lost, and a
// second respond is a no-op rather than a double delivery.
func (s *stepContext) Prompt(ctx context.Context, stepType string, payload json.RawMessage) (json.RawMessage, error) {
	s.ensureStart()

	signal := make(chan json.RawMessage, 1)
	var respondOnce sync.Once
	stepID := domain.NewID()

	s.sink(domain.Patch{
		Kind: domain.PatchEmissionStep,
		Emission: &domain.EmissionPatch{
			CallID: s.callID,
			Step: &domain.Step{
				ID:      stepID,
				Kind:    domain.StepPrompt,
				Type:    stepType,
				Payload: payload,
				Status:  domain.StepPending,
				Respond: func(response json.RawMessage) {
					respondOnce.Do(func() { signal <- response })
				},
			},
		},
	})

	select {
	case response := <-signal:
		s.sink(domain.Patch{
			Kind: domain.PatchEmissionRespond,
			Emission: &domain.EmissionPatch{
				CallID:   s.callID,
				StepID:   stepID,
				Response: response,
			},
		})
		return response, nil
	case <-ctx.Done():
		return nil, domain.WrapOp("stepContext.Prompt", ctx.Err())
	}
}

// finish closes the execution trail, if one was opened.
func (s *stepContext) finish() {
	s.mu.Lock()
	opened := s.started && !s.done
	s.done = true
	s.mu.Unlock()

	if opened {
		s.sink(domain.Patch{
			Kind:     domain.PatchEmissionEnd,
			Emission: &domain.EmissionPatch{CallID: s.callID},
		})
	}
}
