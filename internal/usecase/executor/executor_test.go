package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/domain"
)

type patchLog struct {
	mu      sync.Mutex
	patches []domain.Patch
}

func (l *patchLog) sink(p domain.Patch) {
	l.mu.Lock()
	l.patches = append(l.patches, p)
	l.mu.Unlock()
}

func (l *patchLog) kinds() []domain.PatchKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PatchKind, len(l.patches))
	for i, p := range l.patches {
		out[i] = p.Kind
	}
	return out
}

func (l *patchLog) byKind(kind domain.PatchKind) []domain.Patch {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Patch
	for _, p := range l.patches {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func newTestExecutor(t *testing.T) (*Executor, *patchLog) {
	t.Helper()
	log := &patchLog{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log.sink, logger), log
}

func TestExecuteSimpleTool(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "echo",
		Execute: func(_ context.Context, params json.RawMessage, _ domain.ClientStepContext) (json.RawMessage, error) {
			return params, nil
		},
	}))

	result, err := e.Execute(context.Background(), "c1", "echo", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(result))

	assert.Equal(t, []domain.PatchKind{
		domain.PatchToolCallStart,
		domain.PatchToolCallResult,
	}, log.kinds())

	res := log.byKind(domain.PatchToolCallResult)
	require.Len(t, res, 1)
	assert.Equal(t, "c1", res[0].Tool.CallID)
	assert.JSONEq(t, `{"v":1}`, res[0].Tool.Result)
}

func TestExecuteUnknownTool(t *testing.T) {
	e, log := newTestExecutor(t)

	_, err := e.Execute(context.Background(), "c1", "nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	errs := log.byKind(domain.PatchToolCallError)
	require.Len(t, errs, 1)
	assert.Equal(t, "c1", errs[0].Tool.CallID)
}

func TestExecuteToolFailureIsContained(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "broken",
		Execute: func(context.Context, json.RawMessage, domain.ClientStepContext) (json.RawMessage, error) {
			return nil, errors.New("disk on fire")
		},
	}))

	_, err := e.Execute(context.Background(), "c1", "broken", nil)
	require.Error(t, err)

	errs := log.byKind(domain.PatchToolCallError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Tool.Error, "disk on fire")
	assert.Empty(t, log.byKind(domain.PatchToolCallResult))
}

func TestExecuteRecoversPanic(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "panicky",
		Execute: func(context.Context, json.RawMessage, domain.ClientStepContext) (json.RawMessage, error) {
			panic("boom")
		},
	}))

	_, err := e.Execute(context.Background(), "c1", "panicky", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolFailure)
	require.Len(t, log.byKind(domain.PatchToolCallError), 1)
}

func TestRegisterRejectsDuplicatesAndEmptySpecs(t *testing.T) {
	e, _ := newTestExecutor(t)
	spec := &domain.ToolSpec{
		Name: "echo",
		Execute: func(_ context.Context, p json.RawMessage, _ domain.ClientStepContext) (json.RawMessage, error) {
			return p, nil
		},
	}
	require.NoError(t, e.Register(spec))
	assert.ErrorIs(t, e.Register(spec), domain.ErrInvalidInput)
	assert.ErrorIs(t, e.Register(&domain.ToolSpec{Name: "empty"}), domain.ErrInvalidInput)
}

func TestServerAuthoritativeHandoff(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name:      "guessing",
		Authority: domain.AuthorityServer,
		Handoff: &domain.HandoffSpec{
			Before: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"secret":"A"}`), nil
			},
			Client: func(_ context.Context, in domain.HandoffInput, _ domain.ClientStepContext) (json.RawMessage, error) {
				var data struct {
					Secret string `json:"secret"`
				}
				require.NoError(t, json.Unmarshal(in.Data, &data))
				return json.RawMessage(`{"guess":"` + data.Secret + `"}`), nil
			},
			After: func(_ context.Context, in domain.AfterInput) (json.RawMessage, error) {
				var handoff struct {
					Secret string `json:"secret"`
				}
				var client struct {
					Guess string `json:"guess"`
				}
				require.NoError(t, json.Unmarshal(in.HandoffData, &handoff))
				require.NoError(t, json.Unmarshal(in.ClientResult, &client))
				if client.Guess == handoff.Secret {
					return json.RawMessage(`{"correct":true}`), nil
				}
				return json.RawMessage(`{"correct":false}`), nil
			},
		},
	}))

	result, err := e.Execute(context.Background(), "c1", "guessing", json.RawMessage(`{}`))
	require.NoError(t, err)
	// The after phase's return value is the only surfaced result.
	assert.JSONEq(t, `{"correct":true}`, string(result))

	pendings := log.byKind(domain.PatchPendingHandoff)
	require.Len(t, pendings, 1)
	assert.Equal(t, "guessing", pendings[0].Handoff.ToolName)
	assert.Equal(t, domain.AuthorityServer, pendings[0].Handoff.Authority)
	require.Len(t, log.byKind(domain.PatchHandoffComplete), 1)

	res := log.byKind(domain.PatchToolCallResult)
	require.Len(t, res, 1)
	assert.JSONEq(t, `{"correct":true}`, res[0].Tool.Result)
}

func TestClientAuthorityHandoffSkipsBefore(t *testing.T) {
	e, log := newTestExecutor(t)
	beforeRan := false
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name:      "client-first",
		Authority: domain.AuthorityClient,
		Handoff: &domain.HandoffSpec{
			Before: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				beforeRan = true
				return nil, nil
			},
			Client: func(context.Context, domain.HandoffInput, domain.ClientStepContext) (json.RawMessage, error) {
				return json.RawMessage(`{"raw":true}`), nil
			},
			After: func(_ context.Context, in domain.AfterInput) (json.RawMessage, error) {
				return in.ClientResult, nil
			},
		},
	}))

	result, err := e.Execute(context.Background(), "c1", "client-first", nil)
	require.NoError(t, err)
	assert.False(t, beforeRan)
	assert.JSONEq(t, `{"raw":true}`, string(result))
	require.Len(t, log.byKind(domain.PatchPendingHandoff), 1)
}

func TestHandoffClientFailureStillCompletesHandoff(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name:      "flaky",
		Authority: domain.AuthorityServer,
		Handoff: &domain.HandoffSpec{
			Before: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{}`), nil
			},
			Client: func(context.Context, domain.HandoffInput, domain.ClientStepContext) (json.RawMessage, error) {
				return nil, errors.New("client refused")
			},
		},
	}))

	_, err := e.Execute(context.Background(), "c1", "flaky", nil)
	require.Error(t, err)
	// The pending handoff never outlives its call.
	require.Len(t, log.byKind(domain.PatchHandoffComplete), 1)
	require.Len(t, log.byKind(domain.PatchToolCallError), 1)
}

func TestEmitStepsFlowAsPatches(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "chatty",
		Execute: func(_ context.Context, _ json.RawMessage, steps domain.ClientStepContext) (json.RawMessage, error) {
			steps.Emit("status", json.RawMessage(`"working"`))
			steps.Emit("status", json.RawMessage(`"done"`))
			return json.RawMessage(`{}`), nil
		},
	}))

	_, err := e.Execute(context.Background(), "c1", "chatty", nil)
	require.NoError(t, err)

	assert.Equal(t, []domain.PatchKind{
		domain.PatchToolCallStart,
		domain.PatchEmissionStart,
		domain.PatchEmissionStep,
		domain.PatchEmissionStep,
		domain.PatchEmissionEnd,
		domain.PatchToolCallResult,
	}, log.kinds())

	steps := log.byKind(domain.PatchEmissionStep)
	for _, p := range steps {
		assert.Equal(t, domain.StepEmit, p.Emission.Step.Kind)
		assert.Equal(t, domain.StepComplete, p.Emission.Step.Status)
	}
}

func TestPromptSuspendsUntilResponse(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "asker",
		Execute: func(ctx context.Context, _ json.RawMessage, steps domain.ClientStepContext) (json.RawMessage, error) {
			answer, err := steps.Prompt(ctx, "confirm", json.RawMessage(`{"q":"sure?"}`))
			if err != nil {
				return nil, err
			}
			return answer, nil
		},
	}))

	done := make(chan struct{})
	var result json.RawMessage
	var execErr error
	go func() {
		defer close(done)
		result, execErr = e.Execute(context.Background(), "c1", "asker", nil)
	}()

	// Wait for the pending prompt step to surface, then answer it.
	var respond domain.StepResponder
	require.Eventually(t, func() bool {
		for _, p := range log.byKind(domain.PatchEmissionStep) {
			if p.Emission.Step.Kind == domain.StepPrompt {
				respond = p.Emission.Step.Respond
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	respond(json.RawMessage(`{"ok":true}`))
	<-done

	require.NoError(t, execErr)
	assert.JSONEq(t, `{"ok":true}`, string(result))

	responses := log.byKind(domain.PatchEmissionRespond)
	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"ok":true}`, string(responses[0].Emission.Response))
}

func TestPromptRespondOnce(t *testing.T) {
	e, log := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "asker",
		Execute: func(ctx context.Context, _ json.RawMessage, steps domain.ClientStepContext) (json.RawMessage, error) {
			return steps.Prompt(ctx, "confirm", nil)
		},
	}))

	done := make(chan struct{})
	var result json.RawMessage
	go func() {
		defer close(done)
		result, _ = e.Execute(context.Background(), "c1", "asker", nil)
	}()

	var respond domain.StepResponder
	require.Eventually(t, func() bool {
		for _, p := range log.byKind(domain.PatchEmissionStep) {
			if p.Emission.Step.Kind == domain.StepPrompt {
				respond = p.Emission.Step.Respond
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	respond(json.RawMessage(`"first"`))
	// A second respond must not re-resolve the signal or double-deliver.
	respond(json.RawMessage(`"second"`))
	<-done

	assert.JSONEq(t, `"first"`, string(result))
	require.Len(t, log.byKind(domain.PatchEmissionRespond), 1)
}

func TestPromptRespondBeforeSuspendIsNotLost(t *testing.T) {
	// The responder fires synchronously from the sink, before Prompt has a
	// chance to wait. The signal exists before the step is published, so the
	// response lands anyway.
	log := &patchLog{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(func(p domain.Patch) {
		log.sink(p)
		if p.Kind == domain.PatchEmissionStep && p.Emission.Step.Kind == domain.StepPrompt {
			p.Emission.Step.Respond(json.RawMessage(`"instant"`))
		}
	}, logger)

	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "asker",
		Execute: func(ctx context.Context, _ json.RawMessage, steps domain.ClientStepContext) (json.RawMessage, error) {
			return steps.Prompt(ctx, "confirm", nil)
		},
	}))

	result, err := e.Execute(context.Background(), "c1", "asker", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"instant"`, string(result))
}

func TestPromptCancellation(t *testing.T) {
	e, _ := newTestExecutor(t)
	require.NoError(t, e.Register(&domain.ToolSpec{
		Name: "asker",
		Execute: func(ctx context.Context, _ json.RawMessage, steps domain.ClientStepContext) (json.RawMessage, error) {
			return steps.Prompt(ctx, "confirm", nil)
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, "c1", "asker", nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("prompt did not observe cancellation")
	}
}
