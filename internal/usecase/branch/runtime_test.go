package branch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/domain"
)

type fakeSampler struct {
	mu       sync.Mutex
	requests []domain.SampleRequest
	reply    string
	err      error
}

func (s *fakeSampler) CreateMessage(_ context.Context, req domain.SampleRequest) (domain.SampleResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.err != nil {
		return domain.SampleResult{}, s.err
	}
	return domain.SampleResult{Text: s.reply, Model: "test-model"}, nil
}

type fakeElicitor struct {
	result domain.ElicitResult
	err    error
}

func (e *fakeElicitor) ElicitInput(context.Context, string, string, json.RawMessage) (domain.ElicitResult, error) {
	if e.err != nil {
		return domain.ElicitResult{}, e.err
	}
	return e.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuntime(t *testing.T, cfg Config, hosts Hosts) *Runtime {
	t.Helper()
	return New(cfg, hosts, testLogger())
}

func passthroughTool(name string) *domain.BranchToolSpec {
	return &domain.BranchToolSpec{
		Name: name,
		Run: func(_ context.Context, _ domain.BranchContext, params json.RawMessage) (json.RawMessage, error) {
			return params, nil
		},
	}
}

func TestRunSimpleTool(t *testing.T) {
	r := newRuntime(t, Config{}, Hosts{})
	require.NoError(t, r.Register(passthroughTool("echo")))

	result, err := r.Run(context.Background(), "c1", "echo", json.RawMessage(`{"x":1}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(result))
}

func TestRunUnknownTool(t *testing.T) {
	r := newRuntime(t, Config{}, Hosts{})
	_, err := r.Run(context.Background(), "c1", "nope", nil, nil)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestCapabilityNegotiationFailsFast(t *testing.T) {
	r := newRuntime(t, Config{}, Hosts{})
	require.NoError(t, r.Register(&domain.BranchToolSpec{
		Name:     "needs-sampling",
		Requires: domain.CapabilityRequirements{Sampling: true},
		Run: func(context.Context, domain.BranchContext, json.RawMessage) (json.RawMessage, error) {
			t.Fatal("tool body must not run")
			return nil, nil
		},
	}))

	_, err := r.Run(context.Background(), "c1", "needs-sampling", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.True(t, domain.IsTerminal(err))
}

func TestCapabilitiesDerivedFromHosts(t *testing.T) {
	r := newRuntime(t, Config{}, Hosts{Sampling: &fakeSampler{}})
	assert.True(t, r.Capabilities().Sampling)
	assert.False(t, r.Capabilities().Elicitation)
}

func TestParamValidation(t *testing.T) {
	r := newRuntime(t, Config{}, Hosts{})
	spec := passthroughTool("typed")
	spec.Schema = domain.ParamSchema{
		"count": {Type: domain.ParamNumber},
		"note":  {Type: domain.ParamString, Optional: true},
	}
	require.NoError(t, r.Register(spec))

	_, err := r.Run(context.Background(), "c1", "typed", json.RawMessage(`{"count":3}`), nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "c2", "typed", json.RawMessage(`{"note":"hi"}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = r.Run(context.Background(), "c3", "typed", json.RawMessage(`{"count":"three"}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSampleThreadsConversation(t *testing.T) {
	sampler := &fakeSampler{reply: "four"}
	r := newRuntime(t, Config{}, Hosts{Sampling: sampler})
	require.NoError(t, r.Register(&domain.BranchToolSpec{
		Name:     "math",
		Requires: domain.CapabilityRequirements{Sampling: true},
		Run: func(ctx context.Context, bc domain.BranchContext, _ json.RawMessage) (json.RawMessage, error) {
			if _, err := bc.Sample(ctx, domain.SampleRequest{Prompt: "2+2?"}); err != nil {
				return nil, err
			}
			if _, err := bc.Sample(ctx, domain.SampleRequest{Prompt: "are you sure?"}); err != nil {
				return nil, err
			}
			return json.RawMessage(`{}`), nil
		},
	}))

	_, err := r.Run(context.Background(), "c1", "math", nil, nil)
	require.NoError(t, err)

	require.Len(t, sampler.requests, 2)
	assert.Empty(t, sampler.requests[0].Messages)
	// The second sample sees the first exchange.
	second := sampler.requests[1].Messages
	require.Len(t, second, 2)
	assert.Equal(t, domain.RoleUser, second[0].Role)
	assert.Equal(t, "2+2?", second[0].Content)
	assert.Equal(t, domain.RoleAssistant, second[1].Role)
	assert.Equal(t, "four", second[1].Content)
}

func TestSampleTransportFailureDegrades(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("upstream 503")}
	r := newRuntime(t, Config{}, Hosts{Sampling: sampler})
	require.NoError(t, r.Register(&domain.BranchToolSpec{
		Name: "resilient",
		Run: func(ctx context.Context, bc domain.BranchContext, _ json.RawMessage) (json.RawMessage, error) {
			result, err := bc.Sample(ctx, domain.SampleRequest{Prompt: "anyone?"})
			if err != nil {
				return nil, err
			}
			return json.RawMessage(`"` + result.Text + `"`), nil
		},
	}))

	result, err := r.Run(context.Background(), "c1", "resilient", nil, nil)
	require.NoError(t, err)
	// Degraded to an empty sample, not an invocation failure.
	assert.JSONEq(t, `""`, string(result))
}

func elicitingTool(key string) *domain.BranchToolSpec {
	return &domain.BranchToolSpec{
		Name:     "prompter",
		Requires: domain.CapabilityRequirements{Elicitation: true},
		Elicits: map[string]domain.ElicitSpec{
			key: {Response: domain.ParamSchema{
				"answer": {Type: domain.ParamString},
			}},
		},
		Run: func(ctx context.Context, bc domain.BranchContext, _ json.RawMessage) (json.RawMessage, error) {
			result, err := bc.Elicit(ctx, key, json.RawMessage(`{"q":"pick"}`))
			if err != nil {
				return nil, err
			}
			out, _ := json.Marshal(result)
			return out, nil
		},
	}
}

func TestElicitAcceptValidatesResponse(t *testing.T) {
	host := &fakeElicitor{result: domain.ElicitResult{
		Action:  domain.ElicitAccept,
		Content: json.RawMessage(`{"answer":"blue"}`),
	}}
	r := newRuntime(t, Config{}, Hosts{Elicitation: host})
	require.NoError(t, r.Register(elicitingTool("choice")))

	result, err := r.Run(context.Background(), "c1", "prompter", nil, nil)
	require.NoError(t, err)

	var parsed domain.ElicitResult
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, domain.ElicitAccept, parsed.Action)
}

func TestElicitRejectsMalformedResponse(t *testing.T) {
	host := &fakeElicitor{result: domain.ElicitResult{
		Action:  domain.ElicitAccept,
		Content: json.RawMessage(`{"answer":7}`),
	}}
	r := newRuntime(t, Config{}, Hosts{Elicitation: host})
	require.NoError(t, r.Register(elicitingTool("choice")))

	_, err := r.Run(context.Background(), "c1", "prompter", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestElicitUndeclaredKey(t *testing.T) {
	host := &fakeElicitor{result: domain.ElicitResult{Action: domain.ElicitAccept}}
	r := newRuntime(t, Config{}, Hosts{Elicitation: host})
	require.NoError(t, r.Register(&domain.BranchToolSpec{
		Name:     "sloppy",
		Requires: domain.CapabilityRequirements{Elicitation: true},
		Run: func(ctx context.Context, bc domain.BranchContext, _ json.RawMessage) (json.RawMessage, error) {
			_, err := bc.Elicit(ctx, "never-declared", nil)
			return nil, err
		},
	}))

	_, err := r.Run(context.Background(), "c1", "sloppy", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestElicitTransportFailureDegradesToCancel(t *testing.T) {
	host := &fakeElicitor{err: errors.New("socket closed")}
	r := newRuntime(t, Config{}, Hosts{Elicitation: host})
	require.NoError(t, r.Register(elicitingTool("choice")))

	result, err := r.Run(context.Background(), "c1", "prompter", nil, nil)
	require.NoError(t, err)

	var parsed domain.ElicitResult
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, domain.ElicitCancel, parsed.Action)
}

func TestBranchDepthLimit(t *testing.T) {
	r := newRuntime(t, Config{MaxDepth: 1}, Hosts{})
	require.NoError(t, r.Register(&domain.BranchToolSpec{
		Name: "nester",
		Run: func(ctx context.Context, bc domain.BranchContext, _ json.RawMessage) (json.RawMessage, error) {
			return bc.Branch(ctx, func(ctx context.Context, inner domain.BranchContext) (json.RawMessage, error) {
				// One level down; the limit is spent.
				_, err := inner.Branch(ctx, func(context.Context, domain.BranchContext) (json.RawMessage, error) {
					return nil, nil
				}, domain.BranchOptions{MaxDepth: 5})
				if err == nil {
					return nil, errors.New("expected depth error")
				}
				out, _ := json.Marshal(errors.Is(err, domain.ErrBranchDepth))
				return out, nil
			}, domain.BranchOptions{MaxDepth: 5})
		},
	}))

	result, err := r.Run(context.Background(), "c1", "nester", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `true`, string(result))
}

func TestBranchInheritsMessagesOnlyWhenAsked(t *testing.T) {
	sampler := &fakeSampler{reply: "noted"}
	r := newRuntime(t, Config{MaxDepth: 2}, Hosts{Sampling: sampler})

	parent := []domain.Message{
		{Role: domain.RoleUser, Content: "remember the magic word"},
	}

	sampleOnce := domain.BranchBody(func(ctx context.Context, bc domain.BranchContext) (json.RawMessage, error) {
		_, err := bc.Sample(ctx, domain.SampleRequest{Prompt: "what do you see?"})
		return nil, err
	})

	require.NoError(t, r.Register(&domain.BranchToolSpec{
		Name:     "historian",
		Requires: domain.CapabilityRequirements{Sampling: true},
		Run: func(ctx context.Context, bc domain.BranchContext, _ json.RawMessage) (json.RawMessage, error) {
			if _, err := bc.Branch(ctx, sampleOnce, domain.BranchOptions{InheritMessages: true, MaxDepth: 1}); err != nil {
				return nil, err
			}
			if _, err := bc.Branch(ctx, sampleOnce, domain.BranchOptions{MaxDepth: 1}); err != nil {
				return nil, err
			}
			return json.RawMessage(`{}`), nil
		},
	}))

	_, err := r.Run(context.Background(), "c1", "historian", nil, parent)
	require.NoError(t, err)

	require.Len(t, sampler.requests, 2)
	// Inheriting branch sees the parent conversation.
	require.Len(t, sampler.requests[0].Messages, 1)
	assert.Equal(t, "remember the magic word", sampler.requests[0].Messages[0].Content)
	// Isolated branch sees nothing.
	assert.Empty(t, sampler.requests[1].Messages)
}

func TestInheritedConversationTrimmedToBudget(t *testing.T) {
	r := newRuntime(t, Config{TokenBudget: 10}, Hosts{})
	r.counter = estimateCounter{}

	parent := []domain.Message{
		{Role: domain.RoleUser, Content: "this is a fairly long old message that costs plenty of tokens"},
		{Role: domain.RoleAssistant, Content: "short"},
		{Role: domain.RoleUser, Content: "recent"},
	}
	trimmed := r.trimToBudget(parent)

	require.NotEmpty(t, trimmed)
	assert.Less(t, len(trimmed), len(parent))
	// The newest message always survives ahead of older ones.
	assert.Equal(t, "recent", trimmed[len(trimmed)-1].Content)
}

func TestTrimToBudgetDisabled(t *testing.T) {
	r := newRuntime(t, Config{}, Hosts{})
	parent := []domain.Message{{Content: "anything"}}
	assert.Len(t, r.trimToBudget(parent), 1)
}

func TestEstimateCounter(t *testing.T) {
	c := estimateCounter{}
	assert.Zero(t, c.Count(""))
	assert.Greater(t, c.Count("hello world, this is a sentence"), 3)
}
