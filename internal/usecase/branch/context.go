package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"cadence/internal/domain"
)

// branchCtx is one level of branch execution: it carries the conversation the
// branch sees and how much deeper it may nest. Each nested branch gets its
// own context; siblings never share conversation state.
type branchCtx struct {
	runtime   *Runtime
	spec      *domain.BranchToolSpec
	callID    string
	depth     int
	remaining int

	mu       sync.Mutex
	messages []domain.Message
}

var _ domain.BranchContext = (*branchCtx)(nil)

// Sample runs an LLM call on the tool's behalf. The branch conversation is
// threaded in ahead of any messages the tool supplies, and the exchange is
// recorded back into the conversation so later samples see it.
//
// A host transport failure degrades to an empty result rather than aborting
// the invocation; only capability absence is fatal.
func (b *branchCtx) Sample(ctx context.Context, req domain.SampleRequest) (domain.SampleResult, error) {
	if !b.runtime.caps.Sampling {
		return domain.SampleResult{}, domain.NewDomainError("branch.Sample",
			domain.ErrCapabilityMissing, "host does not support sampling")
	}

	b.mu.Lock()
	history := make([]domain.Message, len(b.messages))
	copy(history, b.messages)
	b.mu.Unlock()
	req.Messages = append(history, req.Messages...)

	result, err := b.runtime.sampling.CreateMessage(ctx, req)
	if err != nil {
		if domain.IsTerminal(err) {
			return domain.SampleResult{}, domain.WrapOp("branch.Sample", err)
		}
		b.runtime.logger.Warn("sampling degraded",
			"call_id", b.callID,
			"depth", b.depth,
			"error", err,
		)
		return domain.SampleResult{}, nil
	}

	b.mu.Lock()
	b.messages = append(b.messages,
		domain.Message{Role: domain.RoleUser, Content: req.Prompt},
		domain.Message{Role: domain.RoleAssistant, Content: result.Text},
	)
	b.mu.Unlock()
	return result, nil
}

// Elicit requests structured user input for a key the tool declared. The
// accepted response is validated against the declared schema before it
// reaches the tool.
func (b *branchCtx) Elicit(ctx context.Context, key string, payload json.RawMessage) (domain.ElicitResult, error) {
	if !b.runtime.caps.Elicitation {
		return domain.ElicitResult{}, domain.NewDomainError("branch.Elicit",
			domain.ErrCapabilityMissing, "host does not support elicitation")
	}
	decl, ok := b.spec.Elicits[key]
	if !ok {
		return domain.ElicitResult{}, domain.NewDomainError("branch.Elicit",
			domain.ErrInvalidInput, fmt.Sprintf("tool %q never declared elicitation %q", b.spec.Name, key))
	}

	result, err := b.runtime.elicitation.ElicitInput(ctx, b.callID, key, payload)
	if err != nil {
		if domain.IsTerminal(err) || ctx.Err() != nil {
			return domain.ElicitResult{}, domain.WrapOp("branch.Elicit", err)
		}
		// Transport failure on the side channel degrades to a cancel.
		b.runtime.logger.Warn("elicitation degraded",
			"call_id", b.callID,
			"key", key,
			"error", err,
		)
		return domain.ElicitResult{Action: domain.ElicitCancel}, nil
	}

	if result.Action == domain.ElicitAccept {
		if err := validateElicitResponse(decl, result.Content); err != nil {
			return domain.ElicitResult{}, err
		}
	}
	return result, nil
}

// Log is a best-effort side channel; it can never fail the invocation.
func (b *branchCtx) Log(level, message string) {
	b.runtime.logger.Log(context.Background(), slogLevel(level), message,
		"call_id", b.callID,
		"depth", b.depth,
	)
}

// Notify reports progress best-effort; delivery failures are swallowed.
func (b *branchCtx) Notify(progress float64, message string) {
	if b.runtime.progress == nil {
		return
	}
	if err := b.runtime.progress.NotifyProgress(context.Background(), b.callID, progress, message); err != nil {
		b.runtime.logger.Debug("progress notification dropped",
			"call_id", b.callID,
			"error", err,
		)
	}
}

// Branch spawns a nested sub-conversation. The child inherits the parent's
// messages only when asked, and may nest no deeper than both the parent's
// remaining depth and its own MaxDepth allow.
func (b *branchCtx) Branch(ctx context.Context, body domain.BranchBody, opts domain.BranchOptions) (json.RawMessage, error) {
	if b.remaining <= 0 {
		return nil, domain.NewDomainError("branch.Branch", domain.ErrBranchDepth,
			fmt.Sprintf("depth %d exhausted", b.depth))
	}

	remaining := b.remaining - 1
	if opts.MaxDepth < remaining {
		remaining = opts.MaxDepth
	}

	var inherited []domain.Message
	if opts.InheritMessages {
		b.mu.Lock()
		inherited = make([]domain.Message, len(b.messages))
		copy(inherited, b.messages)
		b.mu.Unlock()
		inherited = b.runtime.trimToBudget(inherited)
	}

	child := &branchCtx{
		runtime:   b.runtime,
		spec:      b.spec,
		callID:    b.callID,
		depth:     b.depth + 1,
		remaining: remaining,
		messages:  inherited,
	}
	result, err := body(ctx, child)
	if err != nil {
		return nil, domain.WrapOp("branch.Branch", err)
	}
	return result, nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validateElicitResponse checks an accepted elicitation answer against the
// tool's declared response schema.
func validateElicitResponse(decl domain.ElicitSpec, content json.RawMessage) error {
	if len(decl.Response) == 0 {
		return nil
	}
	doc, err := json.Marshal(decl.Response.JSONSchema())
	if err != nil {
		return domain.WrapOp("branch.validateElicitResponse", err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(doc)
	if err != nil {
		return domain.WrapOp("branch.validateElicitResponse", err)
	}

	var data any
	if len(content) > 0 {
		if err := json.Unmarshal(content, &data); err != nil {
			return domain.NewDomainError("branch.validateElicitResponse", domain.ErrInvalidInput, err.Error())
		}
	} else {
		data = map[string]any{}
	}
	if result := compiled.Validate(data); !result.IsValid() {
		return domain.NewDomainError("branch.validateElicitResponse", domain.ErrInvalidInput, result.Error())
	}
	return nil
}
