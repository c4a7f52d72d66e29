package mcptool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"cadence/internal/domain"
)

// SessionHosts backs the branch runtime's capability hosts with whatever MCP
// session the current request runs under: sampling becomes createMessage,
// elicitation becomes elicitInput, progress becomes a progress notification.
//
// The session is recovered from the request context at call time, so one
// SessionHosts value serves every connection.
type SessionHosts struct {
	logger *slog.Logger
}

// NewSessionHosts creates the host bridge.
func NewSessionHosts(logger *slog.Logger) *SessionHosts {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHosts{logger: logger}
}

var (
	_ domain.SamplingHost    = (*SessionHosts)(nil)
	_ domain.ElicitationHost = (*SessionHosts)(nil)
	_ domain.ProgressHost    = (*SessionHosts)(nil)
)

// CreateMessage forwards a sampling request to the connected client.
func (h *SessionHosts) CreateMessage(ctx context.Context, req domain.SampleRequest) (domain.SampleResult, error) {
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil {
		return domain.SampleResult{}, domain.NewDomainError("SessionHosts.CreateMessage",
			domain.ErrCapabilityMissing, "no mcp session in context")
	}

	messages := make([]mcp.SamplingMessage, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		messages = append(messages, mcp.SamplingMessage{
			Role:    samplingRole(m.Role),
			Content: mcp.TextContent{Type: "text", Text: m.Content},
		})
	}
	messages = append(messages, mcp.SamplingMessage{
		Role:    mcp.RoleUser,
		Content: mcp.TextContent{Type: "text", Text: req.Prompt},
	})

	request := mcp.CreateMessageRequest{}
	request.CreateMessageParams = mcp.CreateMessageParams{
		Messages:     messages,
		SystemPrompt: req.System,
		MaxTokens:    req.MaxTokens,
	}

	result, err := srv.RequestSampling(ctx, request)
	if err != nil {
		return domain.SampleResult{}, domain.WrapOp("SessionHosts.CreateMessage", err)
	}
	return domain.SampleResult{
		Text:  contentText(result.Content),
		Model: result.Model,
	}, nil
}

// ElicitInput forwards a structured-input request to the connected client.
func (h *SessionHosts) ElicitInput(ctx context.Context, callID, key string, payload json.RawMessage) (domain.ElicitResult, error) {
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil {
		return domain.ElicitResult{}, domain.NewDomainError("SessionHosts.ElicitInput",
			domain.ErrCapabilityMissing, "no mcp session in context")
	}

	request := mcp.ElicitationRequest{}
	request.Params.Message = key
	if len(payload) > 0 {
		var schema any
		if err := json.Unmarshal(payload, &schema); err == nil {
			request.Params.RequestedSchema = schema
		}
	}

	result, err := srv.RequestElicitation(ctx, request)
	if err != nil {
		return domain.ElicitResult{}, domain.WrapOp("SessionHosts.ElicitInput", err)
	}

	out := domain.ElicitResult{Action: elicitAction(string(result.Action))}
	if result.Content != nil {
		if data, err := json.Marshal(result.Content); err == nil {
			out.Content = data
		}
	}
	return out, nil
}

// NotifyProgress sends a best-effort progress notification keyed by call id.
func (h *SessionHosts) NotifyProgress(ctx context.Context, callID string, progress float64, message string) error {
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	err := srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
		"progressToken": callID,
		"progress":      progress,
		"message":       message,
	})
	if err != nil {
		h.logger.Debug("progress notification failed", "call_id", callID, "error", err)
	}
	return err
}

func samplingRole(role string) mcp.Role {
	if role == domain.RoleAssistant {
		return mcp.RoleAssistant
	}
	return mcp.RoleUser
}

func elicitAction(action string) domain.ElicitAction {
	switch strings.ToLower(action) {
	case "accept":
		return domain.ElicitAccept
	case "decline":
		return domain.ElicitDecline
	default:
		return domain.ElicitCancel
	}
}

// contentText extracts the text of a sampling result's content.
func contentText(content any) string {
	switch v := content.(type) {
	case mcp.TextContent:
		return v.Text
	case *mcp.TextContent:
		return v.Text
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return ""
}
