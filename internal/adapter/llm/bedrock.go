// Package llm backs the branch runtime's sampling capability with the AWS
// Bedrock Converse API, wrapped in a circuit breaker and a rate limiter so a
// misbehaving tool cannot hammer the upstream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"cadence/internal/domain"
	"cadence/internal/infra/tracer"
)

// defaultMaxTokens caps a sample when the tool does not ask for a limit.
const defaultMaxTokens = 1024

// bedrockConverseAPI abstracts the Bedrock runtime for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockConfig configures the sampling host.
type BedrockConfig struct {
	Region    string `yaml:"region"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// BedrockHost implements domain.SamplingHost via the Converse API.
type BedrockHost struct {
	cfg    BedrockConfig
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockHost creates a host using the default AWS credential chain.
func NewBedrockHost(ctx context.Context, cfg BedrockConfig, logger *slog.Logger) (*BedrockHost, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockHost{
		cfg:    cfg,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newBedrockHostWithClient injects a client, for tests.
func newBedrockHostWithClient(cfg BedrockConfig, client bedrockConverseAPI, logger *slog.Logger) *BedrockHost {
	return &BedrockHost{cfg: cfg, client: client, logger: logger}
}

var _ domain.SamplingHost = (*BedrockHost)(nil)

// CreateMessage implements domain.SamplingHost.
func (h *BedrockHost) CreateMessage(ctx context.Context, req domain.SampleRequest) (domain.SampleResult, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.sample",
		trace.WithAttributes(tracer.StringAttr("llm.model", h.cfg.Model)),
	)
	defer span.End()

	output, err := h.client.Converse(ctx, h.toConverseInput(req))
	if err != nil {
		mapped := mapBedrockError(err)
		tracer.RecordError(span, mapped)
		return domain.SampleResult{}, mapped
	}

	result := domain.SampleResult{
		Text:  converseText(output),
		Model: h.cfg.Model,
	}
	if output.Usage != nil {
		in := int(aws.ToInt32(output.Usage.InputTokens))
		out := int(aws.ToInt32(output.Usage.OutputTokens))
		result.Usage = &domain.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		}
	}
	tracer.SetOK(span)

	h.logger.Debug("sample completed",
		"model", h.cfg.Model,
		"chars", len(result.Text),
	)
	return result, nil
}

func (h *BedrockHost) toConverseInput(req domain.SampleRequest) *bedrockruntime.ConverseInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = h.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(h.cfg.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	input.Messages = append(input.Messages, types.Message{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
	})

	return input
}

// converseText extracts the text blocks of a Converse response.
func converseText(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var text string
	for _, block := range msg.Value.Content {
		if b, ok := block.(*types.ContentBlockMemberText); ok {
			text += b.Value
		}
	}
	return text
}

// mapBedrockError folds the upstream error surface into the sampling sentinel
// so callers degrade uniformly.
func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return domain.NewDomainError("bedrock", domain.ErrSamplingFailed, apiErr.ErrorCode())
	}
	return fmt.Errorf("%w: %s", domain.ErrSamplingFailed, err)
}
