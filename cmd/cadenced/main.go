// Command cadenced runs the streaming chat-session daemon: the patch stream
// gateway for clients and an MCP stdio server exposing the branch tools.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"cadence/internal/adapter/gateway"
	"cadence/internal/adapter/llm"
	"cadence/internal/adapter/mcptool"
	"cadence/internal/adapter/render"
	"cadence/internal/adapter/tool"
	"cadence/internal/domain"
	"cadence/internal/infra/config"
	"cadence/internal/infra/logger"
	"cadence/internal/infra/tracer"
	"cadence/internal/usecase"
	"cadence/internal/usecase/branch"
	"cadence/internal/usecase/pipeline"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "cadence.yaml", "path to config file")
	serveMCP := flag.Bool("mcp", false, "serve branch tools over MCP stdio instead of the gateway")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	// Resolving the plugin graph up front surfaces a bad processor set at
	// startup instead of on the first streamed message.
	plugins := []pipeline.Plugin{
		render.MarkdownPlugin(render.MarkdownConfig{WordWrap: cfg.Engine.WordWrap}),
		render.HighlightPlugin(render.HighlightConfig{Style: cfg.Engine.HighlightStyle}),
	}
	if _, _, err := pipeline.Resolve(plugins); err != nil {
		return fmt.Errorf("plugin graph: %w", err)
	}

	sampling, err := buildSamplingHost(ctx, cfg, log)
	if err != nil {
		return err
	}

	hosts := mcptool.NewSessionHosts(log)
	runtime := branch.New(branch.Config{
		MaxDepth:    cfg.Branch.MaxDepth,
		TokenBudget: cfg.Branch.TokenBudget,
	}, branch.Hosts{
		Sampling:    sampling,
		Elicitation: hosts,
		Progress:    hosts,
	}, log)

	if err := runtime.Register(tool.DrawCards(tool.NewDeckStore())); err != nil {
		return err
	}

	if *serveMCP {
		srv := mcptool.NewServer(cfg.MCP.Name, version, runtime, log)
		log.Info("serving MCP over stdio", "name", cfg.MCP.Name)
		return mcpserver.ServeStdio(srv.MCP())
	}

	store, err := usecase.NewSessionStore(usecase.SessionStoreConfig{
		Capabilities: runtime.Capabilities(),
		Persona:      cfg.Sessions.Persona,
		MaxAge:       cfg.Sessions.MaxAge,
		ReapSchedule: cfg.Sessions.ReapSchedule,
	}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	gw := gateway.NewServer(store, gateway.Config{
		Addr:   cfg.Gateway.Addr,
		Tokens: gatewayTokens(cfg.Gateway.Tokens),
	}, log)

	log.Info("cadenced starting", "version", version, "addr", cfg.Gateway.Addr)
	return gw.Start(ctx)
}

// buildSamplingHost assembles the Bedrock host with its breaker and rate
// limiter. A config without a model disables sampling entirely, which the
// runtime advertises through capability negotiation.
func buildSamplingHost(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.SamplingHost, error) {
	if cfg.Sampling.Model == "" {
		log.Warn("sampling disabled: no model configured")
		return nil, nil
	}

	bedrock, err := llm.NewBedrockHost(ctx, llm.BedrockConfig{
		Region:    cfg.Sampling.Region,
		Model:     cfg.Sampling.Model,
		MaxTokens: cfg.Sampling.MaxTokens,
	}, log)
	if err != nil {
		return nil, err
	}

	breaker := llm.NewBreakerHost(bedrock, llm.BreakerConfig{
		MaxFailures: cfg.Sampling.Breaker.MaxFailures,
		Timeout:     cfg.Sampling.Breaker.Timeout,
		Interval:    cfg.Sampling.Breaker.Interval,
	}, log)

	return llm.NewLimitedHost(breaker, llm.LimiterConfig{
		PerSecond: cfg.Sampling.Rate.PerSecond,
		Burst:     cfg.Sampling.Rate.Burst,
	}), nil
}

func gatewayTokens(tokens []config.TokenConfig) []gateway.TokenEntry {
	out := make([]gateway.TokenEntry, len(tokens))
	for i, t := range tokens {
		out[i] = gateway.TokenEntry{Token: t.Token, Name: t.Name}
	}
	return out
}
