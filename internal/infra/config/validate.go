package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks cross-field consistency of a loaded config. It returns the
// first problem found; configs are small enough that one error at a time is
// fine.
func Validate(cfg *Config) error {
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateSampling(&cfg.Sampling); err != nil {
		return fmt.Errorf("sampling: %w", err)
	}
	if err := validateBranch(&cfg.Branch); err != nil {
		return fmt.Errorf("branch: %w", err)
	}
	if err := validateGateway(&cfg.Gateway); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := validateSessions(&cfg.Sessions); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if err := validateLogger(&cfg.Logger); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := validateTracer(&cfg.Tracer); err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	return nil
}

func validateEngine(c *EngineConfig) error {
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must be non-negative, got %d", c.BufferSize)
	}
	if c.WordWrap < 0 {
		return fmt.Errorf("word_wrap must be non-negative, got %d", c.WordWrap)
	}
	return nil
}

func validateSampling(c *SamplingConfig) error {
	switch c.Provider {
	case "", "bedrock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", c.MaxTokens)
	}
	if c.Rate.PerSecond < 0 {
		return fmt.Errorf("rate.per_second must be non-negative, got %g", c.Rate.PerSecond)
	}
	if c.Breaker.Timeout < 0 || c.Breaker.Interval < 0 {
		return fmt.Errorf("breaker durations must be non-negative")
	}
	return nil
}

func validateBranch(c *BranchConfig) error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative, got %d", c.MaxDepth)
	}
	if c.TokenBudget < 0 {
		return fmt.Errorf("token_budget must be non-negative, got %d", c.TokenBudget)
	}
	return nil
}

func validateGateway(c *GatewayConfig) error {
	if c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			return fmt.Errorf("addr %q: %w", c.Addr, err)
		}
	}
	for i, tok := range c.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("token %d (%q) is empty", i, tok.Name)
		}
	}
	return nil
}

func validateSessions(c *SessionsConfig) error {
	if c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative")
	}
	if c.ReapSchedule != "" {
		parser := cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)
		if _, err := parser.Parse(c.ReapSchedule); err != nil {
			return fmt.Errorf("reap_schedule %q: %w", c.ReapSchedule, err)
		}
	}
	return nil
}

func validateLogger(c *LoggerConfig) error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return nil
}

func validateTracer(c *TracerConfig) error {
	switch c.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("unknown exporter %q", c.Exporter)
	}
	return nil
}
