package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"cadence/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around a sampling host.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// BreakerHost wraps a SamplingHost with circuit breaker protection. When the
// upstream fails repeatedly the circuit opens and calls fail fast without
// reaching it, preventing retry storms from suspended tools.
type BreakerHost struct {
	inner   domain.SamplingHost
	breaker *gobreaker.CircuitBreaker[domain.SampleResult]
	logger  *slog.Logger
}

// NewBreakerHost wraps inner with a circuit breaker.
func NewBreakerHost(inner domain.SamplingHost, cfg BreakerConfig, logger *slog.Logger) *BreakerHost {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[domain.SampleResult](gobreaker.Settings{
		Name:        "sampling",
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerHost{inner: inner, breaker: cb, logger: logger}
}

var _ domain.SamplingHost = (*BreakerHost)(nil)

// CreateMessage routes the call through the breaker.
func (h *BreakerHost) CreateMessage(ctx context.Context, req domain.SampleRequest) (domain.SampleResult, error) {
	result, err := h.breaker.Execute(func() (domain.SampleResult, error) {
		return h.inner.CreateMessage(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.SampleResult{}, fmt.Errorf("%w: circuit open: %s", domain.ErrSamplingFailed, err)
		}
		return domain.SampleResult{}, err
	}
	return result, nil
}

// State returns the current breaker state for monitoring.
func (h *BreakerHost) State() gobreaker.State { return h.breaker.State() }

// LimiterConfig configures the sampling rate limit.
type LimiterConfig struct {
	// PerSecond is the sustained sampling rate. Zero disables limiting.
	PerSecond float64 `yaml:"per_second"`
	// Burst is the instantaneous burst allowance.
	Burst int `yaml:"burst"`
}

// LimitedHost wraps a SamplingHost with a token-bucket rate limit. Calls wait
// for a slot rather than failing, honoring context cancellation.
type LimitedHost struct {
	inner   domain.SamplingHost
	limiter *rate.Limiter
}

// NewLimitedHost wraps inner with the configured limit.
func NewLimitedHost(inner domain.SamplingHost, cfg LimiterConfig) *LimitedHost {
	if cfg.PerSecond <= 0 {
		return &LimitedHost{inner: inner, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &LimitedHost{inner: inner, limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)}
}

var _ domain.SamplingHost = (*LimitedHost)(nil)

// CreateMessage waits for a limiter slot, then delegates.
func (h *LimitedHost) CreateMessage(ctx context.Context, req domain.SampleRequest) (domain.SampleResult, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return domain.SampleResult{}, domain.WrapOp("LimitedHost.CreateMessage", err)
	}
	return h.inner.CreateMessage(ctx, req)
}
