package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/domain"
)

type scriptedHost struct {
	results []domain.SampleResult
	errs    []error
	calls   int
}

func (s *scriptedHost) CreateMessage(_ context.Context, _ domain.SampleRequest) (domain.SampleResult, error) {
	i := s.calls
	s.calls++
	var result domain.SampleResult
	if i < len(s.results) {
		result = s.results[i]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return result, err
}

func alwaysFailing(err error) *scriptedHost {
	return &scriptedHost{errs: []error{err, err, err, err, err, err, err, err}}
}

func TestBreakerHostPassesThrough(t *testing.T) {
	inner := &scriptedHost{results: []domain.SampleResult{{Text: "ok"}}}
	host := NewBreakerHost(inner, BreakerConfig{}, discardLogger())

	result, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, gobreaker.StateClosed, host.State())
}

func TestBreakerHostOpensAfterConsecutiveFailures(t *testing.T) {
	upstream := errors.New("upstream down")
	inner := alwaysFailing(upstream)
	host := NewBreakerHost(inner, BreakerConfig{MaxFailures: 3, Timeout: time.Hour}, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
		assert.ErrorIs(t, err, upstream)
	}
	require.Equal(t, gobreaker.StateOpen, host.State())

	// Open circuit fails fast without reaching the upstream.
	before := inner.calls
	_, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
	assert.ErrorIs(t, err, domain.ErrSamplingFailed)
	assert.Equal(t, before, inner.calls)
}

func TestBreakerHostRecoversAfterTimeout(t *testing.T) {
	upstream := errors.New("blip")
	inner := &scriptedHost{
		errs:    []error{upstream, upstream, nil},
		results: []domain.SampleResult{{}, {}, {Text: "back"}},
	}
	host := NewBreakerHost(inner, BreakerConfig{MaxFailures: 2, Timeout: 20 * time.Millisecond}, discardLogger())

	for i := 0; i < 2; i++ {
		_, _ = host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
	}
	require.Equal(t, gobreaker.StateOpen, host.State())

	time.Sleep(30 * time.Millisecond)

	result, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "back", result.Text)
	assert.Equal(t, gobreaker.StateClosed, host.State())
}

func TestLimitedHostDelegates(t *testing.T) {
	inner := &scriptedHost{results: []domain.SampleResult{{Text: "ok"}}}
	host := NewLimitedHost(inner, LimiterConfig{PerSecond: 100, Burst: 1})

	result, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
}

func TestLimitedHostZeroRateIsUnlimited(t *testing.T) {
	inner := &scriptedHost{results: make([]domain.SampleResult, 10)}
	host := NewLimitedHost(inner, LimiterConfig{})

	for i := 0; i < 10; i++ {
		_, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
		require.NoError(t, err)
	}
	assert.Equal(t, 10, inner.calls)
}

func TestLimitedHostHonorsCancellation(t *testing.T) {
	inner := &scriptedHost{results: []domain.SampleResult{{Text: "ok"}}}
	// Burst of 1 at a very slow refill: the second call must wait.
	host := NewLimitedHost(inner, LimiterConfig{PerSecond: 0.001, Burst: 1})

	_, err := host.CreateMessage(context.Background(), domain.SampleRequest{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = host.CreateMessage(ctx, domain.SampleRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
