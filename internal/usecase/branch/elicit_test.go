package branch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/domain"
)

type elicitPatchLog struct {
	mu      sync.Mutex
	patches []domain.Patch
}

func (l *elicitPatchLog) sink(p domain.Patch) {
	l.mu.Lock()
	l.patches = append(l.patches, p)
	l.mu.Unlock()
}

func (l *elicitPatchLog) byKind(kind domain.PatchKind) []domain.Patch {
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

func TestPatchElicitHostRoundTrip(t *testing.T) {
	log := &elicitPatchLog{}
	host := NewPatchElicitHost(log.sink)

	done := make(chan struct{})
	var result domain.ElicitResult
	var err error
	go func() {
		defer close(done)
		result, err = host.ElicitInput(context.Background(), "c1", "choice", json.RawMessage(`{"q":"?"}`))
	}()

	var respond domain.ElicitResponder
	require.Eventually(t, func() bool {
		reqs := log.byKind(domain.PatchElicitRequest)
		if len(reqs) == 0 {
			return false
		}
		respond = reqs[0].Elicit.Respond
		return true
	}, time.Second, time.Millisecond)

	respond(domain.ElicitResult{Action: domain.ElicitAccept, Content: json.RawMessage(`{"a":1}`)})
	<-done

	require.NoError(t, err)
	assert.Equal(t, domain.ElicitAccept, result.Action)
	require.Len(t, log.byKind(domain.PatchElicitRespond), 1)
	require.Len(t, log.byKind(domain.PatchElicitEnd), 1)
}

func TestPatchElicitHostRespondOnce(t *testing.T) {
	log := &elicitPatchLog{}
	host := NewPatchElicitHost(log.sink)

	done := make(chan domain.ElicitResult, 1)
	go func() {
		result, _ := host.ElicitInput(context.Background(), "c1", "choice", nil)
		done <- result
	}()

	var respond domain.ElicitResponder
	require.Eventually(t, func() bool {
		reqs := log.byKind(domain.PatchElicitRequest)
		if len(reqs) == 0 {
			return false
		}
		respond = reqs[0].Elicit.Respond
		return true
	}, time.Second, time.Millisecond)

	respond(domain.ElicitResult{Action: domain.ElicitAccept})
	respond(domain.ElicitResult{Action: domain.ElicitDecline})

	result := <-done
	assert.Equal(t, domain.ElicitAccept, result.Action)
	require.Len(t, log.byKind(domain.PatchElicitRespond), 1)
}

func TestPatchElicitHostRespondBeforeWaitIsNotLost(t *testing.T) {
	// Respond synchronously from inside the sink, before ElicitInput starts
	// waiting. The signal predates the publish, so nothing is dropped.
	log := &elicitPatchLog{}
	host := NewPatchElicitHost(func(p domain.Patch) {
		log.sink(p)
		if p.Kind == domain.PatchElicitRequest {
			p.Elicit.Respond(domain.ElicitResult{Action: domain.ElicitDecline})
		}
	})

	result, err := host.ElicitInput(context.Background(), "c1", "choice", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ElicitDecline, result.Action)
}

func TestPatchElicitHostCancellation(t *testing.T) {
	host := NewPatchElicitHost(func(domain.Patch) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := host.ElicitInput(ctx, "c1", "choice", nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("elicitation did not observe cancellation")
	}
}
