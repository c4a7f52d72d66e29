package branch

import (
	"context"
	"encoding/json"
	"sync"

	"cadence/internal/domain"
)

// PatchElicitHost answers elicitations through the patch stream: the request
// surfaces as an elicit_request patch carrying a one-shot responder, and the
// host suspends until whatever UI observes the stream invokes it.
type PatchElicitHost struct {
	sink PatchSink
}

// NewPatchElicitHost creates a patch-driven elicitation host.
func NewPatchElicitHost(sink PatchSink) *PatchElicitHost {
	return &PatchElicitHost{sink: sink}
}

var _ domain.ElicitationHost = (*PatchElicitHost)(nil)

// ElicitInput publishes the request and suspends until it is answered.
//
// The signal is created before the patch goes out, so a respondent racing the
// publish is never lost; sync.Once makes a second respond a no-op.
func (h *PatchElicitHost) ElicitInput(ctx context.Context, callID, key string, payload json.RawMessage) (domain.ElicitResult, error) {
	signal := make(chan domain.ElicitResult, 1)
	var respondOnce sync.Once

	h.sink(domain.Patch{
		Kind: domain.PatchElicitRequest,
		Elicit: &domain.ElicitPatch{
			CallID:  callID,
			Key:     key,
			Payload: payload,
			Respond: func(result domain.ElicitResult) {
				respondOnce.Do(func() { signal <- result })
			},
		},
	})

	select {
	case result := <-signal:
		h.sink(domain.Patch{
			Kind: domain.PatchElicitRespond,
			Elicit: &domain.ElicitPatch{
				CallID:   callID,
				Key:      key,
				Response: &result,
			},
		})
		h.sink(domain.Patch{
			Kind:   domain.PatchElicitEnd,
			Elicit: &domain.ElicitPatch{CallID: callID, Key: key},
		})
		return result, nil
	case <-ctx.Done():
		return domain.ElicitResult{}, domain.WrapOp("PatchElicitHost.ElicitInput", ctx.Err())
	}
}
