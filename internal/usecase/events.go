package usecase

import "cadence/internal/domain"

// EventsFromPatch translates one reducer patch into its wire representation.
// Most patches map to exactly one StreamEvent; purely internal patches
// (reset, user_message, streaming_start) produce none because the client
// either initiated them or observes their effects through later events.
func EventsFromPatch(p domain.Patch) []domain.StreamEvent {
	switch p.Kind {
	case domain.PatchSessionInfo:
		if p.Session == nil {
			return nil
		}
		caps := p.Session.Capabilities
		return []domain.StreamEvent{{
			Type:         domain.EventSessionInfo,
			ID:           p.Session.SessionID,
			Capabilities: &caps,
			Persona:      p.Session.Persona,
		}}

	case domain.PatchStreamingText:
		return []domain.StreamEvent{{Type: domain.EventText, Content: p.Content}}

	case domain.PatchStreamingReasoning:
		return []domain.StreamEvent{{Type: domain.EventThinking, Content: p.Content}}

	case domain.PatchPartFrame:
		return []domain.StreamEvent{{Type: domain.EventPartFrame, Part: p.Part}}

	case domain.PatchPartEnd:
		return []domain.StreamEvent{{Type: domain.EventPartEnd, Part: p.Part}}

	case domain.PatchToolCallStart:
		if p.Tool == nil {
			return nil
		}
		return []domain.StreamEvent{{
			Type: domain.EventToolCalls,
			Calls: []domain.WireToolCall{{
				ID:        p.Tool.CallID,
				Name:      p.Tool.Name,
				Arguments: p.Tool.Arguments,
			}},
		}}

	case domain.PatchToolCallResult:
		if p.Tool == nil {
			return nil
		}
		return []domain.StreamEvent{{
			Type:    domain.EventToolResult,
			ID:      p.Tool.CallID,
			Name:    p.Tool.Name,
			Content: p.Tool.Result,
		}}

	case domain.PatchToolCallError:
		if p.Tool == nil {
			return nil
		}
		return []domain.StreamEvent{{
			Type:        domain.EventToolError,
			ID:          p.Tool.CallID,
			Name:        p.Tool.Name,
			Message:     p.Tool.Error,
			Recoverable: true,
		}}

	case domain.PatchStreamingEnd:
		ev := domain.StreamEvent{Type: domain.EventComplete}
		if p.Message != nil {
			ev.Text = p.Message.Content
			ev.Usage = p.Message.Usage
		}
		return []domain.StreamEvent{ev}

	case domain.PatchAbortComplete:
		ev := domain.StreamEvent{Type: domain.EventAborted}
		if p.Message != nil {
			ev.Text = p.Message.Content
		}
		return []domain.StreamEvent{ev}

	case domain.PatchError:
		if p.Err == nil {
			return nil
		}
		return []domain.StreamEvent{{
			Type:        domain.EventError,
			Message:     p.Err.Message,
			Recoverable: p.Err.Recoverable,
		}}

	case domain.PatchPendingHandoff:
		return []domain.StreamEvent{{Type: domain.EventPendingHandoff, Handoff: p.Handoff}}

	case domain.PatchHandoffComplete:
		return []domain.StreamEvent{{Type: domain.EventHandoffComplete, Handoff: p.Handoff}}

	case domain.PatchEmissionStart, domain.PatchEmissionStep,
		domain.PatchEmissionRespond, domain.PatchEmissionEnd:
		if p.Emission == nil {
			return nil
		}
		return []domain.StreamEvent{{
			Type:    domain.EventEmission,
			CallID:  p.Emission.CallID,
			Step:    p.Emission.Step,
			ID:      p.Emission.StepID,
			Payload: p.Emission.Response,
		}}

	case domain.PatchElicitRequest:
		if p.Elicit == nil {
			return nil
		}
		return []domain.StreamEvent{{
			Type:    domain.EventElicitRequest,
			CallID:  p.Elicit.CallID,
			Key:     p.Elicit.Key,
			Payload: p.Elicit.Payload,
		}}

	case domain.PatchElicitRespond, domain.PatchElicitEnd:
		if p.Elicit == nil {
			return nil
		}
		ev := domain.StreamEvent{
			Type:   domain.EventElicitComplete,
			CallID: p.Elicit.CallID,
			Key:    p.Elicit.Key,
		}
		if p.Kind == domain.PatchElicitRespond && p.Elicit.Response != nil {
			ev.Payload = p.Elicit.Response.Content
			ev.Content = string(p.Elicit.Response.Action)
		}
		return []domain.StreamEvent{ev}
	}

	return nil
}
