// Package reducer implements the patch-based streaming state machine at the
// heart of the session engine. Apply is a pure fold: given a state and an
// ordered patch it returns the next state, never mutating its inputs.
// Replaying the same patch sequence always yields the same state.
package reducer

import (
	"cadence/internal/domain"
)

// Apply folds a single patch into the state and returns the next state.
//
// Apply never fails: patches referencing nonexistent ids and unknown kinds
// degrade to no-ops. A malformed or out-of-order patch must not crash the
// session.
func Apply(s domain.ChatState, p domain.Patch) domain.ChatState {
	switch p.Kind {
	case domain.PatchSessionInfo:
		return applySessionInfo(s, p)
	case domain.PatchReset:
		return domain.NewChatState()
	case domain.PatchUserMessage:
		return appendMessage(s, p.Message, domain.RoleUser)
	case domain.PatchAssistantMessage:
		return appendMessage(s, p.Message, domain.RoleAssistant)
	case domain.PatchStreamingStart:
		return applyStreamingStart(s)
	case domain.PatchStreamingEnd:
		return applyStreamingEnd(s)
	case domain.PatchAbortComplete:
		return applyAbortComplete(s, p)
	case domain.PatchError:
		return applyError(s, p)
	case domain.PatchStreamingText:
		return applyContent(s, domain.PartText, p.Content)
	case domain.PatchStreamingReasoning:
		return applyContent(s, domain.PartReasoning, p.Content)
	case domain.PatchPartFrame:
		return applyPartFrame(s, p)
	case domain.PatchPartEnd:
		return applyPartEnd(s, p)
	case domain.PatchToolCallStart:
		return applyToolCallStart(s, p)
	case domain.PatchToolCallResult:
		return applyToolCallResult(s, p)
	case domain.PatchToolCallError:
		return applyToolCallError(s, p)
	case domain.PatchPendingHandoff:
		return applyPendingHandoff(s, p)
	case domain.PatchHandoffComplete:
		return applyHandoffComplete(s, p)
	case domain.PatchEmissionStart:
		return applyEmissionStart(s, p)
	case domain.PatchEmissionStep:
		return applyEmissionStep(s, p)
	case domain.PatchEmissionRespond:
		return applyEmissionRespond(s, p)
	case domain.PatchEmissionEnd:
		return applyEmissionEnd(s, p)
	case domain.PatchElicitRequest:
		return applyElicitRequest(s, p)
	case domain.PatchElicitRespond:
		return applyElicitRespond(s, p)
	case domain.PatchElicitEnd:
		return applyElicitEnd(s, p)
	default:
		// Unknown kinds are swallowed so a newer producer cannot crash an
		// older consumer.
		return s
	}
}

// Replay folds a whole patch sequence from the initial state.
func Replay(patches []domain.Patch) domain.ChatState {
	s := domain.NewChatState()
	for _, p := range patches {
		s = Apply(s, p)
	}
	return s
}

func applySessionInfo(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Session == nil {
		return s
	}
	s.Capabilities = p.Session.Capabilities
	s.Persona = p.Session.Persona
	return s
}

func appendMessage(s domain.ChatState, msg *domain.Message, fallbackRole string) domain.ChatState {
	if msg == nil {
		return s
	}
	m := *msg
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.Role == "" {
		m.Role = fallbackRole
	}
	s.Messages = appendMessages(s.Messages, m)
	return s
}

func applyStreamingStart(s domain.ChatState) domain.ChatState {
	s.Streaming = domain.StreamingState{Parts: []domain.Part{}}
	s.IsStreaming = true
	s.Err = ""
	return s
}

// applyStreamingEnd moves the in-flight parts into FinalizedParts keyed by
// the last assistant message. Finalization is deferred to this patch (rather
// than assistant_message) so a part_end arriving after the message patch is
// not lost; the emitting layer sends part_end before streaming_end.
func applyStreamingEnd(s domain.ChatState) domain.ChatState {
	if last := s.LastAssistantMessage(); last != nil && len(s.Streaming.Parts) > 0 {
		s.FinalizedParts = cloneFinalized(s.FinalizedParts)
		s.FinalizedParts[last.ID] = s.Streaming.Parts
	}
	s.Streaming = domain.StreamingState{}
	s.IsStreaming = false
	return s
}

func applyAbortComplete(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Message != nil {
		m := *p.Message
		if m.ID == "" {
			m.ID = domain.NewID()
		}
		if m.Role == "" {
			m.Role = domain.RoleAssistant
		}
		s.Messages = appendMessages(s.Messages, m)
		if len(s.Streaming.Parts) > 0 {
			s.FinalizedParts = cloneFinalized(s.FinalizedParts)
			s.FinalizedParts[m.ID] = s.Streaming.Parts
		}
	}
	s.Streaming = domain.StreamingState{}
	s.IsStreaming = false
	return s
}

func applyError(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Err != nil {
		s.Err = p.Err.Message
	}
	s.IsStreaming = false
	return s
}

// applyContent implements the part-switching rule: content-type changes are
// the only trigger for new content parts. Matching content appends to the
// active part; a type switch (or no active part) starts a new one.
func applyContent(s domain.ChatState, partType domain.PartType, content string) domain.ChatState {
	if s.Streaming.ActivePartType == partType && s.Streaming.ActivePartID != "" {
		parts, idx := cloneStreamingParts(s.Streaming.Parts, s.Streaming.ActivePartID)
		if idx >= 0 {
			parts[idx].Content += content
			// Raw content is the rendered fallback; a frame, once attached,
			// is not overwritten by it.
			if parts[idx].Frame == nil {
				parts[idx].Rendered = parts[idx].Content
			}
			s.Streaming.Parts = parts
			return s
		}
	}

	part := domain.Part{
		ID:       domain.NewID(),
		Type:     partType,
		Content:  content,
		Rendered: content,
	}
	s.Streaming.Parts = appendParts(s.Streaming.Parts, part)
	s.Streaming.ActivePartID = part.ID
	s.Streaming.ActivePartType = partType
	return s
}

// applyToolCallStart always creates a new tool call part: a tool call
// interrupts streaming text or reasoning regardless of the current active
// part. Tool call parts are never active for content appends.
func applyToolCallStart(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Tool == nil {
		return s
	}
	part := domain.Part{
		ID:        domain.NewID(),
		Type:      domain.PartToolCall,
		CallID:    p.Tool.CallID,
		ToolName:  p.Tool.Name,
		Arguments: p.Tool.Arguments,
		State:     domain.ToolCallRunning,
	}
	s.Streaming.Parts = appendParts(s.Streaming.Parts, part)
	s.Streaming.ActivePartID = ""
	s.Streaming.ActivePartType = domain.PartToolCall
	return s
}

func applyToolCallResult(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Tool == nil {
		return s
	}
	return updateToolCall(s, p.Tool.CallID, func(part *domain.Part) {
		part.State = domain.ToolCallComplete
		part.Result = p.Tool.Result
	})
}

func applyToolCallError(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Tool == nil {
		return s
	}
	return updateToolCall(s, p.Tool.CallID, func(part *domain.Part) {
		part.State = domain.ToolCallError
		part.Error = p.Tool.Error
	})
}

// updateToolCall locates a tool call part by call id across all streaming
// parts (not just the active one) and applies fn to a copy. No-op when the
// call id is unknown.
func updateToolCall(s domain.ChatState, callID string, fn func(*domain.Part)) domain.ChatState {
	for i := range s.Streaming.Parts {
		if s.Streaming.Parts[i].Type == domain.PartToolCall && s.Streaming.Parts[i].CallID == callID {
			parts := make([]domain.Part, len(s.Streaming.Parts))
			copy(parts, s.Streaming.Parts)
			fn(&parts[i])
			s.Streaming.Parts = parts
			return s
		}
	}
	return s
}

func applyPartFrame(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Part == nil || p.Part.Frame == nil {
		return s
	}
	idx := matchPart(&s, p.Part)
	if idx < 0 {
		return s
	}
	parts := make([]domain.Part, len(s.Streaming.Parts))
	copy(parts, s.Streaming.Parts)
	parts[idx].Frame = p.Part.Frame
	parts[idx].Rendered = p.Part.Frame.Rendered()
	s.Streaming.Parts = parts
	return s
}

func applyPartEnd(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Part == nil {
		return s
	}
	idx := matchPart(&s, p.Part)
	if idx < 0 {
		return s
	}
	parts := make([]domain.Part, len(s.Streaming.Parts))
	copy(parts, s.Streaming.Parts)
	if p.Part.Frame != nil {
		parts[idx].Frame = p.Part.Frame
		parts[idx].Rendered = p.Part.Frame.Rendered()
	}
	s.Streaming.Parts = parts
	if s.Streaming.ActivePartID == parts[idx].ID {
		s.Streaming.ActivePartID = ""
		s.Streaming.ActivePartType = domain.PartNone
	}
	return s
}

// matchPart resolves which streaming part a part_frame/part_end patch
// targets. The pipeline assigns its own part ids, so the reducer matches by
// the active part's type first and falls back to id-based matching for
// frames that belong to an already-superseded part.
func matchPart(s *domain.ChatState, pp *domain.PartPatch) int {
	parts := s.Streaming.Parts

	// Primary: the active part of the same content type.
	if s.Streaming.ActivePartType == pp.PartType && s.Streaming.ActivePartID != "" {
		for i := range parts {
			if parts[i].ID == s.Streaming.ActivePartID {
				return i
			}
		}
	}

	// Fallback: a superseded part that already carries a frame with the same
	// pipeline-assigned id.
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Frame != nil && parts[i].Frame.PartID == pp.PartID {
			return i
		}
	}

	// Fallback: the producer used reducer part ids directly.
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].ID == pp.PartID {
			return i
		}
	}

	// Last resort: the newest part of the matching type, so a frame for a
	// just-superseded part still lands on the right content.
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == pp.PartType {
			return i
		}
	}
	return -1
}

func applyPendingHandoff(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Handoff == nil || p.Handoff.CallID == "" {
		return s
	}
	s.PendingHandoffs = cloneHandoffs(s.PendingHandoffs)
	s.PendingHandoffs[p.Handoff.CallID] = domain.PendingHandoff{
		CallID:    p.Handoff.CallID,
		ToolName:  p.Handoff.ToolName,
		Params:    p.Handoff.Params,
		Data:      p.Handoff.Data,
		Authority: p.Handoff.Authority,
	}
	return s
}

func applyHandoffComplete(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Handoff == nil {
		return s
	}
	if _, ok := s.PendingHandoffs[p.Handoff.CallID]; !ok {
		return s
	}
	s.PendingHandoffs = cloneHandoffs(s.PendingHandoffs)
	delete(s.PendingHandoffs, p.Handoff.CallID)
	return s
}

func applyEmissionStart(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Emission == nil || p.Emission.CallID == "" {
		return s
	}
	s.ToolEmissions = cloneTrails(s.ToolEmissions)
	s.ToolEmissions[p.Emission.CallID] = domain.ExecutionTrail{CallID: p.Emission.CallID}
	return s
}

// applyEmissionStep appends a step to the call's trail. A missing trail is
// created implicitly: step patches can arrive before (or instead of) the
// start patch under out-of-order delivery.
func applyEmissionStep(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Emission == nil || p.Emission.CallID == "" || p.Emission.Step == nil {
		return s
	}
	s.ToolEmissions = cloneTrails(s.ToolEmissions)
	trail, ok := s.ToolEmissions[p.Emission.CallID]
	if !ok {
		trail = domain.ExecutionTrail{CallID: p.Emission.CallID}
	}
	step := *p.Emission.Step
	if step.ID == "" {
		step.ID = domain.NewID()
	}
	if step.Kind == domain.StepEmit {
		step.Status = domain.StepComplete
	} else if step.Status == "" {
		step.Status = domain.StepPending
	}
	steps := make([]domain.Step, len(trail.Steps), len(trail.Steps)+1)
	copy(steps, trail.Steps)
	trail.Steps = append(steps, step)
	s.ToolEmissions[p.Emission.CallID] = trail
	return s
}

// applyEmissionRespond resolves a pending prompt step. The one-shot respond
// callback is dropped so it cannot be invoked twice; responding to an
// already-complete step is a no-op.
func applyEmissionRespond(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Emission == nil {
		return s
	}
	trail, ok := s.ToolEmissions[p.Emission.CallID]
	if !ok {
		return s
	}
	for i := range trail.Steps {
		if trail.Steps[i].ID != p.Emission.StepID {
			continue
		}
		if trail.Steps[i].Status == domain.StepComplete {
			return s
		}
		s.ToolEmissions = cloneTrails(s.ToolEmissions)
		trail = s.ToolEmissions[p.Emission.CallID]
		steps := make([]domain.Step, len(trail.Steps))
		copy(steps, trail.Steps)
		steps[i].Status = domain.StepComplete
		steps[i].Response = p.Emission.Response
		steps[i].Respond = nil
		trail.Steps = steps
		s.ToolEmissions[p.Emission.CallID] = trail
		return s
	}
	return s
}

func applyEmissionEnd(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Emission == nil {
		return s
	}
	if _, ok := s.ToolEmissions[p.Emission.CallID]; !ok {
		return s
	}
	s.ToolEmissions = cloneTrails(s.ToolEmissions)
	delete(s.ToolEmissions, p.Emission.CallID)
	return s
}

func applyElicitRequest(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Elicit == nil || p.Elicit.CallID == "" {
		return s
	}
	s.Elicitations = cloneElicitations(s.Elicitations)
	s.Elicitations[p.Elicit.CallID] = domain.Elicitation{
		CallID:  p.Elicit.CallID,
		Key:     p.Elicit.Key,
		Payload: p.Elicit.Payload,
		Status:  domain.StepPending,
		Respond: p.Elicit.Respond,
	}
	return s
}

func applyElicitRespond(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Elicit == nil {
		return s
	}
	el, ok := s.Elicitations[p.Elicit.CallID]
	if !ok || el.Status == domain.StepComplete {
		return s
	}
	s.Elicitations = cloneElicitations(s.Elicitations)
	el.Status = domain.StepComplete
	el.Response = p.Elicit.Response
	el.Respond = nil
	s.Elicitations[p.Elicit.CallID] = el
	return s
}

func applyElicitEnd(s domain.ChatState, p domain.Patch) domain.ChatState {
	if p.Elicit == nil {
		return s
	}
	if _, ok := s.Elicitations[p.Elicit.CallID]; !ok {
		return s
	}
	s.Elicitations = cloneElicitations(s.Elicitations)
	delete(s.Elicitations, p.Elicit.CallID)
	return s
}

// --- copy-on-write helpers ---

func appendMessages(msgs []domain.Message, m domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

func appendParts(parts []domain.Part, p domain.Part) []domain.Part {
	out := make([]domain.Part, len(parts), len(parts)+1)
	copy(out, parts)
	return append(out, p)
}

// cloneStreamingParts copies the parts slice and returns the index of the
// part with the given id, or -1.
func cloneStreamingParts(parts []domain.Part, id string) ([]domain.Part, int) {
	out := make([]domain.Part, len(parts))
	copy(out, parts)
	for i := range out {
		if out[i].ID == id {
			return out, i
		}
	}
	return out, -1
}

func cloneFinalized(m map[string][]domain.Part) map[string][]domain.Part {
	out := make(map[string][]domain.Part, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneHandoffs(m map[string]domain.PendingHandoff) map[string]domain.PendingHandoff {
	out := make(map[string]domain.PendingHandoff, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTrails(m map[string]domain.ExecutionTrail) map[string]domain.ExecutionTrail {
	out := make(map[string]domain.ExecutionTrail, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneElicitations(m map[string]domain.Elicitation) map[string]domain.Elicitation {
	out := make(map[string]domain.Elicitation, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
