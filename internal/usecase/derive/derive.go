// Package derive projects ChatState into an ordered, render-agnostic message
// timeline. The projection is pure: it never mutates the state it reads, and
// the same state always yields the same timeline.
package derive

import (
	"cadence/internal/domain"
)

// Timeline produces the full message list a UI renders: finalized history
// first, then the in-flight message while streaming. Tool-call parts are
// enriched with their live execution trails and elicitations, matched by call
// id from the side-channel tracking maps.
func Timeline(s *domain.ChatState) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(s.Messages)+1)
	for i := range s.Messages {
		out = append(out, project(s, &s.Messages[i]))
	}
	if streaming := StreamingMessage(s); streaming != nil {
		out = append(out, *streaming)
	}
	return out
}

// StreamingMessage projects the in-flight message, or nil when nothing is
// streaming. The message has no id yet; it acquires one when finalized.
func StreamingMessage(s *domain.ChatState) *domain.ChatMessage {
	if !s.IsStreaming || len(s.Streaming.Parts) == 0 {
		return nil
	}
	return &domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Parts:     attachTrackers(s, s.Streaming.Parts),
		Streaming: true,
	}
}

// project maps one finalized message onto its ChatMessage. Messages that
// streamed through the reducer keep the rich parts preserved at
// streaming_end; anything else (user turns, imported history) gets a single
// synthesized part per content field.
func project(s *domain.ChatState, m *domain.Message) domain.ChatMessage {
	cm := domain.ChatMessage{
		ID:        m.ID,
		Role:      m.Role,
		Timestamp: m.Timestamp,
	}

	if parts, ok := s.FinalizedParts[m.ID]; ok && len(parts) > 0 {
		cm.Parts = attachTrackers(s, parts)
		return cm
	}

	if m.Thinking != "" {
		cm.Parts = append(cm.Parts, domain.Part{
			ID:       m.ID + ":thinking",
			Type:     domain.PartReasoning,
			Content:  m.Thinking,
			Rendered: m.Thinking,
		})
	}
	if m.Content != "" {
		cm.Parts = append(cm.Parts, domain.Part{
			ID:       m.ID + ":content",
			Type:     domain.PartText,
			Content:  m.Content,
			Rendered: m.Content,
		})
	}
	return cm
}

// attachTrackers copies the parts and overlays live emission trails and
// elicitations onto tool-call parts. Finalized trackers already baked into a
// part are kept when no live entry supersedes them.
func attachTrackers(s *domain.ChatState, parts []domain.Part) []domain.Part {
	out := make([]domain.Part, len(parts))
	copy(out, parts)
	for i := range out {
		if !out[i].IsToolCall() || out[i].CallID == "" {
			continue
		}
		if trail, ok := s.ToolEmissions[out[i].CallID]; ok {
			steps := make([]domain.Step, len(trail.Steps))
			copy(steps, trail.Steps)
			out[i].Emissions = steps
		}
		if el, ok := s.Elicitations[out[i].CallID]; ok {
			out[i].Elicits = []domain.Elicitation{el}
		}
	}
	return out
}
