// Package pipeline implements the streaming content transform pipeline:
// settlers decide what prefix of buffered content is ready, a plugin loader
// orders processors by their dependency graph, and a chain runner pushes
// settled units through each processor stage concurrently while preserving
// order and progressive quick-then-full enhancement.
package pipeline

import (
	"strings"
	"time"
)

// Metadata rides along with a settled unit, describing the syntactic context
// the settler observed (e.g. inside a code fence).
type Metadata struct {
	InCodeFence bool   `json:"in_code_fence,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Settled is one committed prefix of the pending buffer.
type Settled struct {
	Content string
	Meta    Metadata
}

// Settler inspects the accumulating pending buffer and decides what prefix of
// it settles now. Each returned unit is strictly a prefix of the remaining
// pending content, in order. With flush set, the settler must commit all
// remaining pending content even if its normal trigger has not fired (an
// unterminated code fence is treated as closed at stream end).
type Settler interface {
	Settle(pending string, elapsed time.Duration, flush bool) []Settled
}

// SettlerKind orders settlers by specificity: a more specific settler is a
// superset of a coarser one, so negotiation picks the most specific kind any
// plugin requests.
type SettlerKind int

const (
	SettleParagraph SettlerKind = iota
	SettleSentence
	SettleLine
	SettleCodeFence
)

func (k SettlerKind) String() string {
	switch k {
	case SettleSentence:
		return "sentence"
	case SettleLine:
		return "line"
	case SettleCodeFence:
		return "codeFence"
	default:
		return "paragraph"
	}
}

// NewSettler constructs a settler for the given kind.
func NewSettler(kind SettlerKind) Settler {
	switch kind {
	case SettleSentence:
		return sentenceSettler{}
	case SettleLine:
		return lineSettler{}
	case SettleCodeFence:
		return &codeFenceSettler{}
	default:
		return paragraphSettler{}
	}
}

// paragraphSettler commits on blank lines.
type paragraphSettler struct{}

func (paragraphSettler) Settle(pending string, _ time.Duration, flush bool) []Settled {
	var out []Settled
	for {
		i := strings.Index(pending, "\n\n")
		if i < 0 {
			break
		}
		out = append(out, Settled{Content: pending[:i+2]})
		pending = pending[i+2:]
	}
	if flush && pending != "" {
		out = append(out, Settled{Content: pending})
	}
	return out
}

// lineSettler commits complete lines.
type lineSettler struct{}

func (lineSettler) Settle(pending string, _ time.Duration, flush bool) []Settled {
	var out []Settled
	for {
		i := strings.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		out = append(out, Settled{Content: pending[:i+1]})
		pending = pending[i+1:]
	}
	if flush && pending != "" {
		out = append(out, Settled{Content: pending})
	}
	return out
}

// sentenceSettler commits on sentence-ending punctuation followed by a space,
// or on newlines.
type sentenceSettler struct{}

func (sentenceSettler) Settle(pending string, _ time.Duration, flush bool) []Settled {
	var out []Settled
	start := 0
	for i := 0; i < len(pending); i++ {
		c := pending[i]
		if c == '\n' {
			out = append(out, Settled{Content: pending[start : i+1]})
			start = i + 1
			continue
		}
		if (c == '.' || c == '!' || c == '?') && i+1 < len(pending) && pending[i+1] == ' ' {
			out = append(out, Settled{Content: pending[start : i+2]})
			start = i + 2
			i++
		}
	}
	if flush && start < len(pending) {
		out = append(out, Settled{Content: pending[start:]})
	}
	return out
}

// codeFenceSettler settles line by line inside fenced code blocks and by
// paragraph outside them, tagging fence units with the fence language. Fence
// state carries across calls; a flush inside an unterminated fence treats the
// fence as closed.
type codeFenceSettler struct {
	inFence  bool
	language string
}

func (s *codeFenceSettler) Settle(pending string, _ time.Duration, flush bool) []Settled {
	var out []Settled
	var para strings.Builder

	commitPara := func() {
		if para.Len() > 0 {
			out = append(out, Settled{Content: para.String()})
			para.Reset()
		}
	}

	for {
		i := strings.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		line := pending[:i+1]
		pending = pending[i+1:]

		trimmed := strings.TrimSpace(line)
		switch {
		case s.inFence && strings.HasPrefix(trimmed, "```"):
			// Closing fence line belongs to the code block.
			out = append(out, Settled{Content: line, Meta: Metadata{InCodeFence: true, Language: s.language}})
			s.inFence = false
			s.language = ""
		case s.inFence:
			out = append(out, Settled{Content: line, Meta: Metadata{InCodeFence: true, Language: s.language}})
		case strings.HasPrefix(trimmed, "```"):
			commitPara()
			s.inFence = true
			s.language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			out = append(out, Settled{Content: line, Meta: Metadata{InCodeFence: true, Language: s.language}})
		default:
			para.WriteString(line)
			if trimmed == "" {
				// Blank line closes the paragraph.
				commitPara()
			}
		}
	}

	if flush {
		if para.Len() > 0 || pending != "" {
			para.WriteString(pending)
			meta := Metadata{}
			if s.inFence {
				meta = Metadata{InCodeFence: true, Language: s.language}
			}
			out = append(out, Settled{Content: para.String(), Meta: meta})
		}
		s.inFence = false
		s.language = ""
		return out
	}

	// Lines gathered in para without hitting a blank line are not committed;
	// the caller keeps them (and the trailing partial line) pending.
	return out
}
