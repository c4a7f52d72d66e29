package branch

import (
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"cadence/internal/domain"
)

// TokenCounter measures text so inherited conversations can be trimmed to a
// budget before a branch sees them.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns a BPE-backed counter when the encoding is
// available, falling back to a word/character estimate otherwise (the BPE
// tables may be unavailable offline).
func NewTokenCounter(logger *slog.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken unavailable, estimating token counts", "error", err)
		return estimateCounter{}
	}
	return bpeCounter{enc: enc}
}

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c bpeCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// estimateCounter blends word and character counts, roughly four characters
// per token.
type estimateCounter struct{}

func (estimateCounter) Count(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	est := (words + chars/4 + 1) / 2
	if est < 1 && chars > 0 {
		return 1
	}
	return est
}

// trimToBudget drops the oldest messages until the conversation fits the
// configured token budget. The most recent turns are the ones a branch needs.
func (r *Runtime) trimToBudget(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]domain.Message, len(messages))
	copy(out, messages)
	if r.cfg.TokenBudget <= 0 {
		return out
	}

	total := 0
	for _, m := range out {
		total += r.counter.Count(m.Content)
	}
	for len(out) > 0 && total > r.cfg.TokenBudget {
		total -= r.counter.Count(out[0].Content)
		out = out[1:]
	}
	return out
}
