package render

import (
	"context"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"cadence/internal/domain"
	"cadence/internal/usecase/pipeline"
)

// highlightCacheSize bounds the memoized highlight results.
const highlightCacheSize = 256

// HighlightConfig tunes the highlight processor.
type HighlightConfig struct {
	// Style is the chroma style name. Empty means monokai.
	Style string
	// Formatter is the chroma formatter name. Empty means terminal256.
	Formatter string
}

// HighlightProcessor syntax-highlights fenced code through chroma, memoized
// by style, language and content in a bounded LRU cache. Prose passes through
// untouched; the markdown processor owns it.
type HighlightProcessor struct {
	cfg   HighlightConfig
	cache *lruCache
}

// NewHighlightProcessor creates the processor with its own cache.
func NewHighlightProcessor(cfg HighlightConfig) *HighlightProcessor {
	if cfg.Style == "" {
		cfg.Style = "monokai"
	}
	if cfg.Formatter == "" {
		cfg.Formatter = "terminal256"
	}
	return &HighlightProcessor{cfg: cfg, cache: newLRUCache(highlightCacheSize)}
}

func (p *HighlightProcessor) Name() string { return "highlight" }

func (p *HighlightProcessor) Process(_ context.Context, in pipeline.Input, emit pipeline.EmitFunc) error {
	if !in.Chunk.Meta.InCodeFence {
		return nil
	}

	emit(pipeline.Emission{Rendered: in.Chunk.Content, Pass: domain.PassQuick})

	key := p.cfg.Style + ":" + in.Chunk.Meta.Language + ":" + in.Chunk.Content
	if cached, ok := p.cache.Get(key); ok {
		emit(pipeline.Emission{Rendered: cached, Pass: domain.PassFull})
		return nil
	}

	highlighted := p.highlight(in.Chunk.Content, in.Chunk.Meta.Language)
	p.cache.Put(key, highlighted)
	emit(pipeline.Emission{Rendered: highlighted, Pass: domain.PassFull})
	return nil
}

// highlight runs chroma, falling back to the plain text on any failure.
func (p *HighlightProcessor) highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get(p.cfg.Style)
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get(p.cfg.Formatter)
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

// HighlightPlugin wires the processor into the pipeline's plugin DAG. It
// depends on markdown so fenced content reaches it settled code-fence-aware.
func HighlightPlugin(cfg HighlightConfig) pipeline.Plugin {
	return pipeline.Plugin{
		Name:         "highlight",
		Dependencies: []string{"markdown"},
		Settler:      pipeline.SettleCodeFence,
		New:          func() pipeline.Processor { return NewHighlightProcessor(cfg) },
	}
}

// DefaultPlugins is the built-in processor set for text parts.
func DefaultPlugins() []pipeline.Plugin {
	return []pipeline.Plugin{
		MarkdownPlugin(MarkdownConfig{}),
		HighlightPlugin(HighlightConfig{}),
	}
}
