// Package render provides the built-in processor plugins: terminal markdown
// via glamour and syntax highlighting via chroma, with progressive quick/full
// enhancement.
package render

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"cadence/internal/domain"
	"cadence/internal/usecase/pipeline"
)

// MarkdownConfig tunes the markdown processor.
type MarkdownConfig struct {
	// WordWrap is the render width. Zero disables wrapping.
	WordWrap int
}

// MarkdownProcessor renders settled prose through glamour. The quick pass
// serves the raw text immediately; the full pass replaces it with the
// terminal-styled rendering.
type MarkdownProcessor struct {
	cfg MarkdownConfig

	once     sync.Once
	renderer *glamour.TermRenderer
	initErr  error
}

// NewMarkdownProcessor creates the processor. The glamour renderer is built
// lazily on first use.
func NewMarkdownProcessor(cfg MarkdownConfig) *MarkdownProcessor {
	return &MarkdownProcessor{cfg: cfg}
}

func (p *MarkdownProcessor) Name() string { return "markdown" }

func (p *MarkdownProcessor) Process(_ context.Context, in pipeline.Input, emit pipeline.EmitFunc) error {
	// Fenced code is the highlight processor's concern; pass it through fully
	// settled so downstream sees it untouched.
	if in.Chunk.Meta.InCodeFence {
		emit(pipeline.Emission{Rendered: in.Chunk.Content, Pass: domain.PassFull})
		return nil
	}

	emit(pipeline.Emission{Rendered: in.Chunk.Content, Pass: domain.PassQuick})

	renderer, err := p.termRenderer()
	if err != nil {
		return err
	}
	out, err := renderer.Render(in.Chunk.Content)
	if err != nil {
		return err
	}
	emit(pipeline.Emission{Rendered: strings.TrimRight(out, "\n") + "\n", Pass: domain.PassFull})
	return nil
}

func (p *MarkdownProcessor) termRenderer() (*glamour.TermRenderer, error) {
	p.once.Do(func() {
		opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
		if p.cfg.WordWrap > 0 {
			opts = append(opts, glamour.WithWordWrap(p.cfg.WordWrap))
		}
		p.renderer, p.initErr = glamour.NewTermRenderer(opts...)
	})
	return p.renderer, p.initErr
}

// MarkdownPlugin wires the processor into the pipeline's plugin DAG.
func MarkdownPlugin(cfg MarkdownConfig) pipeline.Plugin {
	return pipeline.Plugin{
		Name:    "markdown",
		Settler: pipeline.SettleParagraph,
		New:     func() pipeline.Processor { return NewMarkdownProcessor(cfg) },
	}
}
