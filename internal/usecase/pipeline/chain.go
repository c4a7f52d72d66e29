package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"cadence/internal/domain"
)

// Update is the chain's output for one settled unit. Seq is the unit's index
// in settle order; Pass is the minimum pass across all stages, so an update
// is full only once every stage has produced its final rendering.
type Update struct {
	Seq      int
	Unit     Settled
	Rendered string
	Pass     domain.RenderPass
}

// stageItem flows between chain stages.
type stageItem struct {
	seq      int
	unit     Settled
	prior    string
	full     string
	rendered string
	pass     domain.RenderPass
}

// Chain runs settled units through an ordered list of processors, each in its
// own goroutine. The input boundary is a Buffered channel so units sent
// before the stages attach are never dropped; every stage is a strict
// single-consumer, forward-only channel, which preserves input order across
// concurrent stages.
type Chain struct {
	in     *Buffered[stageItem]
	out    chan Update
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewChain builds and starts the stage workers. Updates arrive on Updates()
// until Close drains the chain.
func NewChain(ctx context.Context, procs []Processor, logger *slog.Logger) *Chain {
	c := &Chain{
		in:     NewBuffered[stageItem](),
		out:    make(chan Update, 16),
		logger: logger,
	}

	upstream := c.in.Subscribe()
	for _, proc := range procs {
		downstream := make(chan stageItem, 16)
		c.wg.Add(1)
		go c.runStage(ctx, proc, upstream, downstream)
		upstream = downstream
	}

	c.wg.Add(1)
	go c.collect(upstream)
	return c
}

// Send enqueues one settled unit.
func (c *Chain) Send(seq int, unit Settled, prior string) {
	c.in.Send(stageItem{
		seq:      seq,
		unit:     unit,
		prior:    prior,
		full:     prior + unit.Content,
		rendered: unit.Content,
		pass:     domain.PassFull,
	})
}

// Updates returns the output channel, closed after Close drains the chain.
func (c *Chain) Updates() <-chan Update {
	return c.out
}

// Close stops intake and blocks until every queued unit has flowed through
// all stages and out of the chain.
func (c *Chain) Close() {
	c.in.Close()
	c.wg.Wait()
}

func (c *Chain) runStage(ctx context.Context, proc Processor, in <-chan stageItem, out chan<- stageItem) {
	defer c.wg.Done()
	defer close(out)

	for item := range in {
		emitted := false
		err := proc.Process(ctx, Input{
			Chunk:    item.unit,
			Prior:    item.prior,
			Full:     item.full,
			Upstream: item.rendered,
		}, func(e Emission) {
			emitted = true
			next := item
			next.rendered = e.Rendered
			next.pass = minPass(item.pass, e.Pass)
			out <- next
		})
		if err != nil {
			// One failed processor invocation degrades one unit; the raw
			// item still flows so downstream and the UI see it.
			c.logger.Warn("processor failed",
				"processor", proc.Name(),
				"seq", item.seq,
				"error", err,
			)
		}
		if !emitted {
			out <- item
		}
	}
}

// collect enforces the progressive-enhancement invariant at the output: for
// a given unit the observed pass never regresses, and nothing follows its
// full emission.
func (c *Chain) collect(in <-chan stageItem) {
	defer c.wg.Done()
	defer close(c.out)

	maxPass := map[int]domain.RenderPass{}
	fullSeen := map[int]bool{}
	for item := range in {
		if fullSeen[item.seq] {
			continue
		}
		if p, ok := maxPass[item.seq]; ok && item.pass < p {
			continue
		}
		maxPass[item.seq] = item.pass
		if item.pass == domain.PassFull {
			fullSeen[item.seq] = true
		}
		c.out <- Update{Seq: item.seq, Unit: item.unit, Rendered: item.rendered, Pass: item.pass}
	}
}

func minPass(a, b domain.RenderPass) domain.RenderPass {
	if a < b {
		return a
	}
	return b
}
