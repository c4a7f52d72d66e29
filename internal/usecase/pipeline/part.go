package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cadence/internal/domain"
)

// FrameFunc receives frame snapshots as blocks settle and render.
type FrameFunc func(domain.Frame)

// PartConfig configures a per-part pipeline run.
type PartConfig struct {
	PartType domain.PartType
	Plugins  []Plugin
	OnFrame  FrameFunc
	Logger   *slog.Logger
}

// PartRun drives the pipeline for one streaming content part: raw chunks
// accumulate in a pending buffer, the negotiated settler commits prefixes,
// committed units flow through the processor chain, and every change produces
// a fresh frame snapshot for the reducer to attach.
//
// The run owns its Frame; snapshots handed to OnFrame are copies and callers
// must treat them as immutable.
type PartRun struct {
	partID   string
	partType domain.PartType
	settler  Settler
	chain    *Chain
	onFrame  FrameFunc
	logger   *slog.Logger

	mu      sync.Mutex
	pending string
	prior   string
	blocks  []domain.Block
	started time.Time

	collectDone chan struct{}
}

// NewPartRun resolves the plugin DAG, negotiates the settler and starts the
// chain and its collector.
func NewPartRun(ctx context.Context, cfg PartConfig) (*PartRun, error) {
	ordered, settlerKind, err := Resolve(cfg.Plugins)
	if err != nil {
		return nil, domain.WrapOp("pipeline.NewPartRun", err)
	}

	procs := make([]Processor, 0, len(ordered))
	for _, p := range ordered {
		procs = append(procs, p.New())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &PartRun{
		partID:      domain.NewID(),
		partType:    cfg.PartType,
		settler:     NewSettler(settlerKind),
		chain:       NewChain(ctx, procs, logger),
		onFrame:     cfg.OnFrame,
		logger:      logger,
		started:     time.Now(),
		collectDone: make(chan struct{}),
	}
	go r.collect()
	return r, nil
}

// PartID returns the pipeline-assigned part id carried on emitted frames.
func (r *PartRun) PartID() string { return r.partID }

// Write appends a raw chunk and settles whatever is ready.
func (r *PartRun) Write(chunk string) {
	r.mu.Lock()
	r.pending += chunk
	r.settleLocked(false)
	r.mu.Unlock()
}

// Finish flushes the settler (committing any unterminated remainder), drains
// the chain, marks all blocks complete and returns the final frame.
func (r *PartRun) Finish() domain.Frame {
	r.mu.Lock()
	r.settleLocked(true)
	r.mu.Unlock()

	r.chain.Close()
	<-r.collectDone

	r.mu.Lock()
	for i := range r.blocks {
		r.blocks[i].Status = domain.BlockComplete
	}
	frame := r.snapshotLocked()
	r.mu.Unlock()
	return frame
}

// settleLocked runs the settler over the pending buffer and commits the
// returned prefixes as new streaming blocks.
func (r *PartRun) settleLocked(flush bool) {
	units := r.settler.Settle(r.pending, time.Since(r.started), flush)
	if len(units) == 0 {
		return
	}
	consumed := 0
	for _, unit := range units {
		seq := len(r.blocks)
		r.blocks = append(r.blocks, domain.Block{
			Raw:      unit.Content,
			Rendered: unit.Content,
			Status:   domain.BlockStreaming,
			Pass:     domain.PassNone,
		})
		r.chain.Send(seq, unit, r.prior)
		r.prior += unit.Content
		consumed += len(unit.Content)
	}
	r.pending = r.pending[consumed:]
	r.emitLocked()
}

func (r *PartRun) collect() {
	defer close(r.collectDone)
	for u := range r.chain.Updates() {
		r.mu.Lock()
		if u.Seq >= 0 && u.Seq < len(r.blocks) {
			blk := &r.blocks[u.Seq]
			// Pass only moves forward for a block while streaming.
			if u.Pass >= blk.Pass {
				blk.Rendered = u.Rendered
				blk.Pass = u.Pass
			}
			r.emitLocked()
		}
		r.mu.Unlock()
	}
}

func (r *PartRun) snapshotLocked() domain.Frame {
	blocks := make([]domain.Block, len(r.blocks))
	copy(blocks, r.blocks)
	return domain.Frame{PartID: r.partID, PartType: r.partType, Blocks: blocks}
}

func (r *PartRun) emitLocked() {
	if r.onFrame != nil {
		r.onFrame(r.snapshotLocked())
	}
}
