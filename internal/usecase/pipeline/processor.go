package pipeline

import (
	"context"

	"cadence/internal/domain"
)

// Input is what a processor receives for one settled unit.
type Input struct {
	// Chunk is the settled unit, including settler metadata.
	Chunk Settled
	// Prior is the accumulated raw content settled before this chunk.
	Prior string
	// Full is Prior plus the chunk's raw content.
	Full string
	// Upstream is the rendered output of the previous processor in the
	// chain, empty for the first stage.
	Upstream string
}

// Emission is one progressively-enhanced output for a settled unit. A quick
// pass is a fast approximation; the full pass is final. For a given unit a
// processor emits at most one full pass, and never a quick pass after it.
type Emission struct {
	Rendered string
	Pass     domain.RenderPass
}

// EmitFunc receives a processor's emissions for the current unit.
type EmitFunc func(Emission)

// Processor enriches settled content. Process may emit zero or more times
// and may block on expensive work (highlighting, rendering); each stage runs
// in its own goroutine so a slow processor does not stall upstream
// production.
type Processor interface {
	Name() string
	Process(ctx context.Context, in Input, emit EmitFunc) error
}
