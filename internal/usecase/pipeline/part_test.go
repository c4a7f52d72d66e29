package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/domain"
)

// frameRecorder captures the frame snapshots a run emits.
type frameRecorder struct {
	mu     sync.Mutex
	frames []domain.Frame
}

func (r *frameRecorder) record(f domain.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func upperPlugin() Plugin {
	return Plugin{
		Name:    "upper",
		Settler: SettleParagraph,
		New: func() Processor {
			return funcProcessor{name: "upper", fn: func(in Input, emit EmitFunc) error {
				emit(Emission{Rendered: "<" + in.Chunk.Content + ">", Pass: domain.PassFull})
				return nil
			}}
		},
	}
}

func TestPartRunAssemblesFrame(t *testing.T) {
	rec := &frameRecorder{}
	run, err := NewPartRun(context.Background(), PartConfig{
		PartType: domain.PartText,
		Plugins:  []Plugin{upperPlugin()},
		OnFrame:  rec.record,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.PartID())

	run.Write("first paragraph\n\nsecond par")
	run.Write("agraph\n\ntrailing")
	frame := run.Finish()

	assert.Equal(t, run.PartID(), frame.PartID)
	assert.Equal(t, domain.PartText, frame.PartType)
	require.Len(t, frame.Blocks, 3)
	assert.Equal(t, "first paragraph\n\n", frame.Blocks[0].Raw)
	assert.Equal(t, "second paragraph\n\n", frame.Blocks[1].Raw)
	assert.Equal(t, "trailing", frame.Blocks[2].Raw)
	for _, b := range frame.Blocks {
		assert.Equal(t, domain.BlockComplete, b.Status)
		assert.Equal(t, "<"+b.Raw+">", b.Rendered)
		assert.Equal(t, domain.PassFull, b.Pass)
	}

	// Raw reconstruction covers every chunk written.
	assert.Equal(t, "first paragraph\n\nsecond paragraph\n\ntrailing", frame.Raw())
}

func TestPartRunFramesStreamBeforeFinish(t *testing.T) {
	rec := &frameRecorder{}
	run, err := NewPartRun(context.Background(), PartConfig{
		PartType: domain.PartText,
		Plugins:  []Plugin{upperPlugin()},
		OnFrame:  rec.record,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	run.Write("hello world\n\n")

	rec.mu.Lock()
	streamed := len(rec.frames) > 0
	var first domain.Frame
	if streamed {
		first = rec.frames[0]
	}
	rec.mu.Unlock()

	require.True(t, streamed)
	require.Len(t, first.Blocks, 1)
	assert.Equal(t, "hello world\n\n", first.Blocks[0].Raw)
	assert.Equal(t, domain.BlockStreaming, first.Blocks[0].Status)

	run.Finish()
}

func TestPartRunNoPluginsPassesRawThrough(t *testing.T) {
	run, err := NewPartRun(context.Background(), PartConfig{
		PartType: domain.PartReasoning,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	run.Write("thinking out loud")
	frame := run.Finish()

	require.Len(t, frame.Blocks, 1)
	assert.Equal(t, "thinking out loud", frame.Blocks[0].Raw)
	assert.Equal(t, "thinking out loud", frame.Blocks[0].Rendered)
	assert.Equal(t, domain.BlockComplete, frame.Blocks[0].Status)
}

func TestPartRunBadPluginGraph(t *testing.T) {
	_, err := NewPartRun(context.Background(), PartConfig{
		PartType: domain.PartText,
		Plugins: []Plugin{
			plugin("a", SettleParagraph, "b"),
			plugin("b", SettleParagraph, "a"),
		},
		Logger: discardLogger(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircularDependency)
}

func TestPartRunCodeFenceSettlerNegotiated(t *testing.T) {
	rec := &frameRecorder{}
	run, err := NewPartRun(context.Background(), PartConfig{
		PartType: domain.PartText,
		Plugins: []Plugin{
			plugin("markdown", SettleParagraph),
			plugin("highlight", SettleCodeFence, "markdown"),
		},
		OnFrame: rec.record,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	run.Write("```go\nfmt.Println(1)\n")
	frame := run.Finish()

	// The fence settler commits line by line inside a fence, and flush
	// closes the unterminated fence.
	require.NotEmpty(t, frame.Blocks)
	assert.Equal(t, "```go\nfmt.Println(1)\n", frame.Raw())
}
