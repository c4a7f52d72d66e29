package domain

import "strings"

// RenderPass identifies how far a block has progressed through the pipeline's
// progressive enhancement. Passes only move forward for a given block while
// streaming: none < quick < full.
type RenderPass int

const (
	PassNone RenderPass = iota
	PassQuick
	PassFull
)

func (p RenderPass) String() string {
	switch p {
	case PassQuick:
		return "quick"
	case PassFull:
		return "full"
	default:
		return "none"
	}
}

// BlockStatus marks whether a block's raw content is still accumulating.
type BlockStatus string

const (
	BlockStreaming BlockStatus = "streaming"
	BlockComplete  BlockStatus = "complete"
)

// Block is one settled unit of content with its rendered form.
type Block struct {
	Raw      string      `json:"raw"`
	Rendered string      `json:"rendered"`
	Status   BlockStatus `json:"status"`
	Pass     RenderPass  `json:"pass"`
}

// Frame is the pipeline's rendered output for one content part: an ordered
// sequence of blocks. The pipeline assigns PartID independently of the
// reducer, so PartType is the primary matching key on attachment.
type Frame struct {
	PartID   string   `json:"part_id"`
	PartType PartType `json:"part_type"`
	Blocks   []Block  `json:"blocks"`
}

// Rendered joins every block's rendered content in order.
func (f *Frame) Rendered() string {
	var b strings.Builder
	for _, blk := range f.Blocks {
		b.WriteString(blk.Rendered)
	}
	return b.String()
}

// Raw joins every block's raw content in order.
func (f *Frame) Raw() string {
	var b strings.Builder
	for _, blk := range f.Blocks {
		b.WriteString(blk.Raw)
	}
	return b.String()
}
