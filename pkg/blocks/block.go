package blocks

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomlocal/loom/pkg/envelope"
)

// Kind identifies what a reconstructed block contains
type Kind int

const (
	KindText Kind = iota
	KindThinking
	KindTool
	KindVision
)

// String returns the string representation of the block kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindThinking:
		return "thinking"
	case KindTool:
		return "tool"
	case KindVision:
		return "vision"
	default:
		return "unknown"
	}
}

// State represents the lifecycle of a block
type State int

const (
	StateOpen State = iota
	StateFinalized
)

// Block is one client-side reconstructed content unit. Fragments append
// to the accumulator while the block is open; finalization renders the
// accumulated content exactly once.
type Block struct {
	ID      string
	Kind    Kind
	State   State
	Created time.Time

	content  strings.Builder
	rendered string

	// Tool blocks carry the round's structured record
	ToolStatus  string
	Progress    []envelope.ToolProgress
	Invocations []envelope.ToolInvocation

	// Vision blocks carry the recognition sub-task description
	Vision envelope.VisionInfo
}

func newBlock(kind Kind) *Block {
	return &Block{
		ID:      uuid.NewString(),
		Kind:    kind,
		State:   StateOpen,
		Created: time.Now(),
	}
}

// Append adds fragment content to an open block
func (b *Block) Append(fragment string) {
	if b.State != StateOpen {
		return
	}
	b.content.WriteString(fragment)
}

// Content returns the accumulated raw payload
func (b *Block) Content() string {
	return b.content.String()
}

// Snapshot is an immutable copy of a block's identity and content,
// safe to hand to other goroutines.
type Snapshot struct {
	ID      string
	Kind    Kind
	Content string
}

// Snapshot must be called on the goroutine that applies events.
func (b *Block) Snapshot() Snapshot {
	return Snapshot{ID: b.ID, Kind: b.Kind, Content: b.content.String()}
}

// SetContent replaces the accumulator, used when a closing envelope
// carries the authoritative full text
func (b *Block) SetContent(content string) {
	if b.State != StateOpen {
		return
	}
	b.content.Reset()
	b.content.WriteString(content)
}

// Rendered returns the final rendered form, empty until finalized
func (b *Block) Rendered() string {
	return b.rendered
}

// Finalized reports whether the block has been sealed
func (b *Block) Finalized() bool {
	return b.State == StateFinalized
}

// finalize renders the accumulator once and seals the block. Calling it
// again is a no-op, so the rendered output never duplicates.
func (b *Block) finalize(r Renderer) {
	if b.State == StateFinalized {
		return
	}
	b.State = StateFinalized
	b.rendered = r.Render(b.Content())
}

// Renderer converts accumulated block content into its viewable form.
// The state machine calls it exactly once per block at finalization;
// preview rendering while a block is open goes through the session hooks
// so rendering cost never couples to state transitions.
type Renderer interface {
	Render(content string) string
}

// RendererFunc adapts a function to the Renderer interface
type RendererFunc func(content string) string

// Render implements Renderer
func (f RendererFunc) Render(content string) string {
	return f(content)
}

// Raw is a pass-through renderer
var Raw Renderer = RendererFunc(func(content string) string { return content })
