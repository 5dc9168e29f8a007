package compose

import (
	"strings"

	"github.com/loomlocal/loom/pkg/envelope"
)

type phase int

const (
	phaseNone phase = iota
	phaseThinking
	phaseText
)

// phaseWriter enforces the ordering rule on the live-streaming path:
// before a delta of a different kind goes out, the open phase's closing
// envelope is emitted. Reasoning-capable models interleave thinking and
// text deltas in one upstream stream; the wire never does.
type phaseWriter struct {
	w        *envelope.Writer
	phase    phase
	thinking strings.Builder
	text     strings.Builder
	// run holds the current thinking run so the closing envelope can
	// carry its full text
	run strings.Builder
}

func newPhaseWriter(w *envelope.Writer) *phaseWriter {
	return &phaseWriter{w: w}
}

// Reasoning emits one thinking fragment, opening a thinking phase first
// when a different phase is current
func (p *phaseWriter) Reasoning(delta string) error {
	if p.phase != phaseThinking {
		if err := p.w.JSON(envelope.KindThinkingStart, envelope.ThinkingInfo{Message: "Reasoning"}); err != nil {
			return err
		}
		p.phase = phaseThinking
		p.run.Reset()
	}
	p.thinking.WriteString(delta)
	p.run.WriteString(delta)
	return p.w.Event(envelope.KindThinking, delta)
}

// Text emits one answer fragment, closing any open thinking phase first
func (p *phaseWriter) Text(delta string) error {
	if p.phase == phaseThinking {
		if err := p.closeThinking(); err != nil {
			return err
		}
	}
	p.phase = phaseText
	p.text.WriteString(delta)
	return p.w.Text(delta)
}

// Close finalizes whatever phase is still open at end of stream
func (p *phaseWriter) Close() error {
	if p.phase == phaseThinking {
		return p.closeThinking()
	}
	return nil
}

func (p *phaseWriter) closeThinking() error {
	err := p.w.JSON(envelope.KindThinkingEnd, envelope.ThinkingInfo{Thinking: p.run.String()})
	p.phase = phaseNone
	return err
}

// ThinkingText returns all reasoning accumulated across runs
func (p *phaseWriter) ThinkingText() string {
	return p.thinking.String()
}

// VisibleText returns the accumulated answer text
func (p *phaseWriter) VisibleText() string {
	return p.text.String()
}
