package render

import (
	"github.com/charmbracelet/glamour"
	"github.com/loomlocal/loom/pkg/blocks"
	"github.com/loomlocal/loom/pkg/logger"
)

// Term renders Markdown block content for a terminal via glamour, used
// by the chat command's client
type Term struct {
	renderer *glamour.TermRenderer
}

// NewTerm creates a terminal renderer wrapped to the given width
func NewTerm(width int) (*Term, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Term{renderer: r}, nil
}

// Render implements blocks.Renderer, falling back to the raw content
// when styling fails
func (t *Term) Render(content string) string {
	out, err := t.renderer.Render(content)
	if err != nil {
		logger.Debug("glamour render failed: %v", err)
		return content
	}
	return out
}

// Ensure Term implements blocks.Renderer
var _ blocks.Renderer = (*Term)(nil)
