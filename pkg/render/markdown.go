package render

import (
	"bytes"

	"github.com/loomlocal/loom/pkg/blocks"
	"github.com/loomlocal/loom/pkg/logger"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// HTML renders Markdown block content to sanitized HTML for the web
// front-end. Sanitization runs on every render so model output can never
// inject markup.
type HTML struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewHTML creates the web renderer
func NewHTML() *HTML {
	return &HTML{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render implements blocks.Renderer
func (h *HTML) Render(content string) string {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(content), &buf); err != nil {
		logger.Warn("markdown conversion failed, rendering escaped text: %v", err)
		return h.policy.Sanitize(content)
	}
	return h.policy.Sanitize(buf.String())
}

// Ensure HTML implements blocks.Renderer
var _ blocks.Renderer = (*HTML)(nil)
