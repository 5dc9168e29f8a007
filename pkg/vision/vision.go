package vision

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/loomlocal/loom/pkg/compose"
	"github.com/loomlocal/loom/pkg/provider"
)

const recognitionPrompt = "Extract all text and describe the meaningful content of this file. " +
	"Return the extracted text verbatim where possible, followed by a short description of any " +
	"non-text content such as charts, tables or figures."

// Describer runs attachments through a vision-capable model and returns
// the extracted text
type Describer struct {
	client *provider.Client
	model  string
}

// NewDescriber wraps a client connected to a vision-capable model
func NewDescriber(client *provider.Client) *Describer {
	return &Describer{client: client, model: client.Model()}
}

func (d *Describer) Model() string {
	return d.model
}

// Describe sends the file bytes alongside the recognition prompt and
// returns the model's answer
func (d *Describer) Describe(ctx context.Context, att compose.Attachment) (string, error) {
	mime := att.MIME
	if mime == "" {
		mime = mimeForName(att.Name)
	}

	msg := llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(mime, att.Data),
			llms.TextPart(recognitionPrompt),
		},
	}

	result, err := d.client.Complete(ctx, []llms.MessageContent{msg})
	if err != nil {
		return "", fmt.Errorf("vision recognition failed: %w", err)
	}
	return strings.TrimSpace(result.Content), nil
}

// FileType classifies an upload for downstream handling
func FileType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return "image"
	default:
		return "document"
	}
}

func mimeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
