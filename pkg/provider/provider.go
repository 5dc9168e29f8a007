package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Config describes one OpenAI-compatible API provider
type Config struct {
	ID           int64
	Name         string
	APIBase      string
	APIKey       string
	DefaultModel string
	Models       []string
	IsDefault    bool
}

// HasModel reports whether the provider lists a model
func (c Config) HasModel(model string) bool {
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return model == c.DefaultModel
}

// VisionModels returns the provider's models that accept image input,
// recognized by the naming conventions the upstream APIs use
func (c Config) VisionModels() []string {
	var out []string
	for _, m := range c.Models {
		lower := strings.ToLower(m)
		if strings.Contains(lower, "vision") || strings.Contains(lower, "gpt-4o") || strings.Contains(lower, "claude-3") {
			out = append(out, m)
		}
	}
	return out
}

// Client is a streaming chat client bound to one provider and model
type Client struct {
	llm   llms.Model
	model string
}

// New creates a client for the given provider and model. An empty model
// falls back to the provider's default.
func New(cfg Config, model string) (*Client, error) {
	if model == "" {
		model = cfg.DefaultModel
	}
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("provider %q has no api base", cfg.Name)
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.APIBase),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for provider %q: %w", cfg.Name, err)
	}

	return &Client{llm: llm, model: model}, nil
}

// Model returns the model identifier this client calls
func (c *Client) Model() string {
	return c.model
}

// Usage is the token accounting for one upstream call
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Estimated    bool
}

// Result is the outcome of one upstream call
type Result struct {
	Content    string
	ToolCalls  []llms.ToolCall
	StopReason string
	Usage      *Usage
}

// StreamOptions configures one streaming call. OnText receives visible
// answer deltas, OnReasoning receives thinking deltas when the model
// exposes them; both run on the call's goroutine.
type StreamOptions struct {
	Tools       []llms.Tool
	OnText      func(delta string) error
	OnReasoning func(delta string) error
}

// Stream runs one chat completion, pushing deltas through the callbacks
// as they arrive. It returns the full content, any tool-call requests,
// and usage when the upstream reports it.
func (c *Client) Stream(ctx context.Context, messages []llms.MessageContent, opts StreamOptions) (*Result, error) {
	callOpts := []llms.CallOption{
		llms.WithStreamingReasoningFunc(func(ctx context.Context, reasoningChunk, chunk []byte) error {
			if len(reasoningChunk) > 0 && opts.OnReasoning != nil {
				if err := opts.OnReasoning(string(reasoningChunk)); err != nil {
					return err
				}
			}
			if len(chunk) > 0 && opts.OnText != nil {
				if err := opts.OnText(string(chunk)); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	if len(opts.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(opts.Tools))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("upstream call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("upstream returned no choices")
	}

	choice := resp.Choices[0]
	return &Result{
		Content:    choice.Content,
		ToolCalls:  choice.ToolCalls,
		StopReason: choice.StopReason,
		Usage:      usageFromInfo(choice.GenerationInfo),
	}, nil
}

// Complete runs one non-streaming call, used by the vision phase and
// internal utility prompts
func (c *Client) Complete(ctx context.Context, messages []llms.MessageContent) (*Result, error) {
	return c.Stream(ctx, messages, StreamOptions{})
}

// usageFromInfo pulls token counts out of langchaingo's generation info
func usageFromInfo(info map[string]any) *Usage {
	if info == nil {
		return nil
	}
	input := intFromInfo(info, "PromptTokens")
	output := intFromInfo(info, "CompletionTokens")
	total := intFromInfo(info, "TotalTokens")
	if input == 0 && output == 0 && total == 0 {
		return nil
	}
	if total == 0 {
		total = input + output
	}
	return &Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// EstimateUsage approximates token counts when the stream never reported
// them, matching the chars/4 heuristic the front-end expects
func EstimateUsage(prompt, output string) *Usage {
	input := len(prompt) / 4
	if input < 1 {
		input = 1
	}
	out := len(output) / 4
	if out < 1 {
		out = 1
	}
	return &Usage{
		InputTokens:  input,
		OutputTokens: out,
		TotalTokens:  input + out,
		Estimated:    true,
	}
}
