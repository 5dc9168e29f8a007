package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/logger"
	"github.com/loomlocal/loom/pkg/provider"
	"github.com/tmc/langchaingo/llms"
)

// ModelCaller is the upstream call surface the composer drives
type ModelCaller interface {
	Model() string
	Stream(ctx context.Context, messages []llms.MessageContent, opts provider.StreamOptions) (*provider.Result, error)
}

// ToolExecutor resolves tool-call requests between model rounds
type ToolExecutor interface {
	// Definitions lists the tools offered to the model
	Definitions() []llms.Tool

	// Execute runs one tool call and returns its result text
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Attachment is an uploaded file that may need vision recognition
type Attachment struct {
	Name     string
	FileType string // pdf | image | document
	MIME     string
	Data     []byte
}

// Recognizer extracts text from attachments via a vision-capable model
// when the chat model cannot see them natively
type Recognizer interface {
	Model() string
	Describe(ctx context.Context, att Attachment) (string, error)
}

const (
	defaultMaxToolRounds = 5
	textChunkSize        = 512
	resultPreviewLimit   = 200
)

// Composer drives the sub-operations of one assistant turn and emits the
// envelope sequence for them in causally correct order. Phases of
// different kinds never interleave at the frame level; only same-kind
// fragments stream incrementally inside a phase.
type Composer struct {
	Client ModelCaller
	Tools  ToolExecutor // nil disables tool rounds
	Vision Recognizer   // nil disables the vision phase

	MaxToolRounds int
}

// Request is one assistant turn to compose
type Request struct {
	Messages      []llms.MessageContent
	Attachments   []Attachment
	UserMessageID int64
}

// Outcome is what the turn accumulated, for persistence by the caller.
// It is returned even when the turn errored, carrying the partial state.
type Outcome struct {
	Content  string
	Thinking string
	Vision   string
	Tools    []envelope.ToolInvocation
	Usage    *provider.Usage
	Model    string
}

// Run streams one turn. Upstream failures emit an error-marked payload
// followed by the terminator; content already emitted stays visible.
func (c *Composer) Run(ctx context.Context, w *envelope.Writer, req Request) (*Outcome, error) {
	outcome := &Outcome{Model: c.Client.Model()}

	if req.UserMessageID > 0 {
		if err := w.JSON(envelope.KindAck, envelope.Ack{UserMessageID: req.UserMessageID}); err != nil {
			return outcome, err
		}
	}

	messages := req.Messages

	if len(req.Attachments) > 0 && c.Vision != nil {
		visionText, err := c.runVisionPhase(ctx, w, req.Attachments)
		if err != nil {
			return c.fail(w, outcome, err)
		}
		outcome.Vision = visionText
		if visionText != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem,
				"Content extracted from the attached files:\n\n"+visionText))
		}
	}

	var runErr error
	if c.Tools != nil {
		runErr = c.runToolRounds(ctx, w, messages, outcome)
	} else {
		runErr = c.runStreamed(ctx, w, messages, outcome)
	}
	if runErr != nil {
		return c.fail(w, outcome, runErr)
	}

	if outcome.Usage == nil {
		outcome.Usage = provider.EstimateUsage(promptText(messages), outcome.Content)
	}
	if err := w.JSON(envelope.KindMeta, envelope.Meta{
		Model:        outcome.Model,
		InputTokens:  outcome.Usage.InputTokens,
		OutputTokens: outcome.Usage.OutputTokens,
		TotalTokens:  outcome.Usage.TotalTokens,
		Estimated:    outcome.Usage.Estimated,
	}); err != nil {
		return outcome, err
	}
	return outcome, w.Done()
}

// fail surfaces the error on the wire and terminates the stream; the
// outcome keeps whatever accumulated so the caller can persist it
func (c *Composer) fail(w *envelope.Writer, outcome *Outcome, err error) (*Outcome, error) {
	logger.Error("turn failed for model %s: %v", outcome.Model, err)
	if werr := w.Error(err); werr != nil {
		return outcome, werr
	}
	return outcome, w.Done()
}

// runStreamed handles the no-tools path: deltas go out live, with the
// thinking run framed ahead of the text run as the model interleaves
func (c *Composer) runStreamed(ctx context.Context, w *envelope.Writer, messages []llms.MessageContent, outcome *Outcome) error {
	phases := newPhaseWriter(w)

	result, err := c.Client.Stream(ctx, messages, provider.StreamOptions{
		OnReasoning: phases.Reasoning,
		OnText:      phases.Text,
	})
	if err != nil {
		return err
	}
	if err := phases.Close(); err != nil {
		return err
	}

	outcome.Thinking = phases.ThinkingText()
	outcome.Content = phases.VisibleText()
	if outcome.Content == "" && result.Content != "" {
		// Some providers return content only in the final choice
		outcome.Content = result.Content
		if err := c.emitTextChunks(w, result.Content); err != nil {
			return err
		}
	}
	mergeUsage(outcome, result.Usage)
	return nil
}

// runToolRounds handles the tool path: each round offers the tools, runs
// whatever the model requested, feeds results back, and repeats until
// the model answers directly or the round budget runs out. Rounds run
// unstreamed so tool frames never interleave with text frames; the final
// answer is chunked out afterwards, the way the original backend does.
func (c *Composer) runToolRounds(ctx context.Context, w *envelope.Writer, messages []llms.MessageContent, outcome *Outcome) error {
	maxRounds := c.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}

	definitions := c.Tools.Definitions()
	var thinkingParts []string

	for round := 0; ; round++ {
		if err := w.JSON(envelope.KindToolStart, envelope.ToolStart{
			Status:  "tools",
			Message: "Deciding whether to call tools",
		}); err != nil {
			return err
		}

		var roundThinking strings.Builder
		result, err := c.Client.Stream(ctx, messages, provider.StreamOptions{
			Tools: definitions,
			OnReasoning: func(delta string) error {
				roundThinking.WriteString(delta)
				return nil
			},
		})
		if err != nil {
			return err
		}
		mergeUsage(outcome, result.Usage)

		if len(result.ToolCalls) == 0 || round >= maxRounds {
			if err := w.JSON(envelope.KindToolEnd, envelope.ToolEnd{
				Status: envelope.StatusSkipped,
				Tools:  []envelope.ToolInvocation{},
			}); err != nil {
				return err
			}
			if roundThinking.Len() > 0 {
				thinkingParts = append(thinkingParts, roundThinking.String())
				if err := c.emitThinkingPhase(w, roundThinking.String()); err != nil {
					return err
				}
			}
			outcome.Thinking = strings.Join(thinkingParts, "\n\n")
			outcome.Content = result.Content
			return c.emitTextChunks(w, result.Content)
		}

		invocations, toolMessages, err := c.executeCalls(ctx, w, result.ToolCalls)
		if err != nil {
			return err
		}
		outcome.Tools = append(outcome.Tools, invocations...)
		if err := w.JSON(envelope.KindToolEnd, envelope.ToolEnd{Tools: invocations}); err != nil {
			return err
		}
		if roundThinking.Len() > 0 {
			thinkingParts = append(thinkingParts, roundThinking.String())
			if err := c.emitThinkingPhase(w, roundThinking.String()); err != nil {
				return err
			}
		}

		messages = append(messages, assistantToolCallMessage(result.ToolCalls))
		messages = append(messages, toolMessages...)
	}
}

// executeCalls runs each requested tool, reporting progress per call
func (c *Composer) executeCalls(ctx context.Context, w *envelope.Writer, calls []llms.ToolCall) ([]envelope.ToolInvocation, []llms.MessageContent, error) {
	invocations := make([]envelope.ToolInvocation, 0, len(calls))
	var toolMessages []llms.MessageContent

	for _, call := range calls {
		if call.FunctionCall == nil {
			continue
		}
		name := call.FunctionCall.Name
		args := parseArgs(call.FunctionCall.Arguments)

		if err := w.JSON(envelope.KindToolProgress, envelope.ToolProgress{
			Tool: name, Stage: "start", Message: fmt.Sprintf("Calling %s", name),
		}); err != nil {
			return nil, nil, err
		}

		invocation := envelope.ToolInvocation{Name: name, Args: args}
		result, execErr := c.Tools.Execute(ctx, name, args)
		if execErr != nil {
			logger.Warn("tool %s failed: %v", name, execErr)
			invocation.Error = execErr.Error()
			result = fmt.Sprintf("tool error: %v", execErr)
			if err := w.JSON(envelope.KindToolProgress, envelope.ToolProgress{
				Tool: name, Stage: "error", Message: execErr.Error(),
			}); err != nil {
				return nil, nil, err
			}
		} else {
			invocation.ResultPreview = truncate(result, resultPreviewLimit)
			if err := w.JSON(envelope.KindToolProgress, envelope.ToolProgress{
				Tool: name, Stage: "done", Message: invocation.ResultPreview,
			}); err != nil {
				return nil, nil, err
			}
		}

		invocations = append(invocations, invocation)
		toolMessages = append(toolMessages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: call.ID,
				Name:       name,
				Content:    result,
			}},
		})
	}
	return invocations, toolMessages, nil
}

// runVisionPhase extracts text from attachments, streaming the
// recognized content as vision chunks
func (c *Composer) runVisionPhase(ctx context.Context, w *envelope.Writer, attachments []Attachment) (string, error) {
	if err := w.JSON(envelope.KindVisionStart, envelope.VisionInfo{
		Model:    c.Vision.Model(),
		FileType: attachments[0].FileType,
		Message:  fmt.Sprintf("Recognizing %d attached file(s)", len(attachments)),
	}); err != nil {
		return "", err
	}

	var parts []string
	for _, att := range attachments {
		if err := w.Event(envelope.KindVisionProgress, fmt.Sprintf("Recognizing %s", att.Name)); err != nil {
			return "", err
		}
		text, err := c.Vision.Describe(ctx, att)
		if err != nil {
			logger.Warn("vision recognition failed for %s: %v", att.Name, err)
			if werr := w.Event(envelope.KindVisionProgress, fmt.Sprintf("Recognition failed for %s: %v", att.Name, err)); werr != nil {
				return "", werr
			}
			continue
		}
		encoded, _ := json.Marshal(text)
		if err := w.Event(envelope.KindVisionChunk, string(encoded)); err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", att.Name, text))
	}

	if err := w.JSON(envelope.KindVisionEnd, envelope.VisionInfo{
		Model:    c.Vision.Model(),
		FileType: attachments[0].FileType,
	}); err != nil {
		return "", err
	}
	return strings.Join(parts, "\n\n"), nil
}

// emitThinkingPhase frames a completed reasoning run, carrying the full
// thinking text in the closing envelope
func (c *Composer) emitThinkingPhase(w *envelope.Writer, thinking string) error {
	if err := w.JSON(envelope.KindThinkingStart, envelope.ThinkingInfo{Message: "Reasoning"}); err != nil {
		return err
	}
	if err := w.Event(envelope.KindThinking, thinking); err != nil {
		return err
	}
	return w.JSON(envelope.KindThinkingEnd, envelope.ThinkingInfo{Thinking: thinking})
}

// emitTextChunks streams prepared answer text in JSON-protected chunks
func (c *Composer) emitTextChunks(w *envelope.Writer, content string) error {
	runes := []rune(content)
	for i := 0; i < len(runes); i += textChunkSize {
		end := i + textChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := w.Text(string(runes[i:end])); err != nil {
			return err
		}
	}
	return nil
}

func assistantToolCallMessage(calls []llms.ToolCall) llms.MessageContent {
	parts := make([]llms.ContentPart, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, call)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func parseArgs(raw string) map[string]any {
	args := make(map[string]any)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		args["_raw"] = raw
	}
	return args
}

func mergeUsage(outcome *Outcome, usage *provider.Usage) {
	if usage == nil {
		return
	}
	if outcome.Usage == nil {
		outcome.Usage = &provider.Usage{}
	}
	outcome.Usage.InputTokens += usage.InputTokens
	outcome.Usage.OutputTokens += usage.OutputTokens
	outcome.Usage.TotalTokens += usage.TotalTokens
}

func promptText(messages []llms.MessageContent) string {
	var sb strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if text, ok := p.(llms.TextContent); ok {
				sb.WriteString(text.Text)
			}
		}
	}
	return sb.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
