package compose_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/loomlocal/loom/pkg/blocks"
	"github.com/loomlocal/loom/pkg/compose"
	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel replays one scripted round per Stream call
type scriptedModel struct {
	rounds []scriptedRound
	call   int
}

type scriptedRound struct {
	reasoning []string
	text      []string
	result    provider.Result
	err       error
}

func (m *scriptedModel) Model() string { return "test-model" }

func (m *scriptedModel) Stream(ctx context.Context, messages []llms.MessageContent, opts provider.StreamOptions) (*provider.Result, error) {
	require.Less(m.t(), m.call, len(m.rounds), "unexpected extra round")
	round := m.rounds[m.call]
	m.call++

	if round.err != nil {
		return nil, round.err
	}
	for _, delta := range round.reasoning {
		if opts.OnReasoning != nil {
			if err := opts.OnReasoning(delta); err != nil {
				return nil, err
			}
		}
	}
	for _, delta := range round.text {
		if opts.OnText != nil {
			if err := opts.OnText(delta); err != nil {
				return nil, err
			}
		}
	}
	result := round.result
	return &result, nil
}

// t is stashed so scripted rounds can fail the test from inside Stream
var currentT *testing.T

func (m *scriptedModel) t() *testing.T { return currentT }

type fakeTools struct {
	results map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeTools) Definitions() []llms.Tool {
	return []llms.Tool{{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "web_search",
			Description: "Search the web",
		},
	}}
}

func (f *fakeTools) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.results[name], nil
}

// runTurn composes a turn and returns the decoded wire events plus a
// client-side reconstruction of them
func runTurn(t *testing.T, c *compose.Composer, req compose.Request) (*compose.Outcome, []envelope.Envelope, *blocks.Session) {
	t.Helper()
	currentT = t

	var wire strings.Builder
	outcome, err := c.Run(context.Background(), envelope.NewWriter(&wire), req)
	require.NoError(t, err)

	events := envelope.NewDecoder().Feed([]byte(wire.String()))
	session := blocks.NewSession(blocks.Raw, blocks.Hooks{})
	for _, env := range events {
		session.Apply(env)
	}
	return outcome, events, session
}

func TestPlainStreamedAnswer(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{{
		text:   []string{"Hello", " world"},
		result: provider.Result{Usage: &provider.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}},
	}}}

	outcome, events, session := runTurn(t, &compose.Composer{Client: model}, compose.Request{
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")},
	})

	assert.Equal(t, "Hello world", outcome.Content)
	assert.True(t, events[len(events)-1].Terminal())

	msg := session.Message()
	require.True(t, msg.Complete())
	require.Len(t, msg.Blocks, 1)
	assert.Equal(t, "Hello world", msg.Blocks[0].Content())
	require.NotNil(t, msg.Usage)
	assert.Equal(t, 7, msg.Usage.TotalTokens)
	assert.False(t, msg.Usage.Estimated)
}

func TestReasoningThenAnswer(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{{
		reasoning: []string{"step1", " step2"},
		text:      []string{"Answer"},
		result:    provider.Result{},
	}}}

	outcome, _, session := runTurn(t, &compose.Composer{Client: model}, compose.Request{})

	assert.Equal(t, "step1 step2", outcome.Thinking)
	assert.Equal(t, "Answer", outcome.Content)

	msg := session.Message()
	require.Len(t, msg.Blocks, 2)
	assert.Equal(t, blocks.KindThinking, msg.Blocks[0].Kind)
	assert.Equal(t, "step1 step2", msg.Blocks[0].Content())
	assert.Equal(t, blocks.KindText, msg.Blocks[1].Kind)
	assert.Equal(t, "Answer", msg.Blocks[1].Content())
}

func TestToolRoundThenAnswer(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{
		{result: provider.Result{ToolCalls: []llms.ToolCall{{
			ID:   "call-1",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      "web_search",
				Arguments: `{"query":"x"}`,
			},
		}}}},
		{result: provider.Result{Content: "Found it"}},
	}}
	tools := &fakeTools{results: map[string]string{"web_search": "three results about x"}}

	outcome, events, session := runTurn(t, &compose.Composer{Client: model, Tools: tools}, compose.Request{})

	assert.Equal(t, []string{"web_search"}, tools.calls)
	assert.Equal(t, "Found it", outcome.Content)
	require.Len(t, outcome.Tools, 1)
	assert.Equal(t, "web_search", outcome.Tools[0].Name)
	assert.Equal(t, "x", outcome.Tools[0].Args["query"])

	// The second round's skipped marker must suppress its block; only
	// the real round survives reconstruction
	msg := session.Message()
	toolBlocks := msg.BlocksOf(blocks.KindTool)
	require.Len(t, toolBlocks, 1)
	require.Len(t, toolBlocks[0].Invocations, 1)
	assert.Equal(t, "web_search", toolBlocks[0].Invocations[0].Name)
	assert.Equal(t, "Found it", msg.Text())

	// Frame-level ordering: tool_end precedes the first text delta
	toolEndSeen := false
	for _, env := range events {
		if env.Kind == envelope.KindToolEnd {
			toolEndSeen = true
		}
		if env.Kind == envelope.KindMessage && !env.Terminal() {
			assert.True(t, toolEndSeen, "text delta before tool_end")
			break
		}
	}
}

func TestToolErrorIsReportedNotFatal(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{
		{result: provider.Result{ToolCalls: []llms.ToolCall{{
			ID:           "call-1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "web_search", Arguments: `{}`},
		}}}},
		{result: provider.Result{Content: "Answered anyway"}},
	}}
	tools := &fakeTools{errs: map[string]error{"web_search": errors.New("network down")}}

	outcome, _, session := runTurn(t, &compose.Composer{Client: model, Tools: tools}, compose.Request{})

	require.Len(t, outcome.Tools, 1)
	assert.Equal(t, "network down", outcome.Tools[0].Error)
	assert.Equal(t, "Answered anyway", session.Message().Text())
	assert.NoError(t, session.Message().Err())
}

func TestUpstreamErrorEmitsMarkedPayload(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{{err: errors.New("rate limited")}}}

	_, events, session := runTurn(t, &compose.Composer{Client: model}, compose.Request{})

	require.NotEmpty(t, events)
	assert.True(t, envelope.IsErrorPayload(events[0].Payload))
	assert.True(t, events[len(events)-1].Terminal())

	msg := session.Message()
	assert.True(t, msg.Complete())
	assert.Error(t, msg.Err())
}

func TestUsageEstimatedWhenMissing(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{{
		text:   []string{"short answer"},
		result: provider.Result{},
	}}}

	outcome, _, session := runTurn(t, &compose.Composer{Client: model}, compose.Request{
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "a long enough prompt")},
	})

	require.NotNil(t, outcome.Usage)
	assert.True(t, outcome.Usage.Estimated)
	require.NotNil(t, session.Message().Usage)
	assert.True(t, session.Message().Usage.Estimated)
}

func TestAckOpensStream(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{{text: []string{"ok"}, result: provider.Result{}}}}

	_, events, session := runTurn(t, &compose.Composer{Client: model}, compose.Request{UserMessageID: 42})

	require.NotEmpty(t, events)
	assert.Equal(t, envelope.KindAck, events[0].Kind)
	assert.Equal(t, int64(42), session.Message().UserMessageID)
}

type fakeRecognizer struct{ text string }

func (f *fakeRecognizer) Model() string { return "vision-model" }
func (f *fakeRecognizer) Describe(ctx context.Context, att compose.Attachment) (string, error) {
	return f.text, nil
}

func TestVisionPhasePrecedesAnswer(t *testing.T) {
	model := &scriptedModel{rounds: []scriptedRound{{text: []string{"It is a receipt"}, result: provider.Result{}}}}
	composer := &compose.Composer{Client: model, Vision: &fakeRecognizer{text: "Total: $12.30"}}

	outcome, events, session := runTurn(t, composer, compose.Request{
		Attachments: []compose.Attachment{{Name: "receipt.png", FileType: "image", MIME: "image/png"}},
	})

	assert.Contains(t, outcome.Vision, "Total: $12.30")
	assert.Equal(t, envelope.KindVisionStart, events[0].Kind)

	msg := session.Message()
	visionBlocks := msg.BlocksOf(blocks.KindVision)
	require.Len(t, visionBlocks, 1)
	assert.Contains(t, visionBlocks[0].Content(), "Total: $12.30")
	assert.True(t, visionBlocks[0].Finalized())
	assert.Equal(t, "It is a receipt", msg.Text())
}

func TestLongAnswerChunking(t *testing.T) {
	long := strings.Repeat("七", 1100) // multi-byte runes must not split
	model := &scriptedModel{rounds: []scriptedRound{
		{result: provider.Result{ToolCalls: []llms.ToolCall{{
			ID:           "c1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "web_search", Arguments: `{}`},
		}}}},
		{result: provider.Result{Content: long}},
	}}
	tools := &fakeTools{results: map[string]string{"web_search": "ok"}}

	_, events, session := runTurn(t, &compose.Composer{Client: model, Tools: tools}, compose.Request{})

	textFrames := 0
	for _, env := range events {
		if env.Kind == envelope.KindMessage && !env.Terminal() && !envelope.IsErrorPayload(env.Payload) {
			textFrames++
		}
	}
	assert.Equal(t, 3, textFrames) // 1100 runes in 512-rune chunks
	assert.Equal(t, long, session.Message().Text())
}
