package envelope_test

import (
	"strings"
	"testing"

	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		kind    envelope.Kind
		payload string
	}{
		{"single line", envelope.KindThinking, "step one"},
		{"embedded newlines", envelope.KindThinking, "line one\nline two\n\tindented"},
		{"leading and trailing newlines", envelope.KindText, "\nmiddle\n"},
		{"empty payload", envelope.KindThinkingEnd, ""},
		{"json payload", envelope.KindMeta, `{"model":"gpt-4o","input_tokens":10,"output_tokens":5,"total_tokens":15}`},
		{"markdown code fence", envelope.KindText, "```go\nfunc main() {}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := envelope.Encode(tt.kind, tt.payload)

			decoder := envelope.NewDecoder()
			events := decoder.Feed([]byte(frame))

			require.Len(t, events, 1)
			assert.Equal(t, tt.kind, events[0].Kind)
			assert.Equal(t, tt.payload, events[0].Payload)
			assert.Empty(t, decoder.Rest())
		})
	}
}

func TestDefaultKindOmitsEventLine(t *testing.T) {
	frame := envelope.Encode(envelope.KindMessage, "hello")
	assert.Equal(t, "data: hello\n\n", frame)

	decoder := envelope.NewDecoder()
	events := decoder.Feed([]byte(frame))
	require.Len(t, events, 1)
	assert.Equal(t, envelope.KindMessage, events[0].Kind)
}

func TestChunkBoundaryIndependence(t *testing.T) {
	frames := envelope.Encode(envelope.KindThinkingStart, `{"message":"thinking"}`) +
		envelope.Encode(envelope.KindThinking, "first\nsecond") +
		envelope.Encode(envelope.KindThinkingEnd, `{"thinking":"first\nsecond"}`) +
		envelope.EncodeTextDelta("Hello\nworld") +
		envelope.Encode(envelope.KindMessage, envelope.Terminator)

	wholeDecoder := envelope.NewDecoder()
	expected := wholeDecoder.Feed([]byte(frames))
	require.NotEmpty(t, expected)

	// Split at every possible single boundary
	for split := 1; split < len(frames); split++ {
		decoder := envelope.NewDecoder()
		events := decoder.Feed([]byte(frames[:split]))
		events = append(events, decoder.Feed([]byte(frames[split:]))...)
		assert.Equal(t, expected, events, "split at byte %d", split)
	}

	// Byte-at-a-time
	decoder := envelope.NewDecoder()
	var events []envelope.Envelope
	for i := 0; i < len(frames); i++ {
		events = append(events, decoder.Feed([]byte{frames[i]})...)
	}
	assert.Equal(t, expected, events)
}

func TestCRLFNormalization(t *testing.T) {
	frame := "event: meta\r\ndata: {}\r\n\r\n"

	decoder := envelope.NewDecoder()
	// Split between \r and \n to exercise the carried-over CR
	events := decoder.Feed([]byte("event: meta\r"))
	assert.Empty(t, events)
	events = decoder.Feed([]byte(frame[12:]))
	require.Len(t, events, 1)
	assert.Equal(t, envelope.KindMeta, events[0].Kind)
	assert.Equal(t, "{}", events[0].Payload)
}

func TestMalformedFrameDropped(t *testing.T) {
	stream := envelope.EncodeTextDelta("Hello") +
		"event: text\nno data lines here\n\n" +
		envelope.EncodeTextDelta(" world")

	decoder := envelope.NewDecoder()
	events := decoder.Feed([]byte(stream))

	require.Len(t, events, 2)
	assert.Equal(t, "Hello", envelope.DecodeText(events[0].Payload))
	assert.Equal(t, " world", envelope.DecodeText(events[1].Payload))
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"json string", `"hello\nworld"`, "hello\nworld"},
		{"text object", `{"text":"chunk with\nnewline"}`, "chunk with\nnewline"},
		{"raw fallback", "plain delta", "plain delta"},
		{"invalid json falls back", `{"text":`, `{"text":`},
		{"empty", "", ""},
		{"json that is not text-shaped", `{"other":"x"}`, `{"other":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, envelope.DecodeText(tt.payload))
		})
	}
}

func TestTerminatorAndErrorMarkers(t *testing.T) {
	assert.True(t, envelope.IsTerminator("[DONE]"))
	assert.True(t, envelope.IsTerminator(" [DONE]\n"))
	assert.False(t, envelope.IsTerminator("[DONE] trailing"))

	assert.True(t, envelope.Envelope{Kind: envelope.KindDone}.Terminal())
	assert.True(t, envelope.Envelope{Kind: envelope.KindMessage, Payload: "[DONE]"}.Terminal())
	assert.False(t, envelope.Envelope{Kind: envelope.KindText, Payload: "done"}.Terminal())

	assert.True(t, envelope.IsErrorPayload(envelope.ErrorPrefix+"upstream exploded"))
	assert.False(t, envelope.IsErrorPayload("no error here"))
}

func TestToolEndDecoding(t *testing.T) {
	end, err := envelope.DecodeToolEnd(`{"status":"skipped","tools":[]}`)
	require.NoError(t, err)
	assert.True(t, end.Skipped())

	end, err = envelope.DecodeToolEnd(`{"tools":[{"name":"web_search","args":{"query":"go"},"result_preview":"..."}]}`)
	require.NoError(t, err)
	assert.False(t, end.Skipped())
	require.Len(t, end.Tools, 1)
	assert.Equal(t, "web_search", end.Tools[0].Name)
}

func TestWriterFrames(t *testing.T) {
	var sb strings.Builder
	w := envelope.NewWriter(&sb)

	require.NoError(t, w.JSON(envelope.KindAck, envelope.Ack{UserMessageID: 7}))
	require.NoError(t, w.Text("Hello\nthere"))
	require.NoError(t, w.Done())

	decoder := envelope.NewDecoder()
	events := decoder.Feed([]byte(sb.String()))
	require.Len(t, events, 3)
	assert.Equal(t, envelope.KindAck, events[0].Kind)
	assert.Equal(t, "Hello\nthere", envelope.DecodeText(events[1].Payload))
	assert.True(t, events[2].Terminal())
}
