package envelope

import (
	"encoding/json"
	"strings"
)

// Kind identifies the event type carried by a frame
type Kind string

const (
	// KindMessage is the default kind for frames without an event line.
	// Plain text deltas are sent this way.
	KindMessage Kind = "message"

	KindMeta Kind = "meta"
	KindAck  Kind = "ack"
	KindText Kind = "text"

	KindThinkingStart Kind = "thinking_start"
	KindThinking      Kind = "thinking"
	KindThinkingEnd   Kind = "thinking_end"

	KindToolStart    Kind = "tool_start"
	KindToolProgress Kind = "tool_progress"
	KindToolEnd      Kind = "tool_end"

	KindVisionStart    Kind = "vision_start"
	KindVisionProgress Kind = "vision_progress"
	KindVisionChunk    Kind = "vision_chunk"
	KindVisionEnd      Kind = "vision_end"

	KindDone  Kind = "done"
	KindError Kind = "error"
)

// Terminator is the sentinel payload that ends a stream
const Terminator = "[DONE]"

// ErrorPrefix marks a payload carrying an upstream failure
const ErrorPrefix = "[error] "

// Envelope is one decoded frame from the multiplexed stream
type Envelope struct {
	Kind    Kind
	Payload string
}

// Terminal reports whether this envelope ends the stream
func (e Envelope) Terminal() bool {
	return e.Kind == KindDone || IsTerminator(e.Payload)
}

// IsTerminator reports whether a payload is the end-of-stream sentinel
func IsTerminator(payload string) bool {
	return strings.TrimSpace(payload) == Terminator
}

// IsErrorPayload reports whether a payload carries the error marker
func IsErrorPayload(payload string) bool {
	return strings.HasPrefix(payload, ErrorPrefix)
}

// IsTextKind reports whether a kind carries plain answer text
func IsTextKind(k Kind) bool {
	return k == KindText || k == KindMessage
}

// Meta carries token usage and the model that produced the turn
type Meta struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	Estimated    bool   `json:"estimated,omitempty"`
}

// Ack confirms the user message was persisted before streaming begins
type Ack struct {
	UserMessageID int64 `json:"user_message_id"`
}

// ToolStart announces a tool-resolution round
type ToolStart struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ToolProgress reports one tool invocation inside a round
type ToolProgress struct {
	Tool    string `json:"tool"`
	Stage   string `json:"stage"` // start | done | error
	Message string `json:"message"`
}

// ToolInvocation is one completed tool call inside a ToolEnd
type ToolInvocation struct {
	Name          string         `json:"name"`
	Args          map[string]any `json:"args"`
	ResultPreview string         `json:"result_preview,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// StatusSkipped on a ToolEnd means the model invoked nothing this round
const StatusSkipped = "skipped"

// ToolEnd closes a tool-resolution round
type ToolEnd struct {
	Status string           `json:"status,omitempty"`
	Tools  []ToolInvocation `json:"tools"`
}

// Skipped reports whether the round invoked no tools
func (t ToolEnd) Skipped() bool {
	return t.Status == StatusSkipped
}

// VisionInfo frames a vision recognition sub-task
type VisionInfo struct {
	Model    string `json:"model"`
	FileType string `json:"file_type"` // pdf | image | document
	Message  string `json:"message,omitempty"`
}

// ThinkingInfo frames a reasoning run; End carries the full thinking text
type ThinkingInfo struct {
	Message  string `json:"message,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// DecodeText unwraps a text payload. Deltas are JSON-string encoded on the
// wire to protect embedded newlines; older producers send a {"text": ...}
// object, and anything that fails to parse is used verbatim.
func DecodeText(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if len(trimmed) == 0 {
		return payload
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return s
		}
	case '{':
		var obj struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj.Text != nil {
			return *obj.Text
		}
	}
	return payload
}

// DecodeToolEnd parses a tool_end payload
func DecodeToolEnd(payload string) (ToolEnd, error) {
	var end ToolEnd
	err := json.Unmarshal([]byte(payload), &end)
	return end, err
}

// DecodeMeta parses a meta payload
func DecodeMeta(payload string) (Meta, error) {
	var meta Meta
	err := json.Unmarshal([]byte(payload), &meta)
	return meta, err
}

// DecodeThinkingInfo parses a thinking_start/thinking_end payload
func DecodeThinkingInfo(payload string) (ThinkingInfo, error) {
	var info ThinkingInfo
	err := json.Unmarshal([]byte(payload), &info)
	return info, err
}
