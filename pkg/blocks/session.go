package blocks

import (
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loomlocal/loom/pkg/envelope"
)

func unmarshal(payload string, v any) error {
	return json.Unmarshal([]byte(payload), v)
}

// ErrCancelled marks a session stopped by the client
var ErrCancelled = errors.New("stream cancelled")

// Hooks are the rendering adapter's attachment points. OnUpdate fires for
// every fragment appended to the open block and is where a preview
// renderer throttles; OnFinal fires exactly once per finalized block.
type Hooks struct {
	OnOpen   func(*Block)
	OnUpdate func(*Block)
	OnFinal  func(*Block)
	OnMeta   func(envelope.Meta)
}

// Session is the per-turn reconstruction state machine. It consumes
// decoded envelopes in arrival order and maintains the message's block
// list, keeping at most one block open: opening a block of a different
// kind finalizes the previous one first. A session belongs to a single
// consumer goroutine; only the cancellation flag may be touched from
// outside.
type Session struct {
	ID string

	renderer  Renderer
	hooks     Hooks
	msg       *Message
	open      *Block
	cancelled atomic.Bool
}

// NewSession creates a session for one in-flight assistant turn
func NewSession(renderer Renderer, hooks Hooks) *Session {
	if renderer == nil {
		renderer = Raw
	}
	return &Session{
		ID:       uuid.NewString(),
		renderer: renderer,
		hooks:    hooks,
		msg:      NewAssistantMessage(),
	}
}

// Message returns the message under reconstruction
func (s *Session) Message() *Message {
	return s.msg
}

// OpenBlock returns the currently open block, nil when none
func (s *Session) OpenBlock() *Block {
	return s.open
}

// Cancelled reports whether the client abandoned the stream
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Apply processes one decoded envelope. It never fails: malformed
// structured payloads degrade to raw fragments, and events arriving
// after cancellation or completion are dropped.
func (s *Session) Apply(env envelope.Envelope) {
	if s.cancelled.Load() || s.msg.complete {
		return
	}

	if env.Terminal() {
		s.Finish()
		return
	}
	if env.Kind == envelope.KindError || envelope.IsErrorPayload(env.Payload) {
		s.Fail(errors.New(strings.TrimPrefix(env.Payload, envelope.ErrorPrefix)))
		return
	}

	switch env.Kind {
	case envelope.KindMeta:
		if meta, err := envelope.DecodeMeta(env.Payload); err == nil {
			s.msg.Usage = &meta
			if meta.Model != "" {
				s.msg.Model = meta.Model
			}
			if s.hooks.OnMeta != nil {
				s.hooks.OnMeta(meta)
			}
		}

	case envelope.KindAck:
		var ack envelope.Ack
		if err := unmarshal(env.Payload, &ack); err == nil {
			s.msg.UserMessageID = ack.UserMessageID
		}

	case envelope.KindText, envelope.KindMessage:
		s.appendFragment(KindText, envelope.DecodeText(env.Payload))

	case envelope.KindThinkingStart:
		s.openNew(KindThinking)

	case envelope.KindThinking:
		s.appendFragment(KindThinking, env.Payload)

	case envelope.KindThinkingEnd:
		block := s.ensureOpen(KindThinking)
		if info, err := envelope.DecodeThinkingInfo(env.Payload); err == nil {
			// The closing envelope may carry the authoritative full
			// thinking text; prefer it when nothing streamed.
			if info.Thinking != "" && block.Content() == "" {
				block.SetContent(info.Thinking)
			}
		}
		s.finalizeOpen()

	case envelope.KindToolStart:
		block := s.openNew(KindTool)
		var start envelope.ToolStart
		if err := unmarshal(env.Payload, &start); err == nil {
			block.ToolStatus = start.Status
			if start.Message != "" {
				block.Append(start.Message + "\n")
			}
		}

	case envelope.KindToolProgress:
		block := s.ensureOpen(KindTool)
		var progress envelope.ToolProgress
		if err := unmarshal(env.Payload, &progress); err == nil {
			block.Progress = append(block.Progress, progress)
			if progress.Message != "" {
				block.Append(progress.Message + "\n")
			}
		} else {
			block.Append(env.Payload + "\n")
		}
		s.notifyUpdate(block)

	case envelope.KindToolEnd:
		// An orphan tool_end synthesizes its block via ensureOpen
		block := s.ensureOpen(KindTool)
		end, err := envelope.DecodeToolEnd(env.Payload)
		if err == nil && end.Skipped() {
			// The model invoked nothing: the block must not render
			s.discardOpen()
			return
		}
		if err == nil {
			block.Invocations = end.Tools
		}
		s.finalizeOpen()

	case envelope.KindVisionStart:
		block := s.openNew(KindVision)
		var info envelope.VisionInfo
		if err := unmarshal(env.Payload, &info); err == nil {
			block.Vision = info
		}

	case envelope.KindVisionProgress:
		block := s.ensureOpen(KindVision)
		block.Append(env.Payload + "\n")
		s.notifyUpdate(block)

	case envelope.KindVisionChunk:
		s.appendFragment(KindVision, envelope.DecodeText(env.Payload))

	case envelope.KindVisionEnd:
		s.ensureOpen(KindVision)
		s.finalizeOpen()

	default:
		// Unknown kinds are dropped, resilience over strictness
	}
}

// Finish finalizes any still-open block and seals the message. Safe
// against a missing matching *_end before the terminator.
func (s *Session) Finish() {
	if s.msg.complete {
		return
	}
	s.finalizeOpen()
	s.msg.complete = true
}

// Fail finalizes the open block with whatever it accumulated, appends a
// visible error notice, and seals the message
func (s *Session) Fail(err error) {
	if s.msg.complete {
		return
	}
	s.finalizeOpen()

	notice := newBlock(KindText)
	notice.Append(envelope.ErrorPrefix + err.Error())
	s.msg.Blocks = append(s.msg.Blocks, notice)
	notice.finalize(s.renderer)
	if s.hooks.OnFinal != nil {
		s.hooks.OnFinal(notice)
	}

	s.msg.err = err
	s.msg.complete = true
}

// Cancel flags the session as abandoned. No envelope is processed after
// this, even if already buffered; the open block keeps its partial
// content so the caller can persist it.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// SealCancelled finalizes the partial state after cancellation so the
// accumulated content renders cleanly and the message becomes immutable
func (s *Session) SealCancelled() {
	if !s.cancelled.Load() || s.msg.complete {
		return
	}
	s.finalizeOpen()
	s.msg.err = ErrCancelled
	s.msg.complete = true
}

// openNew finalizes whatever is open, then opens a fresh block. Explicit
// starts always create a distinct block, even back-to-back same-kind
// starts: blocks are never silently merged across a start boundary.
func (s *Session) openNew(kind Kind) *Block {
	s.finalizeOpen()
	block := newBlock(kind)
	s.open = block
	s.msg.Blocks = append(s.msg.Blocks, block)
	if s.hooks.OnOpen != nil {
		s.hooks.OnOpen(block)
	}
	return block
}

// ensureOpen returns the open block of the wanted kind, implicitly
// opening one when none is open or a different kind is. This models
// plain text arriving with no explicit start envelope.
func (s *Session) ensureOpen(kind Kind) *Block {
	if s.open != nil && s.open.Kind == kind {
		return s.open
	}
	return s.openNew(kind)
}

func (s *Session) appendFragment(kind Kind, fragment string) {
	block := s.ensureOpen(kind)
	block.Append(fragment)
	s.notifyUpdate(block)
}

func (s *Session) finalizeOpen() {
	if s.open == nil {
		return
	}
	block := s.open
	s.open = nil
	block.finalize(s.renderer)
	if s.hooks.OnFinal != nil {
		s.hooks.OnFinal(block)
	}
}

func (s *Session) discardOpen() {
	if s.open == nil {
		return
	}
	block := s.open
	s.open = nil
	s.msg.removeBlock(block)
}

func (s *Session) notifyUpdate(block *Block) {
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(block)
	}
}
