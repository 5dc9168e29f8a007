package blocks

import (
	"strings"

	"github.com/loomlocal/loom/pkg/envelope"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is the persisted unit: an ordered list of blocks in arrival
// order plus token usage once a meta envelope reports it. A message is
// mutated only by its session's state machine and becomes immutable when
// the stream completes, errors, or is cancelled-and-saved.
type Message struct {
	Role   string
	Blocks []*Block
	Usage  *envelope.Meta
	Model  string
	Files  []string

	UserMessageID int64

	complete bool
	err      error
}

// NewAssistantMessage creates the empty message a response stream fills in
func NewAssistantMessage() *Message {
	return &Message{Role: RoleAssistant}
}

// Complete reports whether the message has been sealed
func (m *Message) Complete() bool {
	return m.complete
}

// Err returns the terminal error, if the stream ended with one
func (m *Message) Err() error {
	return m.err
}

// Text concatenates the content of every text block, the visible answer
func (m *Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Kind == KindText {
			sb.WriteString(b.Content())
		}
	}
	return sb.String()
}

// Thinking concatenates the content of every thinking block
func (m *Message) Thinking() string {
	var parts []string
	for _, b := range m.Blocks {
		if b.Kind == KindThinking && b.Content() != "" {
			parts = append(parts, b.Content())
		}
	}
	return strings.Join(parts, "\n\n")
}

// BlocksOf returns the message's blocks of one kind, in arrival order
func (m *Message) BlocksOf(kind Kind) []*Block {
	var out []*Block
	for _, b := range m.Blocks {
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	return out
}

func (m *Message) removeBlock(target *Block) {
	for i, b := range m.Blocks {
		if b == target {
			m.Blocks = append(m.Blocks[:i], m.Blocks[i+1:]...)
			return
		}
	}
}
