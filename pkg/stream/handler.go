package stream

import "github.com/loomlocal/loom/pkg/envelope"

// Handler consumes decoded envelopes from one response stream
type Handler interface {
	// OnEvent is called once per decoded envelope, in arrival order
	OnEvent(env envelope.Envelope) error

	// OnComplete is called when the stream reaches its terminator
	OnComplete() error

	// OnError is called when the transport fails mid-stream
	OnError(err error)
}

// HandlerFunc is a function adapter for the Handler interface
type HandlerFunc struct {
	EventFunc    func(env envelope.Envelope) error
	CompleteFunc func() error
	ErrorFunc    func(err error)
}

// OnEvent implements Handler
func (h HandlerFunc) OnEvent(env envelope.Envelope) error {
	if h.EventFunc != nil {
		return h.EventFunc(env)
	}
	return nil
}

// OnComplete implements Handler
func (h HandlerFunc) OnComplete() error {
	if h.CompleteFunc != nil {
		return h.CompleteFunc()
	}
	return nil
}

// OnError implements Handler
func (h HandlerFunc) OnError(err error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}

// Ensure HandlerFunc implements Handler
var _ Handler = HandlerFunc{}
