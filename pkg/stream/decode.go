package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loomlocal/loom/pkg/envelope"
)

// ErrCancelled is returned when the caller abandons the stream
var ErrCancelled = errors.New("stream cancelled")

const readBufferSize = 4096

// Decode consumes a raw byte stream, reassembles framed envelopes across
// arbitrary chunk boundaries, and dispatches them to the handler in
// order. It returns nil when the terminator arrives, ErrCancelled when
// the context is cancelled (no envelope is dispatched after that, even
// if already buffered), and the transport error otherwise. For HTTP
// response bodies the request context also aborts the blocking read.
func Decode(ctx context.Context, r io.Reader, h Handler) error {
	decoder := envelope.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			h.OnError(ErrCancelled)
			return ErrCancelled
		default:
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, env := range decoder.Feed(buf[:n]) {
				if ctx.Err() != nil {
					h.OnError(ErrCancelled)
					return ErrCancelled
				}
				if env.Terminal() {
					return h.OnComplete()
				}
				if err := h.OnEvent(env); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Stream closed without a terminator: treat as a
				// natural end so partial content still finalizes
				return h.OnComplete()
			}
			if ctx.Err() != nil {
				h.OnError(ErrCancelled)
				return ErrCancelled
			}
			err := fmt.Errorf("stream read failed: %w", readErr)
			h.OnError(err)
			return err
		}
	}
}
