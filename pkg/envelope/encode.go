package envelope

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Encode builds one wire frame. Multi-line payloads become one data: line
// per payload line so embedded newlines survive framing. The default
// message kind omits the event line, matching what browsers expect from
// an SSE stream with no named event.
func Encode(kind Kind, payload string) string {
	var b strings.Builder
	if kind != KindMessage {
		b.WriteString("event: ")
		b.WriteString(string(kind))
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// EncodeJSON serializes a structured payload into a single-line frame.
// JSON escaping turns raw newlines into \n, so the payload always fits
// one data: line.
func EncodeJSON(kind Kind, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return Encode(kind, string(data)), nil
}

// EncodeTextDelta wraps a text fragment as a JSON string on the default
// kind, protecting embedded newlines
func EncodeTextDelta(delta string) string {
	data, _ := json.Marshal(delta)
	return Encode(KindMessage, string(data))
}

// Writer emits frames onto a streaming transport, flushing after each
// frame when the underlying writer supports it
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps a transport writer
func NewWriter(w io.Writer) *Writer {
	fw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

func (w *Writer) write(frame string) error {
	if _, err := io.WriteString(w.w, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Event emits a raw payload under the given kind
func (w *Writer) Event(kind Kind, payload string) error {
	return w.write(Encode(kind, payload))
}

// JSON emits a structured payload under the given kind
func (w *Writer) JSON(kind Kind, v any) error {
	frame, err := EncodeJSON(kind, v)
	if err != nil {
		return err
	}
	return w.write(frame)
}

// Text emits one answer-text fragment
func (w *Writer) Text(delta string) error {
	return w.write(EncodeTextDelta(delta))
}

// Error emits an error-marked payload. The partial content already sent
// stays visible on the client.
func (w *Writer) Error(err error) error {
	return w.write(Encode(KindMessage, ErrorPrefix+err.Error()))
}

// Done emits the end-of-stream sentinel
func (w *Writer) Done() error {
	return w.write(Encode(KindMessage, Terminator))
}
