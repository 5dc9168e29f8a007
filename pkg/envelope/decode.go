package envelope

import "strings"

// Decoder reassembles frames from a chunked byte stream. Chunks carry no
// alignment guarantee with frame boundaries, so the decoder keeps a
// persistent buffer and only extracts frames terminated by a blank line,
// leaving any trailing partial frame for the next Feed.
type Decoder struct {
	buf strings.Builder
	// pendingCR holds a chunk-final \r until the next chunk shows
	// whether it starts a \r\n pair
	pendingCR bool
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns every complete envelope it unlocked,
// in wire order. Malformed frames are dropped.
func (d *Decoder) Feed(chunk []byte) []Envelope {
	text := string(chunk)
	if d.pendingCR {
		text = "\r" + text
		d.pendingCR = false
	}
	if strings.HasSuffix(text, "\r") {
		text = text[:len(text)-1]
		d.pendingCR = true
	}
	d.buf.WriteString(strings.ReplaceAll(text, "\r\n", "\n"))

	buffered := d.buf.String()
	var events []Envelope
	for {
		idx := strings.Index(buffered, "\n\n")
		if idx < 0 {
			break
		}
		frame := buffered[:idx]
		buffered = buffered[idx+2:]
		if env, ok := parseFrame(frame); ok {
			events = append(events, env)
		}
	}
	d.buf.Reset()
	d.buf.WriteString(buffered)
	return events
}

// Rest returns whatever partial frame remains buffered
func (d *Decoder) Rest() string {
	return d.buf.String()
}

// parseFrame decodes one blank-line-delimited frame. The event kind comes
// from the event: line (default message); all data: lines are rejoined
// with \n to restore the original payload. A frame with no data lines is
// malformed and dropped.
func parseFrame(frame string) (Envelope, bool) {
	kind := KindMessage
	var data []string
	seenData := false

	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			if name != "" {
				kind = Kind(name)
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			seenData = true
		case strings.HasPrefix(line, ":"):
			// comment line, ignored
		default:
			// unknown field, ignored
		}
	}

	if !seenData {
		return Envelope{}, false
	}
	return Envelope{Kind: kind, Payload: strings.Join(data, "\n")}, true
}
