package render_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomlocal/loom/pkg/blocks"
	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLRendersMarkdown(t *testing.T) {
	r := render.NewHTML()

	out := r.Render("# Title\n\nsome **bold** text")
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<strong>bold</strong>")
}

func TestHTMLSanitizesScripts(t *testing.T) {
	r := render.NewHTML()

	out := r.Render(`hello <script>alert("x")</script> world`)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "hello")

	out = r.Render(`<img src=x onerror="alert(1)">`)
	assert.NotContains(t, out, "onerror")
}

func TestHTMLPreservesCodeFences(t *testing.T) {
	r := render.NewHTML()

	out := r.Render("```go\nfunc main() {}\n```")
	assert.Contains(t, out, "<code")
	assert.Contains(t, out, "func main()")
}

func TestHTMLIsIdempotentPerContent(t *testing.T) {
	r := render.NewHTML()
	first := r.Render("*same* input")
	second := r.Render("*same* input")
	assert.Equal(t, first, second)
}

func TestThrottlePreviewCoalesces(t *testing.T) {
	var paints atomic.Int32
	var mu sync.Mutex
	var lastContent string

	preview := render.ThrottlePreview(50*time.Millisecond, func(snap blocks.Snapshot) {
		paints.Add(1)
		mu.Lock()
		lastContent = snap.Content
		mu.Unlock()
	})

	session := blocks.NewSession(blocks.Raw, blocks.Hooks{OnUpdate: preview})
	for i := 0; i < 20; i++ {
		session.Apply(envelope.Envelope{Kind: envelope.KindMessage, Payload: "x"})
	}

	// First update paints immediately, the burst coalesces into one
	// trailing repaint
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastContent == "xxxxxxxxxxxxxxxxxxxx"
	}, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, paints.Load(), int32(3))
}

func TestThrottlePreviewSnapshotsUnderConcurrentAppends(t *testing.T) {
	var mu sync.Mutex
	var painted []string

	preview := render.ThrottlePreview(time.Millisecond, func(snap blocks.Snapshot) {
		mu.Lock()
		painted = append(painted, snap.Content)
		mu.Unlock()
	})

	session := blocks.NewSession(blocks.Raw, blocks.Hooks{OnUpdate: preview})

	const fragments = 500
	want := ""
	for i := 0; i < fragments; i++ {
		session.Apply(envelope.Envelope{Kind: envelope.KindMessage, Payload: "ab"})
		want += "ab"
	}

	// The trailing repaint carries the full accumulated content
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(painted) > 0 && painted[len(painted)-1] == want
	}, time.Second, 5*time.Millisecond)

	// Every paint observed a consistent prefix, never a torn read
	mu.Lock()
	defer mu.Unlock()
	for _, content := range painted {
		assert.Equal(t, want[:len(content)], content)
	}
}
