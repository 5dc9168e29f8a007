package render

import (
	"sync"
	"time"

	"github.com/loomlocal/loom/pkg/blocks"
)

// DefaultPreviewInterval bounds how often an open block re-renders under
// high-frequency fragment arrival
const DefaultPreviewInterval = 100 * time.Millisecond

// ThrottlePreview wraps a preview paint function so repeated updates to
// an open block coalesce: the first update paints immediately, later
// ones are deferred to a trailing repaint carrying the latest content.
// The block is snapshotted on the caller's goroutine before any deferred
// work, so the trailing repaint never reads a still-mutating block.
// Final renders never pass through here; the state machine renders those
// unthrottled at finalization.
func ThrottlePreview(interval time.Duration, paint func(blocks.Snapshot)) func(*blocks.Block) {
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}

	var mu sync.Mutex
	var latest blocks.Snapshot
	var scheduled bool
	var lastPaint time.Time

	return func(b *blocks.Block) {
		snap := b.Snapshot()

		mu.Lock()
		latest = snap
		if scheduled {
			mu.Unlock()
			return
		}
		if since := time.Since(lastPaint); since >= interval {
			lastPaint = time.Now()
			mu.Unlock()
			paint(snap)
			return
		}
		scheduled = true
		wait := interval - time.Since(lastPaint)
		mu.Unlock()

		time.AfterFunc(wait, func() {
			mu.Lock()
			scheduled = false
			lastPaint = time.Now()
			snap := latest
			mu.Unlock()
			paint(snap)
		})
	}
}
