package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// maxCoalescedPaths forces an early flush once this many distinct paths are
// pending, so a large rename/move (git checkout of a different branch, a
// bulk rm -rf) can't grow the pending map without bound while its debounce
// window keeps resetting.
const maxCoalescedPaths = 4096

// transition is a (first-seen-operation, newly-observed-operation) pair the
// coalescer collapses to a single resulting operation, or drops entirely
// when the two events cancel out (create then delete of the same path
// within one window never touches the index).
type transition struct {
	first, next Operation
}

// collapseRules encodes FileEvent coalescing as a lookup table rather than
// nested switches: a path's first-seen operation combined with each
// subsequent operation observed in the same debounce window resolves to one
// of these outcomes. Pairs absent from the table keep the newest event
// unchanged (MODIFY+MODIFY, RENAME+anything, GITIGNORE/CONFIG changes).
var collapseRules = map[transition]Operation{
	{OpCreate, OpModify}: OpCreate,
	{OpDelete, OpCreate}: OpModify,
}

// droppedTransitions are pairs that cancel out entirely: a path created and
// deleted inside one debounce window never existed as far as the index is
// concerned.
var droppedTransitions = map[transition]bool{
	{OpCreate, OpDelete}: true,
}

// Coalescer merges bursts of FileEvents for the same path into one event
// per debounce window, so a save-triggered sequence of CREATE+MODIFY+MODIFY
// from an editor or a git checkout doesn't trigger a reindex per event.
type Coalescer struct {
	window  time.Duration
	pending map[string]pendingEvent
	mu      sync.Mutex
	out     chan []FileEvent
	timer   *time.Timer
	closed  bool
}

type pendingEvent struct {
	event     FileEvent
	firstSeen Operation
}

// NewCoalescer returns a Coalescer that batches events within window before
// emitting them on Output.
func NewCoalescer(window time.Duration) *Coalescer {
	return &Coalescer{
		window:  window,
		pending: make(map[string]pendingEvent),
		out:     make(chan []FileEvent, 10),
	}
}

// Add records event, coalescing it with any pending event already queued
// for the same path, and (re)schedules the batch flush.
func (c *Coalescer) Add(event FileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if existing, ok := c.pending[event.Path]; ok {
		c.mergeInto(event.Path, existing, event)
	} else {
		c.pending[event.Path] = pendingEvent{event: event, firstSeen: event.Operation}
	}

	if len(c.pending) >= maxCoalescedPaths {
		c.flushLocked()
		return
	}
	c.rearm()
}

func (c *Coalescer) mergeInto(path string, existing pendingEvent, next FileEvent) {
	key := transition{existing.firstSeen, next.Operation}
	if droppedTransitions[key] {
		delete(c.pending, path)
		return
	}
	resolved := next
	if op, ok := collapseRules[key]; ok {
		resolved.Operation = op
	}
	c.pending[path] = pendingEvent{event: resolved, firstSeen: existing.firstSeen}
}

func (c *Coalescer) rearm() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.flush)
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *Coalescer) flushLocked() {
	if c.closed || len(c.pending) == 0 {
		return
	}
	batch := make([]FileEvent, 0, len(c.pending))
	for _, pe := range c.pending {
		batch = append(batch, pe.event)
	}
	c.pending = make(map[string]pendingEvent)

	select {
	case c.out <- batch:
	default:
		slog.Warn("coalescer output channel full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of coalesced event batches.
func (c *Coalescer) Output() <-chan []FileEvent { return c.out }

// Stop flushes no further batches and closes Output. Safe to call more
// than once.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.out)
}
