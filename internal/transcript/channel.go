// Package transcript carries caption updates from background goroutines to
// the single goroutine that owns the rendering surface.
package transcript

import (
	"context"
	"log/slog"
	"sync"
)

// Update is the full rendering of the current utterance. A final update
// seals the text as history.
type Update struct {
	Text  string
	Final bool
}

// Label is a snapshot of the visible caption lines. Text is the plain-text
// form and is only forwarded when Stream is set.
type Label struct {
	Lines  []string
	Text   string
	Stream bool
}

// Warning is a transient notice such as the recognizer falling behind.
type Warning struct {
	Message string
}

// Surface is the rendering target. Its methods are only ever called from
// the channel's consumer goroutine.
type Surface interface {
	ApplyTranscript(Update)
	RenderLabel(Label)
	Warn(Warning)
}

// Message is one of Update, Label or Warning.
type Message interface {
	applyTo(Surface)
}

func (u Update) applyTo(s Surface)  { s.ApplyTranscript(u) }
func (l Label) applyTo(s Surface)   { s.RenderLabel(l) }
func (w Warning) applyTo(s Surface) { s.Warn(w) }

// Channel is an unbounded FIFO with a single consumer. Post never blocks, so
// producers may call it while holding their own locks.
type Channel struct {
	surface Surface
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []Message
	closed bool
	notify chan struct{}
}

func NewChannel(surface Surface, logger *slog.Logger) *Channel {
	return &Channel{
		surface: surface,
		logger:  logger.With(slog.String("component", "transcript-channel")),
		notify:  make(chan struct{}, 1),
	}
}

// Post enqueues msg. It reports false once the channel is closed.
func (c *Channel) Post(msg Message) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued messages.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run applies messages in posting order until ctx is done, then applies
// whatever is still queued and closes the channel.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			applied := c.drain()
			c.logger.Debug("transcript channel stopped", slog.Int("drained", applied))
			return
		case <-c.notify:
			c.drain()
		}
	}
}

func (c *Channel) drain() int {
	total := 0
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return total
		}
		for _, msg := range batch {
			msg.applyTo(c.surface)
		}
		total += len(batch)
	}
}

// Fanout applies every message to each surface in order.
type Fanout []Surface

func (f Fanout) ApplyTranscript(u Update) {
	for _, s := range f {
		s.ApplyTranscript(u)
	}
}

func (f Fanout) RenderLabel(l Label) {
	for _, s := range f {
		s.RenderLabel(l)
	}
}

func (f Fanout) Warn(w Warning) {
	for _, s := range f {
		s.Warn(w)
	}
}
