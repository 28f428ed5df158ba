package asr

import (
	"context"

	"github.com/loqalabs/loqa-captions/internal/audio"
	"github.com/loqalabs/loqa-captions/internal/flow"
)

// PushAudio forwards one frame at the active model's sample rate. It never
// blocks on the recognizer and never fails: frames are dropped while paused,
// during a model swap or without a session. Only one goroutine may push.
func (c *Core) PushAudio(samples []int16) {
	if len(samples) == 0 || c.paused.Load() || c.closed.Load() {
		return
	}
	ls := c.live.Load()
	if ls == nil {
		c.metrics.drop("no_session")
		return
	}
	if ls.generation != c.flowGen {
		c.flow.Reset()
		c.flowGen = ls.generation
	}

	switch c.flow.Process(samples, ls.cutoff) {
	case flow.ActionFeed:
		ls.session.FeedPCM16(samples)
	case flow.ActionFlush:
		ls.session.Flush()
		c.metrics.flush()
	case flow.ActionDrop:
		c.metrics.drop("silence")
	}
}

// Flush asks the recognizer to finalize whatever it has buffered. It is a
// no-op while paused, like every other audio entry point.
func (c *Core) Flush() {
	if c.paused.Load() {
		return
	}
	if ls := c.live.Load(); ls != nil {
		ls.session.Flush()
		c.metrics.flush()
	}
}

// StartPump feeds frames to PushAudio on a new goroutine until ctx is done,
// frames is closed or Shutdown is called. Frames recorded at a rate other
// than the active model's are dropped and a final frame flushes the
// recognizer. Pumps never overlap: a new pump reads no frame before the
// previous one has exited. The returned channel is closed when this pump
// exits.
func (c *Core) StartPump(ctx context.Context, frames <-chan audio.Frame) <-chan struct{} {
	done := make(chan struct{})
	c.pumpMu.Lock()
	prev := c.pumpDone
	c.pumpDone = done
	c.pumpMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		c.pump(ctx, frames)
	}()
	return done
}

func (c *Core) pump(ctx context.Context, frames <-chan audio.Frame) {
	for {
		if ctx.Err() != nil || c.ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.SampleRate != 0 && frame.SampleRate != c.SampleRate() {
				c.metrics.drop("sample_rate")
				continue
			}
			c.PushAudio(frame.Samples)
			if frame.Final {
				c.Flush()
			}
		}
	}
}
