// Package flow classifies audio frames as silence or speech and decides
// whether they reach the recognizer.
package flow

import "time"

// DefaultThreshold is the largest sample magnitude still counted as silence.
const DefaultThreshold = 16

// Action tells the caller what to do with a frame.
type Action int

const (
	// ActionFeed forwards the frame to the recognizer.
	ActionFeed Action = iota
	// ActionFlush asks the recognizer to finalize buffered audio. Issued once
	// per silent episode.
	ActionFlush
	// ActionDrop discards the frame.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionFeed:
		return "feed"
	case ActionFlush:
		return "flush"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Controller tracks consecutive silent samples. It is owned by the single
// audio producer and is not safe for concurrent use.
type Controller struct {
	threshold int
	silent    int
	flushed   bool
}

// NewController returns a controller using the given silence threshold.
func NewController(threshold int) *Controller {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Controller{threshold: threshold}
}

// CutoffSamples converts a silence duration to a sample count at rate.
func CutoffSamples(rate int, d time.Duration) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// IsSilent reports whether every sample is within the threshold.
func (c *Controller) IsSilent(samples []int16) bool {
	for _, s := range samples {
		v := int(s)
		if v > c.threshold || v < -c.threshold {
			return false
		}
	}
	return true
}

// Process classifies one frame. cutoff is the number of consecutive silent
// samples after which the recognizer is flushed.
func (c *Controller) Process(samples []int16, cutoff int) Action {
	if !c.IsSilent(samples) {
		c.silent = 0
		c.flushed = false
		return ActionFeed
	}
	c.silent += len(samples)
	if c.silent < cutoff {
		return ActionFeed
	}
	c.silent = cutoff
	if c.flushed {
		return ActionDrop
	}
	c.flushed = true
	return ActionFlush
}

// SilentSamples returns the current consecutive silent sample count.
func (c *Controller) SilentSamples() int {
	return c.silent
}

// Reset starts a fresh episode.
func (c *Controller) Reset() {
	c.silent = 0
	c.flushed = false
}
