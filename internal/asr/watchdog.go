package asr

import (
	"context"
	"log/slog"
	"time"
)

func (c *Core) runWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.checkSilence(c.clock())
		}
	}
}

// checkSilence clears all but one caption line once silence has lasted the
// grace period. It reports whether it did.
func (c *Core) checkSilence(now time.Time) bool {
	grace := time.Duration(c.cfg.SilenceGraceMS) * time.Millisecond

	c.mu.Lock()
	if c.silenceAt.IsZero() || now.Sub(c.silenceAt) < grace {
		c.mu.Unlock()
		return false
	}
	c.silenceAt = time.Time{}
	for i := 0; i < c.cfg.LineCount-1; i++ {
		c.lines.Break()
	}
	label := c.labelLocked()
	c.mu.Unlock()

	c.metrics.watchdogBreak()
	c.logger.Debug("cleared caption lines after silence", slog.Duration("grace", grace))
	c.post(label)
	return true
}
