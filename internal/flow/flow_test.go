package flow

import (
	"testing"
	"time"
)

func frame(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestIsSilent(t *testing.T) {
	c := NewController(DefaultThreshold)
	tests := []struct {
		name    string
		samples []int16
		want    bool
	}{
		{"zeros", frame(10, 0), true},
		{"at threshold", []int16{16, -16, 3}, true},
		{"positive spike", []int16{0, 17, 0}, false},
		{"negative spike", []int16{0, -17}, false},
		{"extreme", []int16{-32768}, false},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		if got := c.IsSilent(tt.samples); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOneFlushPerSilentEpisode(t *testing.T) {
	c := NewController(DefaultThreshold)
	cutoff := CutoffSamples(16000, time.Second)
	if cutoff != 16000 {
		t.Fatalf("unexpected cutoff %d", cutoff)
	}

	flushes := 0
	for episode := 0; episode < 3; episode++ {
		if got := c.Process(frame(160, 1000), cutoff); got != ActionFeed {
			t.Fatalf("speech frame: got %v", got)
		}
		for i := 0; i < 300; i++ {
			switch c.Process(frame(160, 3), cutoff) {
			case ActionFlush:
				flushes++
			case ActionFeed:
				if c.SilentSamples() >= cutoff {
					t.Fatal("frame fed after cutoff")
				}
			}
		}
	}
	if flushes != 3 {
		t.Fatalf("expected one flush per episode, got %d", flushes)
	}
}

func TestSilenceBelowCutoffIsFed(t *testing.T) {
	c := NewController(DefaultThreshold)
	for i := 0; i < 9; i++ {
		if got := c.Process(frame(100, 0), 1000); got != ActionFeed {
			t.Fatalf("frame %d: got %v", i, got)
		}
	}
	if got := c.Process(frame(100, 0), 1000); got != ActionFlush {
		t.Fatalf("expected flush at cutoff, got %v", got)
	}
	if got := c.Process(frame(100, 0), 1000); got != ActionDrop {
		t.Fatalf("expected drop after flush, got %v", got)
	}
	if c.SilentSamples() != 1000 {
		t.Fatalf("count should be capped at cutoff, got %d", c.SilentSamples())
	}
}

func TestSpeechResetsCount(t *testing.T) {
	c := NewController(DefaultThreshold)
	c.Process(frame(900, 0), 1000)
	c.Process([]int16{0, 200}, 1000)
	if c.SilentSamples() != 0 {
		t.Fatalf("expected reset, got %d", c.SilentSamples())
	}
	c.Process(frame(900, 0), 1000)
	c.Reset()
	if c.SilentSamples() != 0 {
		t.Fatal("reset should clear the count")
	}
}
