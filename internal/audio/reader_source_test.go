package audio

import (
	"bytes"
	"context"
	"testing"
)

func TestReaderSourceFramesStream(t *testing.T) {
	data := make([]byte, 0, 10)
	for _, v := range []int16{1, 2, 3, 4, -5} {
		data = append(data, byte(v), byte(uint16(v)>>8))
	}
	src := NewReaderSource(bytes.NewReader(data), newTestLogger())
	frames, err := src.Start(context.Background(), Config{SampleRate: 16000, FrameSamples: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got := collect(t, frames)
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Samples[1] != 2 || got[1].Samples[0] != 3 {
		t.Fatalf("unexpected samples %v", got)
	}
	last := got[2]
	if !last.Final || len(last.Samples) != 1 || last.Samples[0] != -5 {
		t.Fatalf("unexpected last frame %+v", last)
	}
	_ = src.Stop()
}

func TestReaderSourceRejectsBadConfig(t *testing.T) {
	src := NewReaderSource(bytes.NewReader(nil), newTestLogger())
	if _, err := src.Start(context.Background(), Config{}); err == nil {
		t.Fatalf("expected config error")
	}
}
