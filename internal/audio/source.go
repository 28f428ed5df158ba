// Package audio provides capture backends that deliver 16-bit mono PCM
// frames at the recognizer's sample rate.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-captions/internal/bus"
	"github.com/loqalabs/loqa-captions/internal/config"
)

// Frame is a block of mono samples. Final marks the end of a capture
// stream; the recognizer should be flushed after it.
type Frame struct {
	Samples    []int16
	SampleRate int
	Final      bool
}

// Config tells a source what to produce.
type Config struct {
	SampleRate   int
	FrameSamples int
}

// NewConfig derives a Config from the model rate and a frame duration.
func NewConfig(sampleRate, frameMS int) Config {
	samples := int(int64(sampleRate) * int64(frameMS) / 1000)
	if samples <= 0 {
		samples = sampleRate / 50
	}
	return Config{SampleRate: sampleRate, FrameSamples: samples}
}

func (c Config) frameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

// Source is a capture backend. The returned channel is closed when the
// source ends or is stopped.
type Source interface {
	Start(ctx context.Context, cfg Config) (<-chan Frame, error)
	Stop() error
}

const frameQueue = 64

// New selects the backend named by cfg.Source.
func New(cfg config.AudioConfig, busClient *bus.Client, logger *slog.Logger) (Source, error) {
	logger = logger.With(slog.String("component", "audio-"+cfg.Source))
	switch cfg.Source {
	case "wav":
		return NewWAVSource(cfg.Path, cfg.Realtime, logger), nil
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("audio source %q requires the bus", cfg.Source)
		}
		return NewBusSource(busClient, cfg.SessionID, logger), nil
	case "stdin":
		return NewReaderSource(nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
	}
}
