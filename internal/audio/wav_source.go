package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource plays a wav file, downmixed to mono and resampled to the
// requested rate. With realtime set frames are paced at playback speed.
type WAVSource struct {
	path     string
	realtime bool
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWAVSource(path string, realtime bool, logger *slog.Logger) *WAVSource {
	return &WAVSource{path: path, realtime: realtime, logger: logger}
}

func (s *WAVSource) Start(ctx context.Context, cfg Config) (<-chan Frame, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("invalid audio config %+v", cfg)
	}
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid wav file", s.path)
	}
	if err := dec.FwdToPCM(); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek to pcm: %w", err)
	}
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 || format.SampleRate <= 0 {
		file.Close()
		return nil, fmt.Errorf("%s has no usable audio format", s.path)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Frame, frameQueue)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Info("playing wav file",
		slog.String("path", s.path),
		slog.Int("channels", format.NumChannels),
		slog.Int("source_rate", format.SampleRate),
		slog.Int("bit_depth", int(dec.BitDepth)),
		slog.Int("target_rate", cfg.SampleRate),
	)

	go func() {
		defer close(done)
		defer close(out)
		defer file.Close()
		if err := s.play(ctx, dec, format, cfg, out); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("wav playback stopped", slog.String("error", err.Error()))
		}
	}()
	return out, nil
}

func (s *WAVSource) play(ctx context.Context, dec *wav.Decoder, format *goaudio.Format, cfg Config, out chan<- Frame) error {
	rs := newResampler(format.SampleRate, cfg.SampleRate)
	chunk := cfg.FrameSamples * format.NumChannels
	buf := &goaudio.IntBuffer{Data: make([]int, chunk), Format: format}

	var pacer *time.Ticker
	if s.realtime {
		pacer = time.NewTicker(cfg.frameDuration())
		defer pacer.Stop()
	}

	var pending []int16
	emit := func(samples []int16, final bool) error {
		if pacer != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pacer.C:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- Frame{Samples: samples, SampleRate: cfg.SampleRate, Final: final}:
			return nil
		}
	}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		mono := downmix(buf.Data[:n], format.NumChannels)
		pending = append(pending, rs.process(to16(mono, int(dec.BitDepth)))...)
		for len(pending) >= cfg.FrameSamples {
			frame := append([]int16(nil), pending[:cfg.FrameSamples]...)
			pending = pending[cfg.FrameSamples:]
			if err := emit(frame, false); err != nil {
				return err
			}
		}
	}
	return emit(pending, true)
}

func (s *WAVSource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
