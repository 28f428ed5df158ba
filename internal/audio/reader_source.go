package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ReaderSource reads raw little-endian 16-bit mono PCM, already at the
// requested rate, from a reader (stdin by default).
type ReaderSource struct {
	r      io.Reader
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewReaderSource(r io.Reader, logger *slog.Logger) *ReaderSource {
	if r == nil {
		r = os.Stdin
	}
	return &ReaderSource{r: r, logger: logger}
}

func (s *ReaderSource) Start(ctx context.Context, cfg Config) (<-chan Frame, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("invalid audio config %+v", cfg)
	}
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Frame, frameQueue)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		reader := bufio.NewReader(s.r)
		buf := make([]byte, cfg.FrameSamples*2)
		for {
			n, err := io.ReadFull(reader, buf)
			final := err != nil
			if n > 0 || final {
				frame := Frame{Samples: decodePCM16(buf[:n]), SampleRate: cfg.SampleRate, Final: final}
				select {
				case <-ctx.Done():
					return
				case out <- frame:
				}
			}
			if final {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					s.logger.Warn("audio input failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()
	return out, nil
}

// Stop cancels delivery. A read blocked on the underlying reader is left
// to finish on its own.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
