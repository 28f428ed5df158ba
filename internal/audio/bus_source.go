package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-captions/internal/bus"
	"github.com/loqalabs/loqa-captions/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource receives protocol.AudioFrame messages published by capture
// clients on audio.frame.<session>.
type BusSource struct {
	bus       *bus.Client
	sessionID string
	logger    *slog.Logger

	mu        sync.Mutex
	sub       *nats.Subscription
	out       chan Frame
	cfg       Config
	resampler map[int]*resampler
	closed    bool
	dropped   int
}

// NewBusSource listens to one session, or to every session when sessionID
// is empty.
func NewBusSource(busClient *bus.Client, sessionID string, logger *slog.Logger) *BusSource {
	return &BusSource{bus: busClient, sessionID: sessionID, logger: logger}
}

func (s *BusSource) subject() string {
	if s.sessionID != "" {
		return protocol.SubjectAudioFramePrefix + "." + s.sessionID
	}
	return protocol.SubjectAudioFramePrefix + ".>"
}

func (s *BusSource) Start(ctx context.Context, cfg Config) (<-chan Frame, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid audio config %+v", cfg)
	}
	s.mu.Lock()
	s.out = make(chan Frame, frameQueue)
	s.cfg = cfg
	s.resampler = make(map[int]*resampler)
	s.closed = false
	out := s.out
	s.mu.Unlock()

	sub, err := s.bus.Conn().Subscribe(s.subject(), s.handleFrame)
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("listening for audio frames", slog.String("subject", s.subject()), slog.Int("target_rate", cfg.SampleRate))

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return out, nil
}

func (s *BusSource) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	samples := decodePCM16(frame.PCM)
	if frame.Channels > 1 {
		wide := make([]int, len(samples))
		for i, v := range samples {
			wide[i] = int(v)
		}
		samples = to16(downmix(wide, frame.Channels), 16)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.out == nil {
		return
	}
	if frame.SampleRate > 0 && frame.SampleRate != s.cfg.SampleRate {
		rs, ok := s.resampler[frame.SampleRate]
		if !ok {
			rs = newResampler(frame.SampleRate, s.cfg.SampleRate)
			s.resampler[frame.SampleRate] = rs
		}
		samples = rs.process(samples)
	}
	select {
	case s.out <- Frame{Samples: samples, SampleRate: s.cfg.SampleRate, Final: frame.Final}:
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			s.logger.Warn("audio queue full, dropping frames", slog.Int("dropped", s.dropped))
		}
	}
}

func (s *BusSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.out == nil {
		return nil
	}
	s.closed = true
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
		s.sub = nil
	}
	close(s.out)
	return err
}
