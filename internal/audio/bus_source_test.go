package audio

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-captions/internal/bus"
	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/loqalabs/loqa-captions/internal/natsserver"
	"github.com/loqalabs/loqa-captions/internal/protocol"
)

func startTestBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, newTestLogger())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func publishFrame(t *testing.T, client *bus.Client, subject string, frame protocol.AudioFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := client.Conn().Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestBusSourceReceivesSessionFrames(t *testing.T) {
	client := startTestBus(t)
	src := NewBusSource(client, "kitchen", newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames, err := src.Start(ctx, Config{SampleRate: 16000, FrameSamples: 320})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	publishFrame(t, client, protocol.SubjectAudioFramePrefix+".other", protocol.AudioFrame{SessionID: "other", SampleRate: 16000, Channels: 1, PCM: []byte{9, 0}})
	publishFrame(t, client, protocol.SubjectAudioFramePrefix+".kitchen", protocol.AudioFrame{
		SessionID:  "kitchen",
		SampleRate: 16000,
		Channels:   2,
		PCM:        []byte{10, 0, 30, 0, 0xff, 0xff, 0x01, 0x00},
		Final:      true,
	})

	select {
	case f := <-frames:
		if len(f.Samples) != 2 || f.Samples[0] != 20 || f.Samples[1] != 0 {
			t.Fatalf("unexpected samples %v", f.Samples)
		}
		if !f.Final || f.SampleRate != 16000 {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := <-frames; ok {
		t.Fatalf("expected channel closed after stop")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestNewSelectsSource(t *testing.T) {
	logger := newTestLogger()
	if _, err := New(config.AudioConfig{Source: "bus"}, nil, logger); err == nil {
		t.Fatalf("expected error for bus source without client")
	}
	if _, err := New(config.AudioConfig{Source: "alsa"}, nil, logger); err == nil {
		t.Fatalf("expected error for unknown source")
	}
	src, err := New(config.AudioConfig{Source: "wav", Path: "x.wav"}, nil, logger)
	if err != nil {
		t.Fatalf("wav source: %v", err)
	}
	if _, ok := src.(*WAVSource); !ok {
		t.Fatalf("expected *WAVSource, got %T", src)
	}
	if src, _ := New(config.AudioConfig{Source: "stdin"}, nil, logger); src == nil {
		t.Fatalf("expected stdin source")
	}
}
