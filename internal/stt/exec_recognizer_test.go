package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-captions/internal/config"
)

const fakeEngineScript = `#!/bin/sh
for arg in "$@"; do
  if [ "$arg" = "--describe" ]; then
    echo '{"name":"fake","description":"test engine","language":"en","sample_rate":8000}'
    exit 0
  fi
done
echo '{"kind":"partial","tokens":[{"text":"hello","flags":1}]}'
cat > /dev/null
echo '{"kind":"final","tokens":[{"text":"hello","flags":1}]}'
`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFakeEngine(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "engine.sh")
	if err := os.WriteFile(script, []byte(fakeEngineScript), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	model := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(model, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return script, model
}

func TestExecLoaderMissingModel(t *testing.T) {
	loader, err := NewExecLoader(config.EngineConfig{Command: "/bin/true"}, newTestLogger())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	_, err = loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope.bin"))
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound in chain, got %v", err)
	}
}

func TestExecLoaderRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecLoader(config.EngineConfig{Command: "  "}, newTestLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecLoaderDescribeAndStream(t *testing.T) {
	script, modelPath := writeFakeEngine(t)
	loader, err := NewExecLoader(config.EngineConfig{Command: "/bin/sh " + script}, newTestLogger())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	model, err := loader.Load(context.Background(), modelPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if model.SampleRate() != 8000 || model.Language() != "en" || model.Name() != "fake" {
		t.Fatalf("unexpected metadata: %s %s %d", model.Name(), model.Language(), model.SampleRate())
	}

	c := newCollector()
	session, err := model.NewSession(c.handle)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	partial := c.waitFor(t, ResultPartial)
	if partial.Tokens[0].Text != "hello" || !partial.Tokens[0].Flags.Has(FlagWordBoundary) {
		t.Fatalf("unexpected tokens: %+v", partial.Tokens)
	}
	session.FeedPCM16([]int16{1, 2, 3})
	session.Flush()
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	c.waitFor(t, ResultFinal)
}

func TestEncodeFrame(t *testing.T) {
	frame := encodeFrame(frameAudio, []int16{1, -1})
	if frame[0] != frameAudio {
		t.Fatalf("unexpected kind %q", frame[0])
	}
	if n := binary.LittleEndian.Uint32(frame[1:5]); n != 4 {
		t.Fatalf("unexpected length %d", n)
	}
	if got := int16(binary.LittleEndian.Uint16(frame[7:9])); got != -1 {
		t.Fatalf("unexpected sample %d", got)
	}
	if flush := encodeFrame(frameFlush, nil); len(flush) != 5 {
		t.Fatalf("flush frame should be header only, got %d bytes", len(flush))
	}
}

func TestDecodeResultLine(t *testing.T) {
	if _, err := decodeResultLine([]byte(`{"kind":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	result, err := decodeResultLine([]byte(`{"kind":"silence"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Kind != ResultSilence {
		t.Fatalf("unexpected kind %v", result.Kind)
	}
}
