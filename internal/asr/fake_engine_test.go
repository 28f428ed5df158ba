package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/loqalabs/loqa-captions/internal/stt"
	"github.com/loqalabs/loqa-captions/internal/transcript"
)

// eventLog records the order in which engine resources are released.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeLoader struct {
	mu     sync.Mutex
	models map[string]*fakeModel
	log    *eventLog
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{models: make(map[string]*fakeModel), log: &eventLog{}}
}

func (l *fakeLoader) add(path, language string) *fakeModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &fakeModel{path: path, language: language, rate: 16000, log: l.log}
	l.models[path] = m
	return m
}

func (l *fakeLoader) Load(_ context.Context, path string) (stt.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.models[path]
	if !ok {
		return nil, &stt.ModelLoadError{Path: path, Err: stt.ErrModelNotFound}
	}
	return m, nil
}

type fakeModel struct {
	path       string
	language   string
	rate       int
	sessionErr error
	echo       string
	log        *eventLog

	mu       sync.Mutex
	sessions []*fakeSession
	closed   int
}

func (m *fakeModel) Name() string        { return m.path }
func (m *fakeModel) Description() string { return "fake" }
func (m *fakeModel) Language() string    { return m.language }
func (m *fakeModel) SampleRate() int     { return m.rate }

func (m *fakeModel) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	m.log.add("close model %s", m.path)
	return nil
}

func (m *fakeModel) NewSession(handler stt.Handler) (stt.Session, error) {
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	s := &fakeSession{model: m, handler: handler, echo: m.echo}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeModel) lastSession(t *testing.T) *fakeSession {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		t.Fatalf("model %s has no session", m.path)
	}
	return m.sessions[len(m.sessions)-1]
}

func (m *fakeModel) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeSession records what it is fed. With echo set, every fed frame
// produces a partial result naming the echo word, delivered synchronously.
type fakeSession struct {
	model   *fakeModel
	handler stt.Handler
	echo    string

	mu      sync.Mutex
	fed     int
	flushes int
	closed  bool
}

func (s *fakeSession) FeedPCM16(samples []int16) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.fed += len(samples)
	s.mu.Unlock()
	if s.echo != "" {
		s.handler(stt.Result{Kind: stt.ResultPartial, Tokens: words(s.echo)})
	}
}

func (s *fakeSession) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.flushes++
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.model.log.add("close session %s", s.model.path)
	return nil
}

func (s *fakeSession) emit(kind stt.ResultKind, tokens ...stt.Token) {
	s.handler(stt.Result{Kind: kind, Tokens: tokens})
}

func (s *fakeSession) counts() (fed, flushes int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed, s.flushes, s.closed
}

// words builds word tokens; a trailing "." becomes a sentence end.
func words(ws ...string) []stt.Token {
	tokens := make([]stt.Token, 0, len(ws))
	for _, w := range ws {
		if w == "." || w == "?" || w == "!" {
			tokens = append(tokens, stt.Token{Text: w, Flags: stt.FlagSentenceEnd})
			continue
		}
		tokens = append(tokens, stt.Token{Text: w, Flags: stt.FlagWordBoundary})
	}
	return tokens
}

// recordingPoster applies messages to a buffer synchronously and keeps
// them for inspection.
type recordingPoster struct {
	mu       sync.Mutex
	buf      *transcript.Buffer
	updates  []transcript.Update
	labels   []transcript.Label
	warnings []transcript.Warning
}

func newRecordingPoster() *recordingPoster {
	return &recordingPoster{buf: transcript.NewBuffer()}
}

func (p *recordingPoster) Post(msg transcript.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch m := msg.(type) {
	case transcript.Update:
		p.updates = append(p.updates, m)
		p.buf.ApplyTranscript(m)
	case transcript.Label:
		p.labels = append(p.labels, m)
		p.buf.RenderLabel(m)
	case transcript.Warning:
		p.warnings = append(p.warnings, m)
		p.buf.Warn(m)
	}
	return true
}

func (p *recordingPoster) snapshot() ([]transcript.Update, []transcript.Label, []transcript.Warning) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transcript.Update(nil), p.updates...),
		append([]transcript.Label(nil), p.labels...),
		append([]transcript.Warning(nil), p.warnings...)
}

type recordingHistory struct {
	mu       sync.Mutex
	commits  [][]stt.Token
	silences int
}

func (h *recordingHistory) CommitTokens(tokens []stt.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits = append(h.commits, tokens)
}

func (h *recordingHistory) CommitSilenceMarker() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.silences++
}

func testCaptionsConfig() config.CaptionsConfig {
	return config.CaptionsConfig{
		RenderLowercase:    true,
		MaxTextWidth:       0,
		LineCount:          3,
		SilenceThreshold:   16,
		SilenceCutoffMS:    1000,
		SilenceGraceMS:     6000,
		WatchdogIntervalMS: 1000,
	}
}

type testHarness struct {
	core    *Core
	loader  *fakeLoader
	poster  *recordingPoster
	history *recordingHistory
}

func newHarness(t *testing.T, defaultModel string) *testHarness {
	t.Helper()
	h := &testHarness{
		loader:  newFakeLoader(),
		poster:  newRecordingPoster(),
		history: &recordingHistory{},
	}
	h.core = New(testCaptionsConfig(), Dependencies{
		Loader:       h.loader,
		DefaultModel: defaultModel,
		Poster:       h.poster,
		History:      h.history,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(h.core.Shutdown)
	return h
}

func (h *testHarness) load(t *testing.T, path string) {
	t.Helper()
	if err := h.core.LoadModel(context.Background(), path); err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
}

func speech(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = 1000
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBoom = errors.New("boom")
