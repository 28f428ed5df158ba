package stt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	mockDefaultRate     = 16000
	mockDefaultLanguage = "en"
	mockQueueDepth      = 64
)

type mockLoader struct{}

// NewMockLoader returns a loader for synthetic models addressed as
// "mock", "mock:<lang>" or "mock:<lang>:<rate>".
func NewMockLoader() Loader {
	return mockLoader{}
}

func (mockLoader) Load(_ context.Context, path string) (Model, error) {
	parts := strings.Split(path, ":")
	if parts[0] != "mock" || len(parts) > 3 {
		return nil, &ModelLoadError{Path: path, Err: ErrModelNotFound}
	}
	m := &mockModel{path: path, language: mockDefaultLanguage, rate: mockDefaultRate}
	if len(parts) > 1 && parts[1] != "" {
		m.language = parts[1]
	}
	if len(parts) > 2 {
		rate, err := strconv.Atoi(parts[2])
		if err != nil || rate <= 0 {
			return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("invalid sample rate %q", parts[2])}
		}
		m.rate = rate
	}
	return m, nil
}

type mockModel struct {
	path     string
	language string
	rate     int
}

func (m *mockModel) Name() string        { return "mock-" + m.language }
func (m *mockModel) Description() string { return "synthetic recognizer reporting heard audio" }
func (m *mockModel) Language() string    { return m.language }
func (m *mockModel) SampleRate() int     { return m.rate }
func (m *mockModel) Close() error        { return nil }

func (m *mockModel) NewSession(handler Handler) (Session, error) {
	if handler == nil {
		return nil, &SessionCreateError{Path: m.path, Err: fmt.Errorf("nil handler")}
	}
	s := &mockSession{
		rate:    m.rate,
		handler: handler,
		queue:   make(chan mockRequest, mockQueueDepth),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type mockRequest struct {
	samples []int16
	flush   bool
}

type mockSession struct {
	rate    int
	handler Handler
	queue   chan mockRequest
	done    chan struct{}
	behind  atomic.Bool

	mu     sync.Mutex
	closed bool
}

func (s *mockSession) FeedPCM16(samples []int16) {
	s.enqueue(mockRequest{samples: append([]int16(nil), samples...)})
}

func (s *mockSession) Flush() {
	s.enqueue(mockRequest{flush: true})
}

func (s *mockSession) enqueue(req mockRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- req:
	default:
		s.behind.Store(true)
	}
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *mockSession) run() {
	defer close(s.done)
	heard := 0
	step := s.rate / 2
	for req := range s.queue {
		if req.flush {
			if heard > 0 {
				tokens := append(mockTokens(heard, s.rate), Token{Text: ".", Flags: FlagSentenceEnd})
				s.handler(Result{Kind: ResultFinal, Tokens: tokens})
			}
			heard = 0
			s.handler(Result{Kind: ResultSilence})
		} else {
			before := heard / step
			heard += len(req.samples)
			if heard/step > before {
				s.handler(Result{Kind: ResultPartial, Tokens: mockTokens(heard, s.rate)})
			}
		}
		if s.behind.Swap(false) {
			s.handler(Result{Kind: ResultOverload})
		}
	}
}

func mockTokens(samples, rate int) []Token {
	secs := float64(samples) / float64(rate)
	return []Token{
		{Text: "heard", Flags: FlagWordBoundary},
		{Text: strconv.FormatFloat(secs, 'f', 1, 64), Flags: FlagWordBoundary},
		{Text: "seconds", Flags: FlagWordBoundary},
	}
}
