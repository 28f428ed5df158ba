package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/mattn/go-shellwords"
)

const (
	frameAudio byte = 'P'
	frameFlush byte = 'F'

	execStopTimeout = 3 * time.Second
)

type execLoader struct {
	cmd             []string
	cfg             config.EngineConfig
	describeTimeout time.Duration
	logger          *slog.Logger
}

type execModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	SampleRate  int    `json:"sample_rate"`
}

type execResultLine struct {
	Kind   string  `json:"kind"`
	Tokens []Token `json:"tokens"`
}

// NewExecLoader returns a loader that drives an external recognizer process.
func NewExecLoader(cfg config.EngineConfig, logger *slog.Logger) (Loader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	timeout := time.Duration(cfg.DescribeTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &execLoader{
		cmd:             args,
		cfg:             cfg,
		describeTimeout: timeout,
		logger:          logger.With(slog.String("component", "exec-engine")),
	}, nil
}

func (l *execLoader) Load(ctx context.Context, path string) (Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ModelLoadError{Path: path, Err: ErrModelNotFound}
		}
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("not a model file")}
	}

	ctx, cancel := context.WithTimeout(ctx, l.describeTimeout)
	defer cancel()

	command := exec.CommandContext(ctx, l.cmd[0], l.args(path, "--describe")...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("describe failed: %w: %s", err, stderr.String())}
	}

	var meta execModelInfo
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("decode model metadata: %w", err)}
	}
	if meta.SampleRate <= 0 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("model reports sample rate %d", meta.SampleRate)}
	}
	if meta.Language == "" {
		meta.Language = l.cfg.Language
	}
	return &execModel{loader: l, path: path, info: meta}, nil
}

func (l *execLoader) args(path string, mode string) []string {
	args := append([]string{}, l.cmd[1:]...)
	args = append(args, mode, "--model", path)
	if l.cfg.Language != "" {
		args = append(args, "--language", l.cfg.Language)
	}
	return args
}

type execModel struct {
	loader *execLoader
	path   string
	info   execModelInfo
}

func (m *execModel) Name() string        { return m.info.Name }
func (m *execModel) Description() string { return m.info.Description }
func (m *execModel) Language() string    { return m.info.Language }
func (m *execModel) SampleRate() int     { return m.info.SampleRate }
func (m *execModel) Close() error        { return nil }

func (m *execModel) NewSession(handler Handler) (Session, error) {
	if handler == nil {
		return nil, &SessionCreateError{Path: m.path, Err: fmt.Errorf("nil handler")}
	}
	command := exec.Command(m.loader.cmd[0], m.loader.args(m.path, "--stream")...)
	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, &SessionCreateError{Path: m.path, Err: err}
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, &SessionCreateError{Path: m.path, Err: err}
	}
	if err := command.Start(); err != nil {
		return nil, &SessionCreateError{Path: m.path, Err: err}
	}

	depth := m.loader.cfg.QueueFrames
	if depth <= 0 {
		depth = 64
	}
	s := &execSession{
		cmd:     command,
		stdin:   stdin,
		handler: handler,
		queue:   make(chan []byte, depth),
		written: make(chan struct{}),
		read:    make(chan struct{}),
		logger:  m.loader.logger,
	}
	go s.writeLoop()
	go s.readLoop(stdout)
	return s, nil
}

type execSession struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	handler Handler
	queue   chan []byte
	written chan struct{}
	read    chan struct{}
	behind  atomic.Bool
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *execSession) FeedPCM16(samples []int16) {
	s.enqueue(encodeFrame(frameAudio, samples))
}

func (s *execSession) Flush() {
	s.enqueue(encodeFrame(frameFlush, nil))
}

func (s *execSession) enqueue(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- frame:
	default:
		if !s.behind.Swap(true) {
			go s.handler(Result{Kind: ResultOverload})
		}
	}
}

func (s *execSession) writeLoop() {
	defer close(s.written)
	defer s.stdin.Close()
	for frame := range s.queue {
		if _, err := s.stdin.Write(frame); err != nil {
			s.logger.Warn("engine stdin write failed", slogError(err))
			for range s.queue {
			}
			return
		}
		s.behind.Store(false)
	}
}

func (s *execSession) readLoop(stdout io.Reader) {
	defer close(s.read)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		result, err := decodeResultLine(scanner.Bytes())
		if err != nil {
			s.logger.Warn("invalid engine output", slogError(err))
			continue
		}
		s.handler(result)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("engine stdout read failed", slogError(err))
	}
}

func (s *execSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.written
	select {
	case <-s.read:
	case <-time.After(execStopTimeout):
		_ = s.cmd.Process.Kill()
		<-s.read
	}
	if err := s.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("wait for engine: %w", err)
	}
	return nil
}

// encodeFrame produces one stdin frame: kind byte, little-endian uint32
// payload length, little-endian PCM16 payload.
func encodeFrame(kind byte, samples []int16) []byte {
	frame := make([]byte, 5+len(samples)*2)
	frame[0] = kind
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(samples)*2))
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(frame[5+i*2:], uint16(sample))
	}
	return frame
}

func decodeResultLine(line []byte) (Result, error) {
	var msg execResultLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	var kind ResultKind
	switch msg.Kind {
	case "partial":
		kind = ResultPartial
	case "final":
		kind = ResultFinal
	case "silence":
		kind = ResultSilence
	case "overload":
		kind = ResultOverload
	default:
		return Result{}, fmt.Errorf("unknown result kind %q", msg.Kind)
	}
	return Result{Kind: kind, Tokens: msg.Tokens}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
