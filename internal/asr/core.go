// Package asr turns recognizer output into captions. Core owns the active
// recognition session, dispatches its results through capitalization and
// line generation under one text-state lock, and decides when silence ends
// an utterance.
package asr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-captions/internal/capitalize"
	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/loqalabs/loqa-captions/internal/flow"
	"github.com/loqalabs/loqa-captions/internal/linegen"
	"github.com/loqalabs/loqa-captions/internal/stt"
	"github.com/loqalabs/loqa-captions/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned by operations attempted after Shutdown.
var ErrClosed = errors.New("asr core is shut down")

// Poster delivers messages to the goroutine that owns the rendering
// surface. Post must not block.
type Poster interface {
	Post(transcript.Message) bool
}

// HistorySink receives committed utterances and silence markers.
type HistorySink interface {
	CommitTokens(tokens []stt.Token)
	CommitSilenceMarker()
}

// Dependencies are the collaborators a Core is wired to. Poster and History
// may be nil.
type Dependencies struct {
	Loader       stt.Loader
	DefaultModel string
	Settings     Settings
	Poster       Poster
	History      HistorySink
}

// sessionState is one of uninitialized, *activeSession or *erroredState.
type sessionState interface {
	sessionState()
}

type uninitialized struct{}

type activeSession struct {
	path       string
	model      stt.Model
	session    stt.Session
	generation uint64
	sampleRate int
}

type erroredState struct {
	reason error
}

func (uninitialized) sessionState()  {}
func (*activeSession) sessionState() {}
func (*erroredState) sessionState()  {}

// liveSession is what the audio path sees of the active session.
type liveSession struct {
	session    stt.Session
	generation uint64
	sampleRate int
	cutoff     int
}

// Core is the captioning engine.
type Core struct {
	cfg      config.CaptionsConfig
	loader   stt.Loader
	fallback string
	settings Settings
	poster   Poster
	history  HistorySink
	logger   *slog.Logger
	clock    func() time.Time
	metrics  *coreMetrics
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// swapMu serializes model loads; it is never taken by callbacks.
	swapMu sync.Mutex

	// mu is the text-state lock.
	mu         sync.Mutex
	state      sessionState
	generation uint64
	caps       *capitalize.Capitalizer
	lines      *linegen.Generator
	silenceAt  time.Time
	utterance  string
	pending    []stt.Token
	sealedTail string

	live         atomic.Pointer[liveSession]
	paused       atomic.Bool
	streamActive atomic.Bool
	closed       atomic.Bool

	// pumpMu guards pumpDone, the exit signal of the most recent pump.
	pumpMu   sync.Mutex
	pumpDone chan struct{}

	// audio goroutine only
	flow    *flow.Controller
	flowGen uint64

	shutdownOnce sync.Once
}

// New returns a core with no model loaded.
func New(cfg config.CaptionsConfig, deps Dependencies, logger *slog.Logger) *Core {
	ctx, cancel := context.WithCancel(context.Background())
	settings := deps.Settings
	if settings == nil {
		settings = NewStaticSettings(cfg.RenderLowercase, cfg.MaxTextWidth)
	}
	c := &Core{
		cfg:      cfg,
		loader:   deps.Loader,
		fallback: deps.DefaultModel,
		settings: settings,
		poster:   deps.Poster,
		history:  deps.History,
		logger:   logger.With(slog.String("component", "asr-core")),
		clock:    time.Now,
		tracer:   otel.Tracer("github.com/loqalabs/loqa-captions/asr"),
		ctx:      ctx,
		cancel:   cancel,
		state:    uninitialized{},
		caps:     capitalize.New(""),
		lines:    linegen.New(cfg.LineCount, cfg.MaxLineChars),
		flow:     flow.NewController(cfg.SilenceThreshold),
	}
	metrics, err := newCoreMetrics(otel.Meter("github.com/loqalabs/loqa-captions/asr"))
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	c.metrics = metrics
	return c
}

// Start runs the silence watchdog until ctx is done or Shutdown is called.
func (c *Core) Start(ctx context.Context) {
	interval := time.Duration(c.cfg.WatchdogIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runWatchdog(ctx, interval)
	}()
}

// Pause stops audio and result processing without releasing the session.
func (c *Core) Pause(paused bool) {
	c.paused.Store(paused)
	c.logger.Info("processing paused state changed", slog.Bool("paused", paused))
}

// Paused reports whether processing is paused.
func (c *Core) Paused() bool {
	return c.paused.Load()
}

// SetStreamActive controls whether caption labels carry plain text for the
// external text stream.
func (c *Core) SetStreamActive(active bool) {
	c.streamActive.Store(active)
}

// SampleRate returns the active model's input rate, or 0 without a session.
func (c *Core) SampleRate() int {
	if ls := c.live.Load(); ls != nil {
		return ls.sampleRate
	}
	return 0
}

// IsErrored reports whether the last load left the core without a model.
func (c *Core) IsErrored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.state.(*erroredState)
	return ok
}

// Err returns the reason the core is errored, if it is.
func (c *Core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.state.(*erroredState); ok {
		return st.reason
	}
	return nil
}

// ActiveModel returns the path of the installed model, or "".
func (c *Core) ActiveModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.state.(*activeSession); ok {
		return st.path
	}
	return ""
}

// Lines returns the visible caption lines.
func (c *Core) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines.Lines()
}

// Healthy reports whether a session is active.
func (c *Core) Healthy() bool {
	return !c.closed.Load() && c.live.Load() != nil
}

// Shutdown stops the watchdog and audio pumps, waits for them to exit and
// then releases the session and model.
func (c *Core) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.wg.Wait()

		c.swapMu.Lock()
		c.release()
		c.swapMu.Unlock()
		c.logger.Info("asr core stopped")
	})
}

// labelLocked snapshots the visible lines. Callers hold mu.
func (c *Core) labelLocked() transcript.Label {
	lines := c.lines.Lines()
	label := transcript.Label{Lines: lines}
	if c.streamActive.Load() {
		label.Stream = true
		label.Text = strings.Join(lines, "\n")
	}
	return label
}

func (c *Core) post(msg transcript.Message) {
	if c.poster != nil {
		c.poster.Post(msg)
	}
}
