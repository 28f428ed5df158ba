package asr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-captions/internal/flow"
	"github.com/loqalabs/loqa-captions/internal/stt"
	"github.com/loqalabs/loqa-captions/internal/transcript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoadModel replaces the active model and session. Audio is not forwarded
// while the swap is in progress and results from the old session are
// dropped. When path cannot be loaded the default model is tried once; the
// returned error still reports the failure of path. If the default also
// fails the core is errored and stays without a session until a later
// load succeeds.
func (c *Core) LoadModel(ctx context.Context, path string) error {
	ctx, span := c.tracer.Start(ctx, "asr.load_model", trace.WithAttributes(attribute.String("model.path", path)))
	defer span.End()

	c.swapMu.Lock()
	defer c.swapMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	c.release()

	err := c.install(ctx, path)
	if err == nil {
		c.metrics.load("ok")
		return nil
	}
	c.logger.Warn("failed to load model", slog.String("path", path), slog.String("error", err.Error()))
	span.RecordError(err)

	if c.fallback != "" && c.fallback != path {
		fallbackErr := c.install(ctx, c.fallback)
		if fallbackErr == nil {
			c.metrics.load("fallback")
			span.SetAttributes(attribute.String("model.fallback", c.fallback))
			c.logger.Info("loaded default model instead", slog.String("path", c.fallback))
			return err
		}
		c.logger.Error("failed to load default model", slog.String("path", c.fallback), slog.String("error", fallbackErr.Error()))
		err = errors.Join(err, fallbackErr)
	}

	c.mu.Lock()
	c.state = &erroredState{reason: err}
	c.mu.Unlock()
	c.metrics.load("error")
	span.SetStatus(codes.Error, err.Error())
	return err
}

// release detaches the current session under the text-state lock and then
// closes it, session before model, outside the lock so an engine waiting on
// an in-flight callback cannot deadlock against us.
func (c *Core) release() {
	c.live.Store(nil)

	c.mu.Lock()
	c.generation++
	prev, ok := c.state.(*activeSession)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.sealLocked()
	c.lines.Break()
	c.lines.Invalidate()
	c.caps.Reset()
	c.silenceAt = time.Time{}
	c.state = uninitialized{}
	label := c.labelLocked()
	c.mu.Unlock()

	c.post(label)
	if err := prev.session.Close(); err != nil {
		c.logger.Warn("failed to close session", slog.String("path", prev.path), slog.String("error", err.Error()))
	}
	if err := prev.model.Close(); err != nil {
		c.logger.Warn("failed to close model", slog.String("path", prev.path), slog.String("error", err.Error()))
	}
	c.logger.Info("released model", slog.String("path", prev.path))
}

// sealLocked finalizes an utterance that never received a FINAL so that it
// is kept as history rather than mixed with the next session's text.
func (c *Core) sealLocked() {
	if c.utterance == "" {
		return
	}
	c.post(transcript.Update{Text: c.utterance, Final: true})
	c.lines.Finalize()
	if c.history != nil && len(c.pending) > 0 {
		c.history.CommitTokens(c.pending)
	}
	c.sealedTail = c.utterance
	c.utterance = ""
	c.pending = nil
}

func (c *Core) install(ctx context.Context, path string) error {
	if c.loader == nil {
		return &stt.ModelLoadError{Path: path, Err: errors.New("no model loader configured")}
	}
	model, err := c.loader.Load(ctx, path)
	if err != nil {
		var loadErr *stt.ModelLoadError
		if !errors.As(err, &loadErr) {
			err = &stt.ModelLoadError{Path: path, Err: err}
		}
		return err
	}
	rate := model.SampleRate()
	if rate <= 0 {
		_ = model.Close()
		return &stt.ModelLoadError{Path: path, Err: errors.New("model reports no sample rate")}
	}

	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	session, err := model.NewSession(func(r stt.Result) {
		c.handleResult(generation, r)
	})
	if err != nil {
		_ = model.Close()
		var createErr *stt.SessionCreateError
		if !errors.As(err, &createErr) {
			err = &stt.SessionCreateError{Path: path, Err: err}
		}
		return err
	}

	c.mu.Lock()
	c.state = &activeSession{
		path:       path,
		model:      model,
		session:    session,
		generation: generation,
		sampleRate: rate,
	}
	c.caps.SetLanguage(model.Language())
	c.lines.SetLanguage(model.Language())
	c.mu.Unlock()

	cutoff := flow.CutoffSamples(rate, time.Duration(c.cfg.SilenceCutoffMS)*time.Millisecond)
	c.live.Store(&liveSession{session: session, generation: generation, sampleRate: rate, cutoff: cutoff})

	c.logger.Info("model loaded",
		slog.String("path", path),
		slog.String("name", model.Name()),
		slog.String("language", model.Language()),
		slog.Int("sample_rate", rate),
	)
	return nil
}
