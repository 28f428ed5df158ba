package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-captions/internal/asr"
	"github.com/loqalabs/loqa-captions/internal/audio"
	"github.com/loqalabs/loqa-captions/internal/bus"
	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/loqalabs/loqa-captions/internal/history"
	"github.com/loqalabs/loqa-captions/internal/natsserver"
	"github.com/loqalabs/loqa-captions/internal/stt"
	"github.com/loqalabs/loqa-captions/internal/transcript"
	"github.com/nats-io/nats.go"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry
	ready         atomic.Bool
	wg            sync.WaitGroup

	embeddedNATS *natsserver.EmbeddedServer
	bus          *bus.Client
	subs         []*nats.Subscription
	store        *history.Store
	recorder     *history.Recorder
	buffer       *transcript.Buffer
	channel      *transcript.Channel
	stopChannel  context.CancelFunc
	settings     *asr.StaticSettings
	core         *asr.Core

	audioMu    sync.Mutex
	source     audio.Source
	stopSource context.CancelFunc
	sourceRate int
	pumpDone   <-chan struct{}
	runCtx     context.Context
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.runCtx = ctx

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.shutdown()

	if handler := tel.metricsHandler(); handler != nil {
		r.startMetricsServer(handler)
	}

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger.With(slog.String("component", "history")))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	r.store = store
	recorder, err := history.NewRecorder(ctx, store, "", r.cfg.History.QueueSize, r.logger)
	if err != nil {
		return fmt.Errorf("start history recorder: %w", err)
	}
	r.recorder = recorder

	r.buffer = transcript.NewBuffer()
	surfaces := transcript.Fanout{r.buffer}
	if r.bus != nil {
		surfaces = append(surfaces, transcript.NewPublisher(r.bus, r.logger))
	}
	r.channel = transcript.NewChannel(surfaces, r.logger)
	channelCtx, stopChannel := context.WithCancel(context.Background())
	r.stopChannel = stopChannel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.channel.Run(channelCtx)
	}()

	loader, err := stt.NewLoader(r.cfg.Engine, r.logger)
	if err != nil {
		return fmt.Errorf("create model loader: %w", err)
	}
	r.settings = asr.NewStaticSettings(r.cfg.Captions.RenderLowercase, r.cfg.Captions.MaxTextWidth)
	r.core = asr.New(r.cfg.Captions, asr.Dependencies{
		Loader:       loader,
		DefaultModel: r.cfg.Engine.DefaultModelPath,
		Settings:     r.settings,
		Poster:       r.channel,
		History:      r.recorder,
	}, r.logger)
	r.core.SetStreamActive(r.cfg.Captions.StreamText)

	modelPath := r.cfg.Engine.ModelPath
	if modelPath == "" {
		modelPath = r.cfg.Engine.DefaultModelPath
	}
	if err := r.core.LoadModel(ctx, modelPath); err != nil {
		if r.core.IsErrored() {
			return fmt.Errorf("load model: %w", err)
		}
		r.logger.Warn("configured model unavailable, using default", slog.String("error", err.Error()), slog.String("active_model", r.core.ActiveModel()))
	}
	r.core.Start(ctx)

	if err := r.syncAudio(); err != nil {
		return err
	}

	if r.bus != nil {
		if err := r.subscribeControl(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/transcript", r.handleTranscript)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("model", r.core.ActiveModel()),
		slog.Int("sample_rate", r.core.SampleRate()),
		slog.String("audio_source", r.cfg.Audio.Source),
		slog.String("history_session", r.recorder.SessionID()),
	)

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.embeddedNATS = embedded

	busCfg := r.cfg.Bus
	if url := embedded.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) startMetricsServer(handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics endpoint listening", slog.String("addr", r.cfg.Telemetry.PrometheusBind))
}

// syncAudio (re)starts the capture source when the model's sample rate
// differs from the rate the source was started with.
func (r *Runtime) syncAudio() error {
	r.audioMu.Lock()
	defer r.audioMu.Unlock()

	rate := r.core.SampleRate()
	if rate == r.sourceRate && r.source != nil {
		return nil
	}
	r.stopAudioLocked()
	if rate == 0 {
		return nil
	}

	source, err := audio.New(r.cfg.Audio, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("create audio source: %w", err)
	}
	ctx, cancel := context.WithCancel(r.runCtx)
	frames, err := source.Start(ctx, audio.NewConfig(rate, r.cfg.Audio.FrameMS))
	if err != nil {
		cancel()
		return fmt.Errorf("start audio source: %w", err)
	}
	r.source = source
	r.stopSource = cancel
	r.sourceRate = rate
	r.pumpDone = r.core.StartPump(ctx, frames)
	return nil
}

func (r *Runtime) stopAudioLocked() {
	if r.source == nil {
		return
	}
	r.stopSource()
	if err := r.source.Stop(); err != nil {
		r.logger.Warn("failed to stop audio source", slog.String("error", err.Error()))
	}
	if r.pumpDone != nil {
		<-r.pumpDone
	}
	r.source = nil
	r.pumpDone = nil
	r.stopSource = nil
	r.sourceRate = 0
}

func (r *Runtime) shutdown() {
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	r.audioMu.Lock()
	r.stopAudioLocked()
	r.audioMu.Unlock()

	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.core != nil {
		r.core.Shutdown()
	}
	if r.stopChannel != nil {
		r.stopChannel()
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.recorder != nil {
		if err := r.recorder.Close(shutdownCtx); err != nil {
			r.logger.Error("history recorder close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("history close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embeddedNATS.Shutdown()

	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
