package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	Engine      EngineConfig    `yaml:"engine"`
	Captions    CaptionsConfig  `yaml:"captions"`
	Audio       AudioConfig     `yaml:"audio"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	QueueSize     int    `yaml:"queue_size"`
}

type EngineConfig struct {
	Mode              string `yaml:"mode"` // mock, exec
	Command           string `yaml:"command"`
	ModelPath         string `yaml:"model_path"`
	DefaultModelPath  string `yaml:"default_model_path"`
	Language          string `yaml:"language"`
	QueueFrames       int    `yaml:"queue_frames"`
	DescribeTimeoutMS int    `yaml:"describe_timeout_ms"`
}

type CaptionsConfig struct {
	RenderLowercase    bool `yaml:"render_lowercase"`
	MaxTextWidth       int  `yaml:"max_text_width"`
	LineCount          int  `yaml:"line_count"`
	MaxLineChars       int  `yaml:"max_line_chars"`
	SilenceThreshold   int  `yaml:"silence_threshold"`
	SilenceCutoffMS    int  `yaml:"silence_cutoff_ms"`
	SilenceGraceMS     int  `yaml:"silence_grace_ms"`
	WatchdogIntervalMS int  `yaml:"watchdog_interval_ms"`
	StreamText         bool `yaml:"stream_text"`
}

type AudioConfig struct {
	Source    string `yaml:"source"` // wav, bus, stdin
	Path      string `yaml:"path"`
	FrameMS   int    `yaml:"frame_ms"`
	Realtime  bool   `yaml:"realtime"`
	SessionID string `yaml:"session_id"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-captions",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./data/captions-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
			QueueSize:     256,
		},
		Engine: EngineConfig{
			Mode:              "mock",
			ModelPath:         "mock:en",
			DefaultModelPath:  "mock:en",
			QueueFrames:       64,
			DescribeTimeoutMS: 10000,
		},
		Captions: CaptionsConfig{
			RenderLowercase:    true,
			MaxTextWidth:       80,
			LineCount:          2,
			SilenceThreshold:   16,
			SilenceCutoffMS:    1000,
			SilenceGraceMS:     6000,
			WatchdogIntervalMS: 1000,
		},
		Audio: AudioConfig{
			Source:    "bus",
			FrameMS:   20,
			Realtime:  true,
			SessionID: "default",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "CAPTIONS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "CAPTIONS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CAPTIONS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CAPTIONS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CAPTIONS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CAPTIONS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CAPTIONS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "CAPTIONS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "CAPTIONS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CAPTIONS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CAPTIONS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CAPTIONS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CAPTIONS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CAPTIONS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CAPTIONS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CAPTIONS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CAPTIONS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "CAPTIONS_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "CAPTIONS_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "CAPTIONS_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "CAPTIONS_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "CAPTIONS_HISTORY_VACUUM_ON_START")
	overrideInt(&cfg.History.QueueSize, "CAPTIONS_HISTORY_QUEUE_SIZE")
	overrideString(&cfg.Engine.Mode, "CAPTIONS_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "CAPTIONS_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "CAPTIONS_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.DefaultModelPath, "CAPTIONS_ENGINE_DEFAULT_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "CAPTIONS_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.QueueFrames, "CAPTIONS_ENGINE_QUEUE_FRAMES")
	overrideInt(&cfg.Engine.DescribeTimeoutMS, "CAPTIONS_ENGINE_DESCRIBE_TIMEOUT_MS")
	overrideBool(&cfg.Captions.RenderLowercase, "CAPTIONS_RENDER_LOWERCASE")
	overrideInt(&cfg.Captions.MaxTextWidth, "CAPTIONS_MAX_TEXT_WIDTH")
	overrideInt(&cfg.Captions.LineCount, "CAPTIONS_LINE_COUNT")
	overrideInt(&cfg.Captions.MaxLineChars, "CAPTIONS_MAX_LINE_CHARS")
	overrideInt(&cfg.Captions.SilenceThreshold, "CAPTIONS_SILENCE_THRESHOLD")
	overrideInt(&cfg.Captions.SilenceCutoffMS, "CAPTIONS_SILENCE_CUTOFF_MS")
	overrideInt(&cfg.Captions.SilenceGraceMS, "CAPTIONS_SILENCE_GRACE_MS")
	overrideInt(&cfg.Captions.WatchdogIntervalMS, "CAPTIONS_WATCHDOG_INTERVAL_MS")
	overrideBool(&cfg.Captions.StreamText, "CAPTIONS_STREAM_TEXT")
	overrideString(&cfg.Audio.Source, "CAPTIONS_AUDIO_SOURCE")
	overrideString(&cfg.Audio.Path, "CAPTIONS_AUDIO_PATH")
	overrideInt(&cfg.Audio.FrameMS, "CAPTIONS_AUDIO_FRAME_MS")
	overrideBool(&cfg.Audio.Realtime, "CAPTIONS_AUDIO_REALTIME")
	overrideString(&cfg.Audio.SessionID, "CAPTIONS_AUDIO_SESSION_ID")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.ModelPath == "" && cfg.Engine.DefaultModelPath == "" {
		return errors.New("engine.model_path or engine.default_model_path must be set")
	}
	if cfg.Captions.LineCount < 1 {
		return errors.New("captions.line_count must be >= 1")
	}
	if cfg.Captions.MaxTextWidth < 0 || cfg.Captions.MaxLineChars < 0 {
		return errors.New("captions.max_text_width and captions.max_line_chars must be >= 0")
	}
	if cfg.Captions.SilenceThreshold < 0 || cfg.Captions.SilenceThreshold > 32767 {
		return errors.New("captions.silence_threshold must be between 0 and 32767")
	}
	if cfg.Captions.SilenceCutoffMS <= 0 {
		return errors.New("captions.silence_cutoff_ms must be positive")
	}
	if cfg.Captions.SilenceGraceMS <= 0 || cfg.Captions.WatchdogIntervalMS <= 0 {
		return errors.New("captions.silence_grace_ms and captions.watchdog_interval_ms must be positive")
	}
	switch cfg.Audio.Source {
	case "wav":
		if cfg.Audio.Path == "" {
			return errors.New("audio.path must be set when source=wav")
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("audio.source=bus requires bus.enabled")
		}
	case "stdin":
	default:
		return errors.New("audio.source must be one of wav|bus|stdin")
	}
	if cfg.Audio.FrameMS <= 0 {
		return errors.New("audio.frame_ms must be positive")
	}
	return nil
}
