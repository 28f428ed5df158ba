package stt

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-captions/internal/config"
)

// NewLoader selects the engine backend named by cfg.Mode.
func NewLoader(cfg config.EngineConfig, logger *slog.Logger) (Loader, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockLoader(), nil
	case "exec":
		return NewExecLoader(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
