package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
	"github.com/twinscribe/twinscribe/internal/config"
)

// Engines bundles the pluggable pieces one pipeline needs. Fast and Gate
// may be nil: previews and gating are optional, the accurate engine is not.
type Engines struct {
	Gate     Gate
	Fast     Transcriber
	Accurate Transcriber
}

// Close releases both transcribers.
func (e Engines) Close() error {
	var errs []error
	if e.Fast != nil {
		if err := e.Fast.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.Accurate != nil {
		if err := e.Accurate.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New resolves the configured backends. Accurate backend failure aborts
// startup; a failing fast backend degrades to finals-only sessions with a
// warning, matching the policy that a lost preview is never fatal.
func New(cfg config.Config, logger *slog.Logger) (Engines, error) {
	if logger == nil {
		logger = slog.Default()
	}
	format := cfg.Format()

	engines := Engines{}
	if cfg.Gate.On() {
		engines.Gate = NewEnergyGate(cfg.Gate.Threshold)
	}

	accurate, err := newTranscriber(cfg.AccurateEngine, format, logger, "accurate")
	if err != nil {
		return Engines{}, fmt.Errorf("engine: accurate backend: %w", err)
	}
	if accurate == nil {
		return Engines{}, fmt.Errorf("engine: accurate backend cannot be %q", cfg.AccurateEngine.Backend)
	}
	engines.Accurate = accurate

	fast, err := newTranscriber(cfg.FastEngine, format, logger, "fast")
	if err != nil {
		logger.Warn("fast backend unavailable; previews disabled", "backend", cfg.FastEngine.Backend, "error", err)
		fast = nil
	}
	engines.Fast = fast

	return engines, nil
}

func newTranscriber(cfg config.EngineConfig, format audio.Format, logger *slog.Logger, role string) (Transcriber, error) {
	switch cfg.Backend {
	case "", "stub":
		return NewStubTranscriber(logger, role, time.Duration(cfg.LatencyMS)*time.Millisecond), nil
	case "none":
		return nil, nil
	case "exec":
		return NewExecTranscriber(logger, format, cfg.Command, cfg.Args)
	case "openai":
		return NewAPITranscriber(logger, format, APIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
		})
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, cfg.Backend)
	}
}
