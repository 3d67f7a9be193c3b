package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
	"github.com/twinscribe/twinscribe/internal/buildinfo"
)

// StubTranscriber produces deterministic transcripts without a model. It
// stands in for real backends in tests and when nothing else is configured.
type StubTranscriber struct {
	log     *slog.Logger
	role    string
	latency time.Duration
}

// NewStubTranscriber returns a Transcriber that generates placeholder
// results after simulating latency of inference.
func NewStubTranscriber(logger *slog.Logger, role string, latency time.Duration) *StubTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubTranscriber{
		log: logger.With(
			"component", "engine.stub",
			"service", buildinfo.Info.Slug,
			"role", role,
		),
		role:    role,
		latency: latency,
	}
}

// Transcribe implements the Transcriber interface.
func (e *StubTranscriber) Transcribe(ctx context.Context, window audio.Window) ([]Result, error) {
	if len(window.Samples) == 0 {
		return nil, nil
	}
	if e.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.latency):
		}
	}
	text := fmt.Sprintf("[stub:%s] window %d (%d samples)", e.role, window.ID, len(window.Samples))
	e.log.Debug("stub transcript", "window_id", window.ID, "samples", len(window.Samples), "tail", window.Tail)
	return []Result{
		{
			Text:       text,
			End:        window.Duration,
			Confidence: 0.42,
		},
	}, nil
}

// Close implements the Transcriber interface.
func (e *StubTranscriber) Close() error {
	return nil
}
