// Package pipeline runs the per-window hybrid transcription sequence:
// gate, fast engine, accurate engine. Segments are pushed onto the output
// channel the moment they exist, so a consumer on the other end can forward
// the preview while the accurate call is still in flight.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
	"github.com/twinscribe/twinscribe/internal/engine"
	"github.com/twinscribe/twinscribe/internal/telemetry"
	"github.com/twinscribe/twinscribe/internal/transcript"
)

// Pipeline orchestrates one window at a time. It never runs two windows
// concurrently: the accurate engine is a single shared, non-reentrant
// resource, so the caller invokes ProcessWindow strictly sequentially and
// that serialization is what makes the engine safe without locking.
type Pipeline struct {
	log      *slog.Logger
	gate     engine.Gate
	fast     engine.Transcriber
	accurate engine.Transcriber
	out      chan<- transcript.Segment
	metrics  *telemetry.SessionMetrics
}

// New wires the engines to the output channel. Gate and Fast may be nil;
// Accurate must not be. The pipeline only sends on out and never closes it;
// channel closure is the session's completion signal and stays with the
// session.
func New(logger *slog.Logger, engines engine.Engines, out chan<- transcript.Segment, metrics *telemetry.SessionMetrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if engines.Accurate == nil {
		panic("pipeline: accurate engine must not be nil")
	}
	if out == nil {
		panic("pipeline: output channel must not be nil")
	}
	return &Pipeline{
		log:      logger.With("component", "pipeline"),
		gate:     engines.Gate,
		fast:     engines.Fast,
		accurate: engines.Accurate,
		out:      out,
		metrics:  metrics,
	}
}

// ProcessWindow runs the full sequence for one window. Engine failures are
// logged and skipped: the audio has already moved past, so a retry would
// transcribe the wrong moment. The only error ProcessWindow returns is ctx
// cancellation, which means the session is aborting.
//
// The fast result is pushed before the accurate call starts, so the
// consumer sees the preview while the accurate engine is still working.
func (p *Pipeline) ProcessWindow(ctx context.Context, window audio.Window) error {
	p.metrics.RecordWindow(window.ID, window.Duration)

	if !p.speechLikely(window) {
		p.metrics.RecordGated(window.ID)
		p.log.Debug("window gated as non-speech", "window_id", window.ID)
		return nil
	}

	// A tail window skips the preview: the session is draining and the
	// final follows immediately.
	if p.fast != nil && !window.Tail {
		start := time.Now()
		results, err := p.fast.Transcribe(ctx, window)
		p.metrics.RecordInference("fast", time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.RecordEngineError("fast")
			p.log.Warn("fast engine failed, preview skipped", "window_id", window.ID, "error", err)
		} else if err := p.push(ctx, window, results, false); err != nil {
			return err
		}
	}

	start := time.Now()
	results, err := p.accurate.Transcribe(ctx, window)
	p.metrics.RecordInference("accurate", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.metrics.RecordEngineError("accurate")
		p.log.Warn("accurate engine failed, final skipped", "window_id", window.ID, "error", err)
		return nil
	}
	return p.push(ctx, window, results, true)
}

// speechLikely consults the gate. No gate, or a failing gate, means the
// window is assumed to carry speech.
func (p *Pipeline) speechLikely(window audio.Window) bool {
	if p.gate == nil {
		return true
	}
	speech, err := p.gate.SpeechLikely(window)
	if err != nil {
		p.log.Warn("gate unavailable, assuming speech", "window_id", window.ID, "error", err)
		return true
	}
	return speech
}

// push sends one segment per non-empty result, in engine order, anchoring
// the result's window-relative timestamps to the stream position.
func (p *Pipeline) push(ctx context.Context, window audio.Window, results []engine.Result, final bool) error {
	for _, res := range results {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		seg := transcript.Segment{
			Text:       text,
			Final:      final,
			WindowID:   window.ID,
			Start:      window.Offset + res.Start,
			End:        window.Offset + res.End,
			Confidence: res.Confidence,
		}
		select {
		case p.out <- seg:
			p.metrics.RecordSegment(final)
			p.log.Debug("segment pushed",
				"window_id", window.ID,
				"final", final,
				"chars", len(text),
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
