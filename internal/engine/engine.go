package engine

import (
	"context"
	"errors"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
)

// ErrBackendUnavailable indicates a configured backend could not be
// constructed.
var ErrBackendUnavailable = errors.New("engine: backend unavailable")

// Transcriber converts one analysis window into zero or more text results.
// Calls are synchronous and self-contained: implementations reset any
// decoding state between windows so audio repeated in the overlap region is
// not double-counted. Instances are not reentrant; the pipeline serializes
// calls.
type Transcriber interface {
	Transcribe(ctx context.Context, window audio.Window) ([]Result, error)
	// Close releases underlying resources.
	Close() error
}

// Result is one recognized span of text within a window. Start and End are
// relative to the window start. Whether a result is a preview or a final is
// decided by the pipeline from which engine produced it, not here.
type Result struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

// Gate classifies a window as speech or non-speech before any engine runs.
// A gate error is never fatal; callers treat it as "assume speech".
type Gate interface {
	SpeechLikely(window audio.Window) (bool, error)
}
