package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Recorder tracks pipeline-level telemetry exposed through the status
// endpoint and the daemon's shutdown summary.
type Recorder struct {
	log *slog.Logger

	totalSessions     atomic.Uint64
	activeSessions    atomic.Int64
	completedSessions atomic.Uint64
	failedSessions    atomic.Uint64
	totalChunks       atomic.Uint64
	totalBytes        atomic.Uint64
	totalWindows      atomic.Uint64
	gatedWindows      atomic.Uint64
	totalSegments     atomic.Uint64
	partialSegments   atomic.Uint64
	finalSegments     atomic.Uint64
	engineErrors      atomic.Uint64
	drainsEmitted     atomic.Uint64
	drainsDiscarded   atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalSessions     uint64 `json:"total_sessions"`
	ActiveSessions    int64  `json:"active_sessions"`
	CompletedSessions uint64 `json:"completed_sessions"`
	FailedSessions    uint64 `json:"failed_sessions"`
	TotalChunks       uint64 `json:"total_chunks"`
	TotalBytes        uint64 `json:"total_bytes"`
	TotalWindows      uint64 `json:"total_windows"`
	GatedWindows      uint64 `json:"gated_windows"`
	TotalSegments     uint64 `json:"total_segments"`
	PartialSegments   uint64 `json:"partial_segments"`
	FinalSegments     uint64 `json:"final_segments"`
	EngineErrors      uint64 `json:"engine_errors"`
	DrainsEmitted     uint64 `json:"drains_emitted"`
	DrainsDiscarded   uint64 `json:"drains_discarded"`
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalSessions:     r.totalSessions.Load(),
		ActiveSessions:    r.activeSessions.Load(),
		CompletedSessions: r.completedSessions.Load(),
		FailedSessions:    r.failedSessions.Load(),
		TotalChunks:       r.totalChunks.Load(),
		TotalBytes:        r.totalBytes.Load(),
		TotalWindows:      r.totalWindows.Load(),
		GatedWindows:      r.gatedWindows.Load(),
		TotalSegments:     r.totalSegments.Load(),
		PartialSegments:   r.partialSegments.Load(),
		FinalSegments:     r.finalSegments.Load(),
		EngineErrors:      r.engineErrors.Load(),
		DrainsEmitted:     r.drainsEmitted.Load(),
		DrainsDiscarded:   r.drainsDiscarded.Load(),
	}
}

// SessionMetrics accumulates statistics for a single transcription session.
type SessionMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	sessionID string

	started      time.Time
	chunks       int
	bytes        int
	windows      int
	gated        int
	partials     int
	finals       int
	engineErrors int
	closed       atomic.Bool
}

// StartSession initialises a SessionMetrics instance bound to the recorder.
func (r *Recorder) StartSession(sessionID string) *SessionMetrics {
	if r == nil {
		return nil
	}

	r.totalSessions.Add(1)
	r.activeSessions.Add(1)

	return &SessionMetrics{
		recorder:  r,
		log:       r.log.With("session_id", sessionID),
		sessionID: sessionID,
		started:   time.Now(),
	}
}

// RecordChunk updates counters for one chunk read from the capture source.
func (s *SessionMetrics) RecordChunk(size int) {
	if s == nil || size <= 0 {
		return
	}
	s.chunks++
	s.bytes += size
	s.recorder.totalChunks.Add(1)
	s.recorder.totalBytes.Add(uint64(size))
}

// RecordWindow counts a window entering the pipeline.
func (s *SessionMetrics) RecordWindow(windowID uint64, duration time.Duration) {
	if s == nil {
		return
	}
	s.windows++
	s.recorder.totalWindows.Add(1)
	s.log.Debug("window entering pipeline", "window_id", windowID, "duration_ms", duration.Milliseconds())
}

// RecordGated counts a window the gate classified as non-speech.
func (s *SessionMetrics) RecordGated(windowID uint64) {
	if s == nil {
		return
	}
	s.gated++
	s.recorder.gatedWindows.Add(1)
	s.log.Debug("window gated", "window_id", windowID)
}

// RecordSegment counts an emitted segment.
func (s *SessionMetrics) RecordSegment(final bool) {
	if s == nil {
		return
	}
	if final {
		s.finals++
		s.recorder.finalSegments.Add(1)
	} else {
		s.partials++
		s.recorder.partialSegments.Add(1)
	}
	s.recorder.totalSegments.Add(1)
}

// RecordEngineError counts a skipped window stage.
func (s *SessionMetrics) RecordEngineError(stage string) {
	if s == nil {
		return
	}
	s.engineErrors++
	s.recorder.engineErrors.Add(1)
	s.log.Debug("engine error recorded", "stage", stage)
}

// RecordInference stores how long one engine invocation took.
func (s *SessionMetrics) RecordInference(stage string, duration time.Duration) {
	if s == nil {
		return
	}
	s.log.Debug("inference finished", "stage", stage, "duration_ms", duration.Milliseconds())
}

// RecordDrain counts the stop-time drain outcome.
func (s *SessionMetrics) RecordDrain(emitted bool) {
	if s == nil {
		return
	}
	if emitted {
		s.recorder.drainsEmitted.Add(1)
	} else {
		s.recorder.drainsDiscarded.Add(1)
	}
}

// Finish logs a summary and updates the session counters exactly once.
func (s *SessionMetrics) Finish(err error) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	defer s.recorder.activeSessions.Add(-1)

	duration := time.Since(s.started)
	args := []any{
		"duration_ms", duration.Milliseconds(),
		"chunks", s.chunks,
		"bytes", s.bytes,
		"windows", s.windows,
		"gated", s.gated,
		"partials", s.partials,
		"finals", s.finals,
		"engine_errors", s.engineErrors,
	}

	if err != nil {
		s.recorder.failedSessions.Add(1)
		s.log.Error("session completed with error", append(args, "error", err)...)
		return
	}

	s.recorder.completedSessions.Add(1)
	s.log.Info("session completed", args...)
}
