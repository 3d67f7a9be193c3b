// Package session wires capture, persistence, windowing, the hybrid
// pipeline, and the segment renderer into one recording lifecycle.
//
// Each session runs two long-lived goroutines beyond the capture router:
// the pipeline worker, which may block for seconds per window inside the
// accurate engine, and the renderer, whose only suspension point is the
// segment channel. Keeping them apart is what lets a preview reach the
// consumer while the accurate call for the same window is still running.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/twinscribe/twinscribe/internal/audio"
	"github.com/twinscribe/twinscribe/internal/config"
	"github.com/twinscribe/twinscribe/internal/engine"
	"github.com/twinscribe/twinscribe/internal/ingest"
	"github.com/twinscribe/twinscribe/internal/pipeline"
	"github.com/twinscribe/twinscribe/internal/sink"
	"github.com/twinscribe/twinscribe/internal/telemetry"
	"github.com/twinscribe/twinscribe/internal/transcript"
)

var (
	// ErrAlreadyStarted is returned by Start on anything but an idle session.
	ErrAlreadyStarted = errors.New("session: already started")
	// ErrNotStarted is returned by Wait when Start was never called.
	ErrNotStarted = errors.New("session: not started")
)

// segmentBacklog sizes the output channel. Segments are small and arrive at
// window cadence, so the backlog only needs to cover a consumer that stalls
// for a moment; ordering, not backpressure, is the concern on this channel.
const segmentBacklog = 256

// Consumer receives the session's externally visible events: every segment
// the moment the renderer forwards it, then exactly one completion carrying
// the final transcript snapshot. OnComplete is suppressed when the session
// aborts; the fatal error surfaces through Wait instead.
type Consumer interface {
	OnSegment(seg transcript.Segment)
	OnComplete(final []transcript.Segment)
}

// Deps bundles the collaborators one session coordinates. Source must
// unblock a pending Read when closed (io.Pipe, net.Conn, and os.File all
// behave that way); Stop relies on it to end a blocked capture read.
type Deps struct {
	// ID labels the session in logs and events; one is generated when empty.
	ID       string
	Source   io.ReadCloser
	Sink     sink.Recorder
	Engines  engine.Engines
	Consumer Consumer
	// Metrics may be nil; the session then runs unrecorded.
	Metrics *telemetry.Recorder
}

// Result reports the session outcome. Valid once Wait has returned.
type Result struct {
	SessionID string               `json:"session_id"`
	Segments  []transcript.Segment `json:"segments"`
	Recording sink.Recording       `json:"recording"`
}

// Session drives one recording from first capture read to final transcript.
// A Session is single-use: it ends Stopped and is not restartable.
type Session struct {
	id  string
	log *slog.Logger

	source   io.ReadCloser
	sink     sink.Recorder
	engines  engine.Engines
	consumer Consumer
	recorder *telemetry.Recorder

	chunkBytes   int
	chunkBacklog int
	drainMin     time.Duration
	buffer       *audio.WindowBuffer

	state    atomic.Uint32
	stopOnce sync.Once
	stopCh   chan struct{}

	// segments is written by the pipeline worker and closed by it after the
	// drain; the renderer owns the receive side. Closure is the completion
	// signal, so nothing may send after the worker returns.
	segments     chan transcript.Segment
	transcript   *transcript.Transcript
	rendererDone chan struct{}

	router  *ingest.Router
	group   *errgroup.Group
	cancel  context.CancelFunc
	metrics *telemetry.SessionMetrics

	fatalMu sync.Mutex
	fatal   error

	waitOnce sync.Once
	waitErr  error
}

// New validates the wiring and prepares a session in the Idle state. The
// stream format, window shape, and drain threshold come from cfg, which the
// caller has already validated.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Source == nil {
		return nil, errors.New("session: capture source must not be nil")
	}
	if deps.Sink == nil {
		return nil, errors.New("session: sink must not be nil")
	}
	if deps.Engines.Accurate == nil {
		return nil, errors.New("session: accurate engine must not be nil")
	}
	if deps.Consumer == nil {
		return nil, errors.New("session: consumer must not be nil")
	}
	if deps.ID == "" {
		deps.ID = uuid.NewString()
	}

	format := cfg.Format()
	buffer, err := audio.NewWindowBuffer(format, cfg.Window(), cfg.Overlap())
	if err != nil {
		return nil, fmt.Errorf("session: window buffer: %w", err)
	}
	chunkBytes := format.Bytes(cfg.Chunk())
	if chunkBytes <= 0 {
		return nil, fmt.Errorf("session: chunk duration %v yields no bytes at %d Hz", cfg.Chunk(), format.SampleRate)
	}

	return &Session{
		id:           deps.ID,
		log:          logger.With("component", "session", "session_id", deps.ID),
		source:       deps.Source,
		sink:         deps.Sink,
		engines:      deps.Engines,
		consumer:     deps.Consumer,
		recorder:     deps.Metrics,
		chunkBytes:   chunkBytes,
		chunkBacklog: cfg.ChunkBacklog,
		drainMin:     cfg.DrainMin(),
		buffer:       buffer,
		stopCh:       make(chan struct{}),
		segments:     make(chan transcript.Segment, segmentBacklog),
		transcript:   &transcript.Transcript{},
		rendererDone: make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start launches the capture router, the pipeline worker, and the renderer.
// It returns once they are running; progress is delivered through the
// consumer and the outcome through Wait. ctx cancellation aborts the
// session; use Stop for a graceful end.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(uint32(StateIdle), uint32(StateRunning)) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.metrics = s.recorder.StartSession(s.id)
	s.router = ingest.NewRouter(s.log, s.source, s.sink, s.chunkBytes, s.chunkBacklog)
	pipe := pipeline.New(s.log, s.engines, s.segments, s.metrics)

	group, gctx := errgroup.WithContext(runCtx)
	s.group = group

	group.Go(func() error {
		err := s.router.Run(gctx)
		if err != nil {
			s.recordFatal(err)
		}
		return err
	})
	group.Go(func() error {
		err := s.runWorker(gctx, pipe)
		if err != nil {
			s.recordFatal(err)
		}
		// Completion signal for the renderer. Recording the fatal first
		// means the renderer decides suppression consistently.
		close(s.segments)
		return err
	})
	go s.runRenderer()

	s.log.Info("session started",
		"chunk_bytes", s.chunkBytes,
		"window_bytes", s.buffer.WindowBytes(),
		"overlap_bytes", s.buffer.OverlapBytes(),
	)
	return nil
}

// Stop requests a graceful end: the worker finishes the in-flight window
// (an accurate call is never interrupted mid-inference), then drains the
// leftover audio and closes up. Stop is idempotent and returns immediately;
// Wait observes the actual end.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stop requested")
		close(s.stopCh)
		// Unblock a capture read waiting for audio that will never come.
		if err := s.source.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.log.Debug("capture source close", "error", err)
		}
	})
}

// Wait blocks until the router, worker, and renderer have all finished,
// then closes the sink. It returns the first fatal error, or nil when the
// session drained cleanly after EOF or Stop.
func (s *Session) Wait() error {
	if s.State() == StateIdle {
		return ErrNotStarted
	}
	s.waitOnce.Do(func() {
		err := s.group.Wait()
		<-s.rendererDone
		if cerr := s.sink.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		s.cancel()
		s.state.Store(uint32(StateStopped))
		s.metrics.Finish(err)
		s.waitErr = err
	})
	return s.waitErr
}

// Result reports the final transcript and the recording summary. Valid once
// Wait has returned.
func (s *Session) Result() Result {
	return Result{
		SessionID: s.id,
		Segments:  s.transcript.Segments(),
		Recording: s.sink.Summary(),
	}
}

// runWorker is the pipeline side of the session: it owns the window buffer,
// feeds it chunks, and processes every extracted window strictly one at a
// time. Window N+1 never starts before window N's accurate call has
// returned; that serialization is the safety contract of the shared
// accurate engine.
func (s *Session) runWorker(ctx context.Context, pipe *pipeline.Pipeline) error {
	chunks := s.router.Chunks()
	for {
		// A pending stop wins over buffered audio.
		select {
		case <-s.stopCh:
			return s.stopAndDrain(ctx, pipe, chunks)
		default:
		}

		select {
		case <-s.stopCh:
			return s.stopAndDrain(ctx, pipe, chunks)
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if err := s.router.Err(); err != nil {
					// Capture or sink failure: abort without draining, the
					// stream is no longer trustworthy.
					return err
				}
				return s.drainTail(ctx, pipe)
			}
			s.metrics.RecordChunk(len(chunk))
			s.buffer.Push(chunk)
			for {
				window, extracted := s.buffer.ExtractWindow()
				if !extracted {
					break
				}
				if err := pipe.ProcessWindow(ctx, window); err != nil {
					return err
				}
				// A stop that arrived mid-window leaves anything still
				// buffered to the drain policy.
				select {
				case <-s.stopCh:
					return s.stopAndDrain(ctx, pipe, chunks)
				default:
				}
			}
		}
	}
}

// stopAndDrain finishes a stop request: drain the window buffer, then eat
// the remaining chunk channel so a router blocked on a full channel can
// exit. Audio captured after the stop request is persisted by the router
// but not transcribed.
func (s *Session) stopAndDrain(ctx context.Context, pipe *pipeline.Pipeline, chunks <-chan []byte) error {
	err := s.drainTail(ctx, pipe)
	for range chunks {
	}
	if rerr := s.router.Err(); rerr != nil {
		// The sink failed on post-stop audio; the recording is incomplete.
		return rerr
	}
	return err
}

// drainTail flushes the window buffer exactly once at session end. A
// leftover at or above the minimum becomes one final non-overlapped window
// through the same pipeline; anything shorter is discarded, never padded.
func (s *Session) drainTail(ctx context.Context, pipe *pipeline.Pipeline) error {
	s.state.Store(uint32(StateDraining))
	buffered := s.buffer.Buffered()

	window, ok := s.buffer.DrainRemaining(s.drainMin)
	s.metrics.RecordDrain(ok)
	if !ok {
		s.log.Debug("drain leftover below minimum, discarded", "buffered_bytes", buffered)
		return nil
	}
	s.log.Info("draining tail window",
		"window_id", window.ID,
		"duration_ms", window.Duration.Milliseconds(),
	)
	return pipe.ProcessWindow(ctx, window)
}

// runRenderer owns the receive side of the segment channel and is the
// transcript's single writer. It forwards each segment the instant it
// arrives, with no batching and no merging of previews into finals.
func (s *Session) runRenderer() {
	defer close(s.rendererDone)
	for seg := range s.segments {
		s.transcript.Append(seg)
		s.consumer.OnSegment(seg)
	}
	if s.fatalErr() != nil {
		return
	}
	s.consumer.OnComplete(s.transcript.Segments())
}

func (s *Session) recordFatal(err error) {
	s.fatalMu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.fatalMu.Unlock()
}

func (s *Session) fatalErr() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}
