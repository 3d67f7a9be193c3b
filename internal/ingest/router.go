package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Router reads fixed-size chunks from a capture source and, per chunk,
// first persists it to the sink and then forwards it downstream. The sink
// write completes before the chunk is forwarded, and both complete before
// the next read, so the recording never lags the live stream.
type Router struct {
	log       *slog.Logger
	source    io.Reader
	sink      io.Writer
	chunkSize int
	out       chan []byte
	err       error
}

// NewRouter prepares a router that emits chunks of chunkSize bytes on a
// channel buffered for backlog chunks.
func NewRouter(logger *slog.Logger, source io.Reader, sink io.Writer, chunkSize, backlog int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		panic("ingest: source must not be nil")
	}
	if sink == nil {
		panic("ingest: sink must not be nil")
	}
	if chunkSize <= 0 {
		panic("ingest: chunk size must be positive")
	}
	if backlog < 1 {
		backlog = 1
	}
	return &Router{
		log:       logger.With("component", "ingest.Router"),
		source:    source,
		sink:      sink,
		chunkSize: chunkSize,
		out:       make(chan []byte, backlog),
	}
}

// Chunks returns the channel the router forwards on. It is closed when Run
// returns; check Err afterwards to distinguish clean EOF from a failure.
func (r *Router) Chunks() <-chan []byte {
	return r.out
}

// Err reports why the chunk channel closed. Only valid once Chunks is
// closed; nil means the source drained cleanly or the run was canceled.
func (r *Router) Err() error {
	return r.err
}

// Run pumps the source until EOF, a fatal error, or ctx cancellation. It
// always closes the chunk channel on the way out.
func (r *Router) Run(ctx context.Context) (err error) {
	defer func() {
		r.err = err
		close(r.out)
	}()

	var chunks, bytes int64
	buf := make([]byte, r.chunkSize)
	for {
		if ctx.Err() != nil {
			r.log.Debug("capture canceled", "chunks", chunks, "bytes", bytes)
			return nil
		}

		n, readErr := r.source.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if _, werr := r.sink.Write(chunk); werr != nil {
				return fmt.Errorf("ingest: sink write: %w", werr)
			}
			select {
			case r.out <- chunk:
				chunks++
				bytes += int64(n)
			case <-ctx.Done():
				r.log.Debug("capture canceled", "chunks", chunks, "bytes", bytes)
				return nil
			}
		}
		if readErr != nil {
			if isCleanEOF(readErr) {
				r.log.Debug("capture drained", "chunks", chunks, "bytes", bytes)
				return nil
			}
			return fmt.Errorf("ingest: source read: %w", readErr)
		}
	}
}

// isCleanEOF reports whether a read error means the source simply ended.
// Closing the capture source is how Stop unblocks a pending read, so the
// close errors of pipes and files count as EOF here.
func isCleanEOF(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
