package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/twinscribe/twinscribe/internal/ingest"
)

const chunkSize = 3200

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pcmBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

func TestRouterForwardsChunksInOrder(t *testing.T) {
	payload := pcmBytes(chunkSize * 10)
	var sink bytes.Buffer
	router := ingest.NewRouter(quietLogger(), bytes.NewReader(payload), &sink, chunkSize, 100)

	runErr := make(chan error, 1)
	go func() { runErr <- router.Run(context.Background()) }()

	var got []byte
	for chunk := range router.Chunks() {
		if len(chunk) != chunkSize {
			t.Errorf("unexpected chunk size: %d", len(chunk))
		}
		got = append(got, chunk...)
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if router.Err() != nil {
		t.Fatalf("Err after clean EOF: %v", router.Err())
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("forwarded bytes differ from source")
	}
	if !bytes.Equal(sink.Bytes(), payload) {
		t.Fatalf("persisted bytes differ from source")
	}
}

func TestRouterDeliversShortFinalChunk(t *testing.T) {
	payload := pcmBytes(chunkSize*2 + 1600)
	var sink bytes.Buffer
	router := ingest.NewRouter(quietLogger(), bytes.NewReader(payload), &sink, chunkSize, 100)

	runErr := make(chan error, 1)
	go func() { runErr <- router.Run(context.Background()) }()

	var sizes []int
	for chunk := range router.Chunks() {
		sizes = append(sizes, len(chunk))
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []int{chunkSize, chunkSize, 1600}
	if len(sizes) != len(want) {
		t.Fatalf("unexpected chunk count: got %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunk %d has size %d, want %d", i, sizes[i], want[i])
		}
	}
}

type countingSink struct {
	bytes atomic.Int64
}

func (s *countingSink) Write(p []byte) (int, error) {
	s.bytes.Add(int64(len(p)))
	return len(p), nil
}

func TestRouterPersistsBeforeForwarding(t *testing.T) {
	payload := pcmBytes(chunkSize * 8)
	sink := &countingSink{}
	router := ingest.NewRouter(quietLogger(), bytes.NewReader(payload), sink, chunkSize, 1)

	runErr := make(chan error, 1)
	go func() { runErr <- router.Run(context.Background()) }()

	var received int64
	for chunk := range router.Chunks() {
		received += int64(len(chunk))
		if persisted := sink.bytes.Load(); persisted < received {
			t.Fatalf("chunk forwarded before persisted: sink at %d, received %d", persisted, received)
		}
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

type failingSink struct {
	after int
	seen  int
}

func (s *failingSink) Write(p []byte) (int, error) {
	s.seen++
	if s.seen > s.after {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func TestRouterSinkFailureIsFatal(t *testing.T) {
	payload := pcmBytes(chunkSize * 5)
	router := ingest.NewRouter(quietLogger(), bytes.NewReader(payload), &failingSink{after: 2}, chunkSize, 100)

	runErr := make(chan error, 1)
	go func() { runErr <- router.Run(context.Background()) }()

	var forwarded int
	for range router.Chunks() {
		forwarded++
	}
	err := <-runErr
	if err == nil {
		t.Fatalf("expected sink failure to abort Run")
	}
	if !strings.Contains(err.Error(), "ingest: sink write") {
		t.Fatalf("error should name the sink stage: %v", err)
	}
	if router.Err() == nil {
		t.Fatalf("Err should report the failure after channel close")
	}
	if forwarded != 2 {
		t.Fatalf("expected 2 chunks forwarded before failure, got %d", forwarded)
	}
}

type brokenReader struct {
	data []byte
	err  error
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestRouterSourceFailureIsFatal(t *testing.T) {
	cause := errors.New("device detached")
	router := ingest.NewRouter(quietLogger(), &brokenReader{data: pcmBytes(chunkSize), err: cause}, io.Discard, chunkSize, 100)

	runErr := make(chan error, 1)
	go func() { runErr <- router.Run(context.Background()) }()

	for range router.Chunks() {
	}
	err := <-runErr
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestRouterTreatsClosedSourceAsEOF(t *testing.T) {
	for _, cause := range []error{io.EOF, io.ErrClosedPipe, os.ErrClosed} {
		router := ingest.NewRouter(quietLogger(), &brokenReader{data: pcmBytes(chunkSize), err: cause}, io.Discard, chunkSize, 100)

		runErr := make(chan error, 1)
		go func() { runErr <- router.Run(context.Background()) }()

		var forwarded int
		for range router.Chunks() {
			forwarded++
		}
		if err := <-runErr; err != nil {
			t.Fatalf("%v should end the run cleanly, got %v", cause, err)
		}
		if forwarded != 1 {
			t.Fatalf("expected buffered chunk before %v, got %d", cause, forwarded)
		}
	}
}

type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x7F
	}
	return len(p), nil
}

func TestRouterUnblocksOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	router := ingest.NewRouter(quietLogger(), endlessReader{}, io.Discard, chunkSize, 1)

	runErr := make(chan error, 1)
	go func() { runErr <- router.Run(ctx) }()

	// Let the backlog fill so the router blocks on the channel send.
	deadline := time.After(2 * time.Second)
	for len(router.Chunks()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("router never produced a chunk")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("cancel should end the run cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("router did not stop after cancel")
	}
}
