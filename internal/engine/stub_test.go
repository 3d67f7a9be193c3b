package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
	"github.com/twinscribe/twinscribe/internal/engine"
)

func TestStubTranscriberProducesDeterministicResult(t *testing.T) {
	eng := engine.NewStubTranscriber(quietLogger(), "fast", 0)
	defer eng.Close()

	window := audio.Window{
		ID:       7,
		Samples:  make([]float32, 48000),
		Offset:   2500 * time.Millisecond,
		Duration: 3 * time.Second,
	}
	results, err := eng.Transcribe(context.Background(), window)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	res := results[0]
	if !strings.Contains(res.Text, "window 7") || !strings.Contains(res.Text, "fast") {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if res.Start != 0 || res.End != window.Duration {
		t.Fatalf("stub result should span the window: %v..%v", res.Start, res.End)
	}
	if res.Confidence != 0.42 {
		t.Fatalf("unexpected confidence: %v", res.Confidence)
	}
}

func TestStubTranscriberEmptyWindow(t *testing.T) {
	eng := engine.NewStubTranscriber(quietLogger(), "accurate", 0)
	defer eng.Close()

	results, err := eng.Transcribe(context.Background(), audio.Window{ID: 1})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for an empty window, got %d", len(results))
	}
}

func TestStubTranscriberHonorsContext(t *testing.T) {
	eng := engine.NewStubTranscriber(quietLogger(), "accurate", time.Minute)
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	window := audio.Window{ID: 1, Samples: make([]float32, 16000), Duration: time.Second}
	if _, err := eng.Transcribe(ctx, window); err == nil {
		t.Fatalf("expected context error from latency wait")
	}
}

func TestStubTranscriberSimulatesLatency(t *testing.T) {
	const latency = 30 * time.Millisecond
	eng := engine.NewStubTranscriber(quietLogger(), "accurate", latency)
	defer eng.Close()

	window := audio.Window{ID: 1, Samples: make([]float32, 16000), Duration: time.Second}
	start := time.Now()
	if _, err := eng.Transcribe(context.Background(), window); err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < latency {
		t.Fatalf("expected at least %v of simulated latency, took %v", latency, elapsed)
	}
}
