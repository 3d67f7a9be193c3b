package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
	"github.com/twinscribe/twinscribe/internal/engine"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func transcriptionHandler(t *testing.T, payload any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		head := make([]byte, 4)
		if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, []byte("RIFF")) {
			t.Errorf("uploaded window is not a WAV container: %q (%v)", head, err)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func TestAPITranscriberParsesSegments(t *testing.T) {
	payload := map[string]any{
		"task":     "transcribe",
		"language": "en",
		"duration": 3.0,
		"text":     "hello world",
		"segments": []map[string]any{
			{"id": 0, "start": 0.0, "end": 1.5, "text": " hello", "avg_logprob": -0.2},
			{"id": 1, "start": 1.5, "end": 3.0, "text": "world ", "avg_logprob": -0.1},
		},
	}
	srv := httptest.NewServer(transcriptionHandler(t, payload))
	defer srv.Close()

	eng, err := engine.NewAPITranscriber(quietLogger(), audio.DefaultFormat(), engine.APIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewAPITranscriber returned error: %v", err)
	}
	defer eng.Close()

	window := audio.Window{ID: 1, Samples: make([]float32, 48000), Duration: 3 * time.Second}
	results, err := eng.Transcribe(context.Background(), window)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	if results[0].Text != "hello" || results[1].Text != "world" {
		t.Fatalf("unexpected texts: %q, %q", results[0].Text, results[1].Text)
	}
	if results[0].Start != 0 || results[0].End != 1500*time.Millisecond {
		t.Fatalf("unexpected timing: %v..%v", results[0].Start, results[0].End)
	}
	want := float32(math.Exp(-0.2))
	if diff := results[0].Confidence - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("unexpected confidence: got %v, want %v", results[0].Confidence, want)
	}
}

func TestAPITranscriberTextOnlyResponse(t *testing.T) {
	payload := map[string]any{"text": "  plain text  "}
	srv := httptest.NewServer(transcriptionHandler(t, payload))
	defer srv.Close()

	eng, err := engine.NewAPITranscriber(quietLogger(), audio.DefaultFormat(), engine.APIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewAPITranscriber returned error: %v", err)
	}
	defer eng.Close()

	window := audio.Window{ID: 2, Samples: make([]float32, 16000), Duration: time.Second}
	results, err := eng.Transcribe(context.Background(), window)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	if results[0].Text != "plain text" {
		t.Fatalf("unexpected text: %q", results[0].Text)
	}
	if results[0].End != time.Second {
		t.Fatalf("text-only result should span the window: %v", results[0].End)
	}
}

func TestAPITranscriberRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng, err := engine.NewAPITranscriber(quietLogger(), audio.DefaultFormat(), engine.APIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewAPITranscriber returned error: %v", err)
	}
	defer eng.Close()

	window := audio.Window{ID: 3, Samples: make([]float32, 16000)}
	if _, err := eng.Transcribe(context.Background(), window); err == nil {
		t.Fatalf("expected error for failing endpoint")
	}
}

func TestAPITranscriberRequiresKey(t *testing.T) {
	if _, err := engine.NewAPITranscriber(quietLogger(), audio.DefaultFormat(), engine.APIConfig{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
