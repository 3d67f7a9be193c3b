package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/twinscribe/twinscribe/internal/config"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestLoaderDefaults(t *testing.T) {
	loader := config.Loader{Lookup: lookupFrom(nil)}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	assertEqual(t, config.DefaultListenAddr, cfg.ListenAddr, "listen addr")
	assertEqual(t, config.DefaultLogLevel, cfg.LogLevel, "log level")
	assertEqual(t, config.DefaultCaptureDir, cfg.CaptureDir, "capture dir")
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Fatalf("unexpected default format: %d Hz, %d channels", cfg.SampleRate, cfg.Channels)
	}
	if cfg.ChunkMS != config.DefaultChunkMS || cfg.ChunkBacklog != config.DefaultChunkBacklog {
		t.Fatalf("unexpected chunk defaults: %d ms, backlog %d", cfg.ChunkMS, cfg.ChunkBacklog)
	}
	if cfg.WindowSec != config.DefaultWindowSec || cfg.OverlapSec != config.DefaultOverlapSec {
		t.Fatalf("unexpected window defaults: %g/%g", cfg.WindowSec, cfg.OverlapSec)
	}
	if cfg.DrainMinSec != config.DefaultDrainMinSec {
		t.Fatalf("unexpected drain default: %g", cfg.DrainMinSec)
	}
	if !cfg.Gate.On() {
		t.Fatalf("expected gate enabled by default")
	}
	if cfg.Gate.Threshold != config.DefaultGateThresh {
		t.Fatalf("unexpected gate threshold: %g", cfg.Gate.Threshold)
	}
	assertEqual(t, config.DefaultBackend, cfg.FastEngine.Backend, "fast backend")
	assertEqual(t, config.DefaultBackend, cfg.AccurateEngine.Backend, "accurate backend")

	if cfg.Window() != 3*time.Second {
		t.Fatalf("unexpected window duration: %v", cfg.Window())
	}
	if cfg.Overlap() != 500*time.Millisecond {
		t.Fatalf("unexpected overlap duration: %v", cfg.Overlap())
	}
	if cfg.Chunk() != 100*time.Millisecond {
		t.Fatalf("unexpected chunk duration: %v", cfg.Chunk())
	}
	if got := cfg.Format().Bytes(cfg.Window()); got != 96000 {
		t.Fatalf("unexpected window bytes: %d", got)
	}
}

func TestLoaderFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "twinscribe.yaml")
	file := `
listen_addr: "0.0.0.0:9000"
log_level: debug
window_sec: 4.0
overlap_sec: 1.0
gate:
  enabled: false
fast_engine:
  backend: none
accurate_engine:
  backend: exec
  command: whisperx
  args: ["--output", "json", "{input}"]
`
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := map[string]string{
		"TWINSCRIBE_CONFIG":     path,
		"TWINSCRIBE_LOG_LEVEL":  "warn",
		"TWINSCRIBE_WINDOW_SEC": "5.0",
		"OPENAI_API_KEY":        "sk-test",
	}

	cfg, err := config.Loader{Lookup: lookupFrom(env)}.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	assertEqual(t, "0.0.0.0:9000", cfg.ListenAddr, "listen addr")
	assertEqual(t, "warn", cfg.LogLevel, "log level")
	if cfg.WindowSec != 5.0 {
		t.Fatalf("env override lost: window_sec = %g", cfg.WindowSec)
	}
	if cfg.OverlapSec != 1.0 {
		t.Fatalf("file value lost: overlap_sec = %g", cfg.OverlapSec)
	}
	if cfg.Gate.On() {
		t.Fatalf("expected gate disabled by file")
	}
	assertEqual(t, "none", cfg.FastEngine.Backend, "fast backend")
	assertEqual(t, "exec", cfg.AccurateEngine.Backend, "accurate backend")
	assertEqual(t, "whisperx", cfg.AccurateEngine.Command, "accurate command")
	if len(cfg.AccurateEngine.Args) != 3 {
		t.Fatalf("unexpected args: %v", cfg.AccurateEngine.Args)
	}
	assertEqual(t, "sk-test", cfg.AccurateEngine.APIKey, "api key fallback")
	assertEqual(t, "sk-test", cfg.FastEngine.APIKey, "fast api key fallback")
}

func TestLoaderExplicitPathBeatsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explicit.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \"127.0.0.1:7000\"\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := config.Loader{Path: path, Lookup: lookupFrom(map[string]string{
		"TWINSCRIBE_CONFIG": filepath.Join(dir, "missing.yaml"),
	})}.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	assertEqual(t, "127.0.0.1:7000", cfg.ListenAddr, "listen addr")
}

func TestLoaderRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"overlap not below window": {"TWINSCRIBE_WINDOW_SEC": "3.0", "TWINSCRIBE_OVERLAP_SEC": "3.0"},
		"window below minimum":     {"TWINSCRIBE_WINDOW_SEC": "1.0"},
		"window above maximum":     {"TWINSCRIBE_WINDOW_SEC": "31.0"},
		"chunk too small":          {"TWINSCRIBE_CHUNK_MS": "5"},
		"drain above window":       {"TWINSCRIBE_DRAIN_MIN_SEC": "4.0"},
		"unknown backend":          {"TWINSCRIBE_ACCURATE_BACKEND": "vosk2"},
		"accurate disabled":        {"TWINSCRIBE_ACCURATE_BACKEND": "none"},
		"unparsable number":        {"TWINSCRIBE_WINDOW_SEC": "three"},
		"unparsable bool":          {"TWINSCRIBE_GATE_ENABLED": "maybe"},
	}

	for name, env := range cases {
		if _, err := (config.Loader{Lookup: lookupFrom(env)}).Load(); err == nil {
			t.Fatalf("%s: expected error, got none", name)
		}
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := config.Loader{Path: filepath.Join(t.TempDir(), "absent.yaml"), Lookup: lookupFrom(nil)}
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateRequiresExecCommand(t *testing.T) {
	cfg := config.Config{AccurateEngine: config.EngineConfig{Backend: "exec"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for exec backend without command")
	}
}

func assertEqual(t *testing.T, want, got, label string) {
	t.Helper()
	if want != got {
		t.Fatalf("unexpected %s: want %q, got %q", label, want, got)
	}
}
