package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/twinscribe/twinscribe/internal/audio"
)

const (
	DefaultListenAddr   = "127.0.0.1:8080"
	DefaultLogLevel     = "info"
	DefaultCaptureDir   = "captures"
	DefaultWindowSec    = 3.0
	DefaultOverlapSec   = 0.5
	DefaultDrainMinSec  = 1.0
	DefaultChunkMS      = 100
	DefaultChunkBacklog = 100
	DefaultGateThresh   = 0.01
	DefaultBackend      = "stub"
)

// Window durations outside this range either starve the engines of context
// or stall the live preview for too long.
const (
	minWindowSec = 2.0
	maxWindowSec = 30.0
)

// Config captures the daemon configuration, loaded from an optional YAML
// file with environment overrides.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	CaptureDir string `yaml:"capture_dir"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	ChunkMS      int     `yaml:"chunk_ms"`
	ChunkBacklog int     `yaml:"chunk_backlog"`
	WindowSec    float64 `yaml:"window_sec"`
	OverlapSec   float64 `yaml:"overlap_sec"`
	DrainMinSec  float64 `yaml:"drain_min_sec"`

	Gate           GateConfig   `yaml:"gate"`
	FastEngine     EngineConfig `yaml:"fast_engine"`
	AccurateEngine EngineConfig `yaml:"accurate_engine"`
}

// GateConfig controls the speech gate that runs before the engines.
type GateConfig struct {
	Enabled   *bool   `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// On reports whether the gate should be constructed. Call after Validate.
func (g GateConfig) On() bool {
	return g.Enabled == nil || *g.Enabled
}

// EngineConfig selects and parameterizes one transcription backend.
type EngineConfig struct {
	// Backend is one of "stub", "exec", "openai", or "none" (fast slot
	// only). Empty selects the stub.
	Backend string `yaml:"backend"`

	// Command and Args drive the exec backend; "{input}" in an argument is
	// replaced with the window's WAV path.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Model, APIKey, and BaseURL drive the openai backend.
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	Language string `yaml:"language"`

	// LatencyMS makes the stub backend simulate inference time.
	LatencyMS int `yaml:"latency_ms"`
}

// Validate applies defaults, checks required fields, and rejects
// out-of-range values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CaptureDir == "" {
		c.CaptureDir = DefaultCaptureDir
	}
	if c.SampleRate == 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.SampleRate < 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels == 0 {
		c.Channels = audio.DefaultChannels
	}
	if c.Channels < 0 {
		return fmt.Errorf("config: channels must be positive, got %d", c.Channels)
	}

	if c.ChunkMS == 0 {
		c.ChunkMS = DefaultChunkMS
	}
	if c.ChunkMS < 10 || c.ChunkMS > 1000 {
		return fmt.Errorf("config: chunk_ms must be between 10 and 1000, got %d", c.ChunkMS)
	}
	if c.ChunkBacklog == 0 {
		c.ChunkBacklog = DefaultChunkBacklog
	}
	if c.ChunkBacklog < 1 {
		return fmt.Errorf("config: chunk_backlog must be >= 1, got %d", c.ChunkBacklog)
	}

	if c.WindowSec == 0 {
		c.WindowSec = DefaultWindowSec
	}
	if c.WindowSec < minWindowSec || c.WindowSec > maxWindowSec {
		return fmt.Errorf("config: window_sec must be between %.1f and %.1f, got %g", minWindowSec, maxWindowSec, c.WindowSec)
	}
	if c.OverlapSec == 0 {
		c.OverlapSec = DefaultOverlapSec
	}
	if c.OverlapSec < 0 || c.OverlapSec >= c.WindowSec {
		return fmt.Errorf("config: overlap_sec (%g) must be shorter than window_sec (%g)", c.OverlapSec, c.WindowSec)
	}
	if c.DrainMinSec == 0 {
		c.DrainMinSec = DefaultDrainMinSec
	}
	if c.DrainMinSec < 0 || c.DrainMinSec > c.WindowSec {
		return fmt.Errorf("config: drain_min_sec (%g) must be between 0 and window_sec (%g)", c.DrainMinSec, c.WindowSec)
	}

	if c.Gate.Enabled == nil {
		enabled := true
		c.Gate.Enabled = &enabled
	}
	if c.Gate.Threshold == 0 {
		c.Gate.Threshold = DefaultGateThresh
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold >= 1 {
		return fmt.Errorf("config: gate threshold must be in [0, 1), got %g", c.Gate.Threshold)
	}

	if err := c.FastEngine.validate("fast_engine", true); err != nil {
		return err
	}
	if err := c.AccurateEngine.validate("accurate_engine", false); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate(slot string, allowNone bool) error {
	if e.Backend == "" {
		e.Backend = DefaultBackend
	}
	backend := strings.ToLower(strings.TrimSpace(e.Backend))
	switch backend {
	case "stub", "openai":
	case "exec":
		if strings.TrimSpace(e.Command) == "" {
			return fmt.Errorf("config: %s exec backend requires a command", slot)
		}
	case "none":
		if !allowNone {
			return fmt.Errorf("config: %s cannot be disabled", slot)
		}
	default:
		return fmt.Errorf("config: %s has unknown backend %q", slot, e.Backend)
	}
	e.Backend = backend
	if e.LatencyMS < 0 {
		return fmt.Errorf("config: %s latency_ms must be >= 0, got %d", slot, e.LatencyMS)
	}
	return nil
}

// Format returns the negotiated default stream format.
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Window returns the analysis window duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowSec * float64(time.Second))
}

// Overlap returns the duration shared between consecutive windows.
func (c Config) Overlap() time.Duration {
	return time.Duration(c.OverlapSec * float64(time.Second))
}

// DrainMin returns the shortest leftover emitted at session stop.
func (c Config) DrainMin() time.Duration {
	return time.Duration(c.DrainMinSec * float64(time.Second))
}

// Chunk returns the capture read size as stream time.
func (c Config) Chunk() time.Duration {
	return time.Duration(c.ChunkMS) * time.Millisecond
}
