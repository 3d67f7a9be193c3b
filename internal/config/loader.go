package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from an optional YAML file and environment
// variables. Tests can override Lookup to inject deterministic maps.
type Loader struct {
	// Path points at a YAML config file. When empty, TWINSCRIBE_CONFIG is
	// consulted; when that is empty too, no file is read.
	Path   string
	Lookup func(string) (string, bool)
}

// Load reads the file (if any), applies environment overrides, and
// validates the result.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	var cfg Config

	path := strings.TrimSpace(l.Path)
	if path == "" {
		if value, ok := l.Lookup("TWINSCRIBE_CONFIG"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overrideString(l.Lookup, "TWINSCRIBE_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "TWINSCRIBE_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "TWINSCRIBE_CAPTURE_DIR", &cfg.CaptureDir)
	if err := overrideInt(l.Lookup, "TWINSCRIBE_SAMPLE_RATE", &cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "TWINSCRIBE_CHANNELS", &cfg.Channels); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "TWINSCRIBE_CHUNK_MS", &cfg.ChunkMS); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, "TWINSCRIBE_WINDOW_SEC", &cfg.WindowSec); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, "TWINSCRIBE_OVERLAP_SEC", &cfg.OverlapSec); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, "TWINSCRIBE_DRAIN_MIN_SEC", &cfg.DrainMinSec); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, "TWINSCRIBE_GATE_ENABLED", &cfg.Gate.Enabled); err != nil {
		return Config{}, err
	}
	overrideString(l.Lookup, "TWINSCRIBE_FAST_BACKEND", &cfg.FastEngine.Backend)
	overrideString(l.Lookup, "TWINSCRIBE_ACCURATE_BACKEND", &cfg.AccurateEngine.Backend)

	// API keys fall back to the conventional variable so .env files written
	// for other tooling keep working.
	for _, engine := range []*EngineConfig{&cfg.FastEngine, &cfg.AccurateEngine} {
		if engine.APIKey == "" {
			overrideString(l.Lookup, "TWINSCRIBE_OPENAI_API_KEY", &engine.APIKey)
		}
		if engine.APIKey == "" {
			overrideString(l.Lookup, "OPENAI_API_KEY", &engine.APIKey)
		}
		if engine.BaseURL == "" {
			overrideString(l.Lookup, "TWINSCRIBE_OPENAI_BASE_URL", &engine.BaseURL)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target **bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*target = &parsed
	return nil
}
