package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"github.com/twinscribe/twinscribe/internal/audio"
)

// APIConfig parameterizes the hosted transcription backend.
type APIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// APITranscriber sends windows to an OpenAI-compatible transcription
// endpoint, one request per window. Network latency makes it a fit for the
// accurate slot, not the preview slot.
type APITranscriber struct {
	log      *slog.Logger
	client   *openai.Client
	format   audio.Format
	model    string
	language string
}

// NewAPITranscriber builds the client. BaseURL overrides the default API
// host for self-hosted compatible servers.
func NewAPITranscriber(logger *slog.Logger, format audio.Format, cfg APIConfig) (*APITranscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("engine: openai backend requires an api key")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &APITranscriber{
		log:      logger.With("component", "engine.openai", "model", model),
		client:   openai.NewClientWithConfig(clientCfg),
		format:   format,
		model:    model,
		language: cfg.Language,
	}, nil
}

// Transcribe implements the Transcriber interface.
func (e *APITranscriber) Transcribe(ctx context.Context, window audio.Window) ([]Result, error) {
	if len(window.Samples) == 0 {
		return nil, nil
	}

	payload := audio.EncodeWindowWAV(window, e.format)
	start := time.Now()
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(payload),
		Language: e.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: transcription request: %w", err)
	}
	e.log.Debug("api transcription finished",
		"window_id", window.ID,
		"segments", len(resp.Segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if len(resp.Segments) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil, nil
		}
		return []Result{{Text: text, End: window.Duration, Confidence: 1}}, nil
	}

	results := make([]Result, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		results = append(results, Result{
			Text:       text,
			Start:      secondsFloatToDuration(seg.Start),
			End:        secondsFloatToDuration(seg.End),
			Confidence: confidenceFromLogprob(seg.AvgLogprob),
		})
	}
	return results, nil
}

// Close implements the Transcriber interface.
func (e *APITranscriber) Close() error {
	return nil
}

func secondsFloatToDuration(seconds float64) time.Duration {
	ms := decimal.NewFromFloat(seconds).Mul(decimal.NewFromInt(1000)).IntPart()
	return time.Duration(ms) * time.Millisecond
}

// confidenceFromLogprob maps the per-segment average log probability onto
// [0, 1].
func confidenceFromLogprob(avgLogprob float64) float32 {
	conf := math.Exp(avgLogprob)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return float32(conf)
}
