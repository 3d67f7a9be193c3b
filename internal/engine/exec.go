package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/twinscribe/twinscribe/internal/audio"
)

// inputPlaceholder in an argument is replaced with the window's WAV path.
const inputPlaceholder = "{input}"

// ExecTranscriber shells out to an external recognizer once per window. The
// window is written to a temporary WAV file and the command must print a
// JSON document on stdout:
//
//	{"segments": [{"text": "...", "start": 1.28, "end": 2.96, "confidence": 0.87}]}
//
// with start/end in seconds relative to the window.
type ExecTranscriber struct {
	log     *slog.Logger
	format  audio.Format
	command string
	args    []string
	workDir string
}

// NewExecTranscriber validates the command and prepares a scratch directory
// for window files.
func NewExecTranscriber(logger *slog.Logger, format audio.Format, command string, args []string) (*ExecTranscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("engine: exec backend requires a command")
	}
	workDir, err := os.MkdirTemp("", "twinscribe-exec-")
	if err != nil {
		return nil, fmt.Errorf("engine: create scratch dir: %w", err)
	}
	return &ExecTranscriber{
		log:     logger.With("component", "engine.exec", "command", command),
		format:  format,
		command: command,
		args:    args,
		workDir: workDir,
	}, nil
}

// Transcribe implements the Transcriber interface.
func (e *ExecTranscriber) Transcribe(ctx context.Context, window audio.Window) ([]Result, error) {
	if len(window.Samples) == 0 {
		return nil, nil
	}

	path := filepath.Join(e.workDir, fmt.Sprintf("window-%d.wav", window.ID))
	if err := os.WriteFile(path, audio.EncodeWindowWAV(window, e.format), 0o644); err != nil {
		return nil, fmt.Errorf("engine: write window file: %w", err)
	}
	defer os.Remove(path)

	args := make([]string, 0, len(e.args)+1)
	replaced := false
	for _, arg := range e.args {
		if strings.Contains(arg, inputPlaceholder) {
			arg = strings.ReplaceAll(arg, inputPlaceholder, path)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, path)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, e.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("engine: run %s: %w: %s", e.command, err, detail)
		}
		return nil, fmt.Errorf("engine: run %s: %w", e.command, err)
	}

	results, err := parseExecOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("engine: parse %s output: %w", e.command, err)
	}
	e.log.Debug("exec transcription finished",
		"window_id", window.ID,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// Close removes the scratch directory.
func (e *ExecTranscriber) Close() error {
	if err := os.RemoveAll(e.workDir); err != nil {
		return fmt.Errorf("engine: remove scratch dir: %w", err)
	}
	return nil
}

type execSegment struct {
	Text       string          `json:"text"`
	Start      decimal.Decimal `json:"start"`
	End        decimal.Decimal `json:"end"`
	Confidence float32         `json:"confidence"`
}

type execOutput struct {
	Segments []execSegment `json:"segments"`
}

func parseExecOutput(raw []byte) ([]Result, error) {
	var payload execOutput
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		results = append(results, Result{
			Text:       text,
			Start:      secondsToDuration(seg.Start),
			End:        secondsToDuration(seg.End),
			Confidence: seg.Confidence,
		})
	}
	return results, nil
}

// secondsToDuration converts decimal seconds to a millisecond-precise
// duration without accumulating float error.
func secondsToDuration(seconds decimal.Decimal) time.Duration {
	ms := seconds.Mul(decimal.NewFromInt(1000)).IntPart()
	return time.Duration(ms) * time.Millisecond
}
