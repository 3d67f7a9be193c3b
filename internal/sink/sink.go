package sink

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"lukechampine.com/blake3"
)

// Recorder persists the raw capture stream and can describe what it has
// written so far. A Recorder write failure is fatal to the session that
// owns it.
type Recorder interface {
	io.WriteCloser
	// Summary describes the recording. Valid at any time, final after Close.
	Summary() Recording
}

// Recording describes one persisted capture.
type Recording struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Checksum string `json:"checksum"`
}

// FileSink streams raw PCM into a capture file, hashing every byte on the
// way through so the stored audio can be verified against the stream.
type FileSink struct {
	path  string
	file  *os.File
	hash  *blake3.Hasher
	bytes int64
}

// NewFileSink creates the capture directory if needed and opens a fresh
// recording named after the wall clock and the session id.
func NewFileSink(dir, sessionID string, now time.Time) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create capture dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.pcm", now.Format("20060102_150405"), sessionID)
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	return &FileSink{
		path: path,
		file: file,
		hash: blake3.New(32, nil),
	}, nil
}

// Write implements io.Writer.
func (s *FileSink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	if n > 0 {
		s.hash.Write(p[:n])
		s.bytes += int64(n)
	}
	if err != nil {
		return n, fmt.Errorf("sink: write %s: %w", s.path, err)
	}
	return n, nil
}

// Close flushes and closes the capture file.
func (s *FileSink) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("sink: close %s: %w", s.path, err)
	}
	return nil
}

// Summary implements the Recorder interface.
func (s *FileSink) Summary() Recording {
	return Recording{
		Path:     s.path,
		Bytes:    s.bytes,
		Checksum: hex.EncodeToString(s.hash.Sum(nil)),
	}
}

// WriterSink adapts any io.Writer to the Recorder interface. Tests use it
// with a bytes.Buffer; Close closes the writer when it is an io.Closer.
type WriterSink struct {
	name  string
	w     io.Writer
	hash  *blake3.Hasher
	bytes int64
}

// NewWriterSink wraps w. The name stands in for a path in summaries and
// error messages.
func NewWriterSink(name string, w io.Writer) *WriterSink {
	return &WriterSink{
		name: name,
		w:    w,
		hash: blake3.New(32, nil),
	}
}

// Write implements io.Writer.
func (s *WriterSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if n > 0 {
		s.hash.Write(p[:n])
		s.bytes += int64(n)
	}
	if err != nil {
		return n, fmt.Errorf("sink: write %s: %w", s.name, err)
	}
	return n, nil
}

// Close implements io.Closer.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("sink: close %s: %w", s.name, err)
		}
	}
	return nil
}

// Summary implements the Recorder interface.
func (s *WriterSink) Summary() Recording {
	return Recording{
		Path:     s.name,
		Bytes:    s.bytes,
		Checksum: hex.EncodeToString(s.hash.Sum(nil)),
	}
}
