package audio

import (
	"fmt"
	"time"
)

// Window is one fixed-duration slice of normalized samples handed to the
// engines. Consecutive windows share an overlap region so words are not cut
// at window boundaries; IDs are 1-based and strictly increasing.
type Window struct {
	ID      uint64
	Samples []float32
	// Offset is the stream position of the first sample, so segment
	// timestamps can be anchored to the whole recording.
	Offset   time.Duration
	Duration time.Duration
	// Tail marks the single non-overlapped window produced by
	// DrainRemaining at session stop.
	Tail bool
}

// WindowBuffer accumulates raw PCM bytes and cuts them into overlapping
// analysis windows. It is not safe for concurrent use; the goroutine that
// pushes chunks also extracts windows.
type WindowBuffer struct {
	format       Format
	windowBytes  int
	overlapBytes int
	advanceBytes int

	buf       []byte
	streamPos int
	nextID    uint64
}

// NewWindowBuffer sizes a buffer for the given window and overlap. The
// overlap must be strictly shorter than the window or the buffer could
// never advance.
func NewWindowBuffer(format Format, window, overlap time.Duration) (*WindowBuffer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, fmt.Errorf("audio: window duration must be positive, got %v", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("audio: overlap %v must be shorter than window %v", overlap, window)
	}
	windowBytes := format.Bytes(window)
	overlapBytes := format.Bytes(overlap)
	if windowBytes <= overlapBytes {
		return nil, fmt.Errorf("audio: window %v and overlap %v collapse to the same byte count", window, overlap)
	}
	return &WindowBuffer{
		format:       format,
		windowBytes:  windowBytes,
		overlapBytes: overlapBytes,
		advanceBytes: windowBytes - overlapBytes,
	}, nil
}

// WindowBytes returns the byte length of one full window.
func (b *WindowBuffer) WindowBytes() int { return b.windowBytes }

// OverlapBytes returns the bytes shared between consecutive windows.
func (b *WindowBuffer) OverlapBytes() int { return b.overlapBytes }

// AdvanceBytes returns how far the buffer moves per extracted window.
func (b *WindowBuffer) AdvanceBytes() int { return b.advanceBytes }

// Buffered reports how many bytes are waiting for the next window.
func (b *WindowBuffer) Buffered() int { return len(b.buf) }

// Push appends a chunk of raw stream bytes.
func (b *WindowBuffer) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.buf = append(b.buf, chunk...)
}

// ExtractWindow cuts the next full window. It reports false until at least
// one window's worth of bytes is buffered. On success the buffer advances
// by windowBytes-overlapBytes, retaining the trailing overlap for the next
// window.
func (b *WindowBuffer) ExtractWindow() (Window, bool) {
	if len(b.buf) < b.windowBytes {
		return Window{}, false
	}
	samples := DecodePCM16(b.buf[:b.windowBytes])
	offset := b.format.Duration(b.streamPos)

	b.buf = append(b.buf[:0], b.buf[b.advanceBytes:]...)
	b.streamPos += b.advanceBytes
	b.nextID++

	return Window{
		ID:       b.nextID,
		Samples:  samples,
		Offset:   offset,
		Duration: b.format.Duration(b.windowBytes),
	}, true
}

// DrainRemaining flushes whatever is buffered at session stop. Leftovers of
// at least min become one final non-overlapped window; shorter leftovers
// are discarded. The buffer is empty afterwards either way, so a second
// drain emits nothing.
func (b *WindowBuffer) DrainRemaining(min time.Duration) (Window, bool) {
	remaining := len(b.buf)
	if remaining == 0 || remaining < b.format.Bytes(min) {
		b.buf = b.buf[:0]
		return Window{}, false
	}
	samples := DecodePCM16(b.buf)
	offset := b.format.Duration(b.streamPos)
	duration := b.format.Duration(remaining)

	b.streamPos += remaining
	b.buf = b.buf[:0]
	b.nextID++

	return Window{
		ID:       b.nextID,
		Samples:  samples,
		Offset:   offset,
		Duration: duration,
		Tail:     true,
	}, true
}
