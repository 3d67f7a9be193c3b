package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed by the capture wire format: signed 16-bit
// little-endian PCM.
const BytesPerSample = 2

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Format describes the raw PCM stream negotiated for one capture session.
// It stays constant for the session's lifetime.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat returns the 16 kHz mono format used when a client does not
// negotiate anything else.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// Validate rejects formats that cannot describe a byte stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channels must be positive, got %d", f.Channels)
	}
	return nil
}

// FrameBytes returns the size of one sample frame across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

// BytesPerSecond returns the raw data rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameBytes()
}

// Bytes converts stream time to a byte count, rounded down to a whole frame.
func (f Format) Bytes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(d * time.Duration(f.BytesPerSecond()) / time.Second)
	return n - n%f.FrameBytes()
}

// Duration converts a byte count to stream time.
func (f Format) Duration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.BytesPerSecond())
}
