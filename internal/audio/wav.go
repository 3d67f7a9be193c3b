package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by
// EncodeWAV.
const WAVHeaderSize = 44

// EncodeWAV wraps raw 16-bit PCM bytes in a minimal RIFF/WAVE container so
// backends that expect a file format can consume captured audio.
func EncodeWAV(pcm []byte, format Format) []byte {
	out := make([]byte, WAVHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(format.BytesPerSecond()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(format.FrameBytes()))
	binary.LittleEndian.PutUint16(out[34:36], 8*BytesPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}

// EncodeWindowWAV converts a normalized window back to PCM and wraps it in
// a WAVE container.
func EncodeWindowWAV(w Window, format Format) []byte {
	return EncodeWAV(EncodePCM16(w.Samples), format)
}

// ParseWAV reads a RIFF/WAVE container and returns the stream format plus
// the raw PCM payload. Only uncompressed 16-bit PCM is supported; chunks
// other than fmt and data are skipped.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		format Format
		sawFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Format{}, nil, fmt.Errorf("audio: truncated %q chunk", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, errors.New("audio: fmt chunk too short")
			}
			codec := binary.LittleEndian.Uint16(data[body : body+2])
			if codec != 1 {
				return Format{}, nil, fmt.Errorf("audio: unsupported codec %d, want PCM", codec)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != 8*BytesPerSample {
				return Format{}, nil, fmt.Errorf("audio: unsupported sample width %d bits", bits)
			}
			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return Format{}, nil, errors.New("audio: data chunk before fmt chunk")
			}
			return format, data[body : body+size], nil
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return Format{}, nil, errors.New("audio: no data chunk")
}
