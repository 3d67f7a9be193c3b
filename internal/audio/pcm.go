package audio

import "encoding/binary"

// DecodePCM16 converts signed 16-bit little-endian bytes into normalized
// float32 samples in [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// EncodePCM16 converts normalized samples back to signed 16-bit
// little-endian bytes, clamping values outside [-1, 1).
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}
