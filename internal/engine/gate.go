package engine

import (
	"math"

	"github.com/twinscribe/twinscribe/internal/audio"
)

// gateChunkSamples is the slice size the gate scores. 512 samples is 32 ms
// at 16 kHz, short enough to catch a single word inside a quiet window.
const gateChunkSamples = 512

// EnergyGate flags a window as speech when any slice of it exceeds an RMS
// amplitude threshold. It errs toward letting audio through: a borderline
// window costs one wasted inference, a dropped one loses words.
type EnergyGate struct {
	threshold float64
}

// NewEnergyGate builds a gate with the given RMS threshold in (0, 1).
func NewEnergyGate(threshold float64) *EnergyGate {
	return &EnergyGate{threshold: threshold}
}

// SpeechLikely implements Gate. The scan short-circuits on the first slice
// above the threshold.
func (g *EnergyGate) SpeechLikely(window audio.Window) (bool, error) {
	samples := window.Samples
	for start := 0; start < len(samples); start += gateChunkSamples {
		end := start + gateChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		if rms(samples[start:end]) >= g.threshold {
			return true, nil
		}
	}
	return false, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
