package audio

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// normalizeEpsilon keeps near-silent waveforms numerically stable
const normalizeEpsilon = 1e-7

// Normalize rescales a waveform to zero mean and unit variance, the input
// statistics the encoder was pretrained with.
func Normalize(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	mean, variance := stat.PopMeanVariance(x, nil)
	scale := 1.0 / math.Sqrt(variance+normalizeEpsilon)

	out := make([]float32, len(samples))
	for i := range out {
		out[i] = float32((x[i] - mean) * scale)
	}
	return out
}
